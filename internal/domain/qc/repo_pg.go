package qc

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/his/lis/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== Lot Repository ===========

type lotRepoPG struct{ pool *pgxpool.Pool }

func NewLotRepoPG(pool *pgxpool.Pool) LotRepository { return &lotRepoPG{pool: pool} }

func (r *lotRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const lotCols = `id, analyzer_id, test_code, lot_no, level, mean, sd, active, created_at`

func (r *lotRepoPG) scanLot(row pgx.Row) (*QCLot, error) {
	var l QCLot
	err := row.Scan(&l.ID, &l.AnalyzerID, &l.TestCode, &l.LotNo, &l.Level,
		&l.Mean, &l.SD, &l.Active, &l.CreatedAt)
	return &l, err
}

func (r *lotRepoPG) Create(ctx context.Context, lot *QCLot) error {
	lot.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO qc_lots (id, analyzer_id, test_code, lot_no, level, mean, sd, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		lot.ID, lot.AnalyzerID, lot.TestCode, lot.LotNo, lot.Level,
		lot.Mean, lot.SD, lot.Active)
	return err
}

func (r *lotRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*QCLot, error) {
	return r.scanLot(r.conn(ctx).QueryRow(ctx, `SELECT `+lotCols+` FROM qc_lots WHERE id = $1`, id))
}

func (r *lotRepoPG) Update(ctx context.Context, lot *QCLot) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE qc_lots SET lot_no=$2, level=$3, mean=$4, sd=$5, active=$6 WHERE id = $1`,
		lot.ID, lot.LotNo, lot.Level, lot.Mean, lot.SD, lot.Active)
	return err
}

func (r *lotRepoPG) List(ctx context.Context, analyzerID *uuid.UUID, activeOnly bool, limit, offset int) ([]*QCLot, int, error) {
	query := `SELECT ` + lotCols + ` FROM qc_lots WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM qc_lots WHERE 1=1`
	var args []interface{}
	idx := 1

	if analyzerID != nil {
		query += fmt.Sprintf(` AND analyzer_id = $%d`, idx)
		countQuery += fmt.Sprintf(` AND analyzer_id = $%d`, idx)
		args = append(args, *analyzerID)
		idx++
	}
	if activeOnly {
		query += ` AND active = true`
		countQuery += ` AND active = true`
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var lots []*QCLot
	for rows.Next() {
		l, err := r.scanLot(rows)
		if err != nil {
			return nil, 0, err
		}
		lots = append(lots, l)
	}
	return lots, total, nil
}

// =========== Result Repository ===========

type resultRepoPG struct{ pool *pgxpool.Pool }

func NewResultRepoPG(pool *pgxpool.Pool) ResultRepository { return &resultRepoPG{pool: pool} }

func (r *resultRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *resultRepoPG) Create(ctx context.Context, res *QCResult) error {
	res.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO qc_results (id, lot_id, value, z, status, rule, run_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		res.ID, res.LotID, res.Value, res.Z, res.Status, res.Rule, res.RunAt)
	return err
}

func (r *resultRepoPG) ListByLot(ctx context.Context, lotID uuid.UUID) ([]*QCResult, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, lot_id, value, z, status, rule, run_at
		FROM qc_results WHERE lot_id = $1 ORDER BY run_at ASC`, lotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var results []*QCResult
	for rows.Next() {
		var res QCResult
		if err := rows.Scan(&res.ID, &res.LotID, &res.Value, &res.Z, &res.Status, &res.Rule, &res.RunAt); err != nil {
			return nil, err
		}
		results = append(results, &res)
	}
	return results, nil
}
