package alerting

import (
	"context"
	"errors"
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

// =========== Alert Repository ===========

type alertRepoPG struct{ pool *pgxpool.Pool }

func NewAlertRepoPG(pool *pgxpool.Pool) AlertRepository { return &alertRepoPG{pool: pool} }

func (r *alertRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const alertCols = `id, order_id, order_item_id, patient_id, test_code, value,
	classification, status, ack_by, ack_at, created_at`

func (r *alertRepoPG) scanAlert(row pgx.Row) (*CriticalAlert, error) {
	var a CriticalAlert
	err := row.Scan(&a.ID, &a.OrderID, &a.OrderItemID, &a.PatientID, &a.TestCode, &a.Value,
		&a.Classification, &a.Status, &a.AckBy, &a.AckAt, &a.CreatedAt)
	return &a, err
}

func (r *alertRepoPG) Create(ctx context.Context, a *CriticalAlert) error {
	a.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO critical_alerts (id, order_id, order_item_id, patient_id, test_code, value,
			classification, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		a.ID, a.OrderID, a.OrderItemID, a.PatientID, a.TestCode, a.Value,
		a.Classification, a.Status)
	return err
}

func (r *alertRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*CriticalAlert, error) {
	return r.scanAlert(r.conn(ctx).QueryRow(ctx, `SELECT `+alertCols+` FROM critical_alerts WHERE id = $1`, id))
}

func (r *alertRepoPG) FindByItemAndClass(ctx context.Context, itemID uuid.UUID, classification string) (*CriticalAlert, error) {
	a, err := r.scanAlert(r.conn(ctx).QueryRow(ctx, `
		SELECT `+alertCols+` FROM critical_alerts
		WHERE order_item_id = $1 AND classification = $2`, itemID, classification))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return a, err
}

func (r *alertRepoPG) Update(ctx context.Context, a *CriticalAlert) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE critical_alerts SET status=$2, ack_by=$3, ack_at=$4 WHERE id = $1`,
		a.ID, a.Status, a.AckBy, a.AckAt)
	return err
}

func (r *alertRepoPG) List(ctx context.Context, filter AlertFilter, limit, offset int) ([]*CriticalAlert, int, error) {
	query := `SELECT ` + alertCols + ` FROM critical_alerts WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM critical_alerts WHERE 1=1`
	var args []interface{}
	idx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, idx)
		countQuery += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, filter.Status)
		idx++
	}
	if filter.From != nil {
		query += fmt.Sprintf(` AND created_at >= $%d`, idx)
		countQuery += fmt.Sprintf(` AND created_at >= $%d`, idx)
		args = append(args, *filter.From)
		idx++
	}
	if filter.To != nil {
		query += fmt.Sprintf(` AND created_at <= $%d`, idx)
		countQuery += fmt.Sprintf(` AND created_at <= $%d`, idx)
		args = append(args, *filter.To)
		idx++
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
	var items []*CriticalAlert
	for rows.Next() {
		a, err := r.scanAlert(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, nil
}

// =========== Delta Repository ===========

type deltaRepoPG struct{ pool *pgxpool.Pool }

func NewDeltaRepoPG(pool *pgxpool.Pool) DeltaRepository { return &deltaRepoPG{pool: pool} }

func (r *deltaRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

// PriorValue reads the latest numeric result for the patient and test from
// the order items, skipping the order being resulted right now.
func (r *deltaRepoPG) PriorValue(ctx context.Context, patientID, testCode string, excludeOrderID uuid.UUID) (*float64, error) {
	var v float64
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT i.value::float8
		FROM lab_order_items i
		JOIN lab_orders o ON o.id = i.order_id
		WHERE o.patient_id = $1
		  AND i.test_code = $2
		  AND i.order_id <> $3
		  AND i.status IN ('resulted', 'approved')
		  AND i.value ~ '^-?[0-9]+(\.[0-9]+)?$'
		ORDER BY i.resulted_at DESC NULLS LAST
		LIMIT 1`, patientID, testCode, excludeOrderID).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *deltaRepoPG) Threshold(ctx context.Context, testCode string) (*float64, error) {
	var p float64
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT percent FROM delta_thresholds WHERE test_code = $1`, testCode).Scan(&p)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *deltaRepoPG) UpsertThreshold(ctx context.Context, t *DeltaThreshold) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO delta_thresholds (test_code, percent)
		VALUES ($1, $2)
		ON CONFLICT (test_code) DO UPDATE SET percent = EXCLUDED.percent`,
		t.TestCode, t.Percent)
	return err
}

func (r *deltaRepoPG) ListThresholds(ctx context.Context) ([]*DeltaThreshold, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT test_code, percent FROM delta_thresholds ORDER BY test_code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*DeltaThreshold
	for rows.Next() {
		var t DeltaThreshold
		if err := rows.Scan(&t.TestCode, &t.Percent); err != nil {
			return nil, err
		}
		items = append(items, &t)
	}
	return items, nil
}
