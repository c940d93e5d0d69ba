package analyzer

import (
	"context"

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

// =========== Analyzer Repository ===========

type analyzerRepoPG struct{ pool *pgxpool.Pool }

func NewAnalyzerRepoPG(pool *pgxpool.Pool) AnalyzerRepository { return &analyzerRepoPG{pool: pool} }

func (r *analyzerRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const analyzerCols = `id, code, name, model, protocol, mode,
	host, port, serial_port, baud_rate, active, created_at, updated_at`

func (r *analyzerRepoPG) scanAnalyzer(row pgx.Row) (*Analyzer, error) {
	var a Analyzer
	err := row.Scan(&a.ID, &a.Code, &a.Name, &a.Model, &a.Protocol, &a.Mode,
		&a.Host, &a.Port, &a.SerialPort, &a.BaudRate, &a.Active, &a.CreatedAt, &a.UpdatedAt)
	return &a, err
}

func (r *analyzerRepoPG) Create(ctx context.Context, a *Analyzer) error {
	a.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO analyzers (id, code, name, model, protocol, mode,
			host, port, serial_port, baud_rate, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		a.ID, a.Code, a.Name, a.Model, a.Protocol, a.Mode,
		a.Host, a.Port, a.SerialPort, a.BaudRate, a.Active)
	return err
}

func (r *analyzerRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Analyzer, error) {
	return r.scanAnalyzer(r.conn(ctx).QueryRow(ctx, `SELECT `+analyzerCols+` FROM analyzers WHERE id = $1`, id))
}

func (r *analyzerRepoPG) GetByCode(ctx context.Context, code string) (*Analyzer, error) {
	return r.scanAnalyzer(r.conn(ctx).QueryRow(ctx, `SELECT `+analyzerCols+` FROM analyzers WHERE code = $1`, code))
}

func (r *analyzerRepoPG) Update(ctx context.Context, a *Analyzer) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE analyzers SET name=$2, model=$3, protocol=$4, mode=$5,
			host=$6, port=$7, serial_port=$8, baud_rate=$9, active=$10,
			updated_at=NOW()
		WHERE id = $1`,
		a.ID, a.Name, a.Model, a.Protocol, a.Mode,
		a.Host, a.Port, a.SerialPort, a.BaudRate, a.Active)
	return err
}

func (r *analyzerRepoPG) List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Analyzer, int, error) {
	query := `SELECT ` + analyzerCols + ` FROM analyzers WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM analyzers WHERE 1=1`
	if activeOnly {
		query += ` AND active`
		countQuery += ` AND active`
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += ` ORDER BY code LIMIT $1 OFFSET $2`
	rows, err := r.conn(ctx).Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Analyzer
	for rows.Next() {
		a, err := r.scanAnalyzer(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, nil
}

// =========== Mapping Repository ===========

type mappingRepoPG struct{ pool *pgxpool.Pool }

func NewMappingRepoPG(pool *pgxpool.Pool) MappingRepository { return &mappingRepoPG{pool: pool} }

func (r *mappingRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const mappingCols = `id, analyzer_id, analyzer_code, test_code, sample_type, conversion_factor, created_at`

func (r *mappingRepoPG) scanMapping(row pgx.Row) (*TestMapping, error) {
	var m TestMapping
	err := row.Scan(&m.ID, &m.AnalyzerID, &m.AnalyzerCode, &m.TestCode,
		&m.SampleType, &m.ConversionFactor, &m.CreatedAt)
	return &m, err
}

func (r *mappingRepoPG) Create(ctx context.Context, m *TestMapping) error {
	m.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO analyzer_test_mappings (id, analyzer_id, analyzer_code, test_code, sample_type, conversion_factor)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		m.ID, m.AnalyzerID, m.AnalyzerCode, m.TestCode, m.SampleType, m.ConversionFactor)
	return err
}

func (r *mappingRepoPG) GetByAnalyzerCode(ctx context.Context, analyzerID uuid.UUID, analyzerCode string) (*TestMapping, error) {
	return r.scanMapping(r.conn(ctx).QueryRow(ctx, `
		SELECT `+mappingCols+` FROM analyzer_test_mappings
		WHERE analyzer_id = $1 AND analyzer_code = $2`, analyzerID, analyzerCode))
}

func (r *mappingRepoPG) ListByAnalyzer(ctx context.Context, analyzerID uuid.UUID) ([]*TestMapping, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+mappingCols+` FROM analyzer_test_mappings
		WHERE analyzer_id = $1 ORDER BY analyzer_code`, analyzerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*TestMapping
	for rows.Next() {
		m, err := r.scanMapping(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, nil
}

func (r *mappingRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM analyzer_test_mappings WHERE id = $1`, id)
	return err
}

// =========== ConnectionLog Repository ===========

type connectionLogRepoPG struct{ pool *pgxpool.Pool }

func NewConnectionLogRepoPG(pool *pgxpool.Pool) ConnectionLogRepository {
	return &connectionLogRepoPG{pool: pool}
}

func (r *connectionLogRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *connectionLogRepoPG) Create(ctx context.Context, l *ConnectionLog) error {
	l.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO connection_logs (id, analyzer_id, event, detail, at)
		VALUES ($1,$2,$3,$4,$5)`,
		l.ID, l.AnalyzerID, l.Event, l.Detail, l.At)
	return err
}

func (r *connectionLogRepoPG) ListByAnalyzer(ctx context.Context, analyzerID uuid.UUID, limit, offset int) ([]*ConnectionLog, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM connection_logs WHERE analyzer_id = $1`, analyzerID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, analyzer_id, event, detail, at FROM connection_logs
		WHERE analyzer_id = $1 ORDER BY at DESC LIMIT $2 OFFSET $3`, analyzerID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*ConnectionLog
	for rows.Next() {
		var l ConnectionLog
		if err := rows.Scan(&l.ID, &l.AnalyzerID, &l.Event, &l.Detail, &l.At); err != nil {
			return nil, 0, err
		}
		items = append(items, &l)
	}
	return items, total, nil
}

// =========== Worklist Repository ===========

type worklistRepoPG struct{ pool *pgxpool.Pool }

func NewWorklistRepoPG(pool *pgxpool.Pool) WorklistRepository { return &worklistRepoPG{pool: pool} }

func (r *worklistRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *worklistRepoPG) Create(ctx context.Context, w *WorklistEntry) error {
	w.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO worklist_entries (id, analyzer_id, order_id, sample_barcode, status, sent_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		w.ID, w.AnalyzerID, w.OrderID, w.SampleBarcode, w.Status, w.SentAt)
	return err
}

func (r *worklistRepoPG) ListByAnalyzer(ctx context.Context, analyzerID uuid.UUID, limit, offset int) ([]*WorklistEntry, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM worklist_entries WHERE analyzer_id = $1`, analyzerID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, analyzer_id, order_id, sample_barcode, status, sent_at FROM worklist_entries
		WHERE analyzer_id = $1 ORDER BY sent_at DESC LIMIT $2 OFFSET $3`, analyzerID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*WorklistEntry
	for rows.Next() {
		var w WorklistEntry
		if err := rows.Scan(&w.ID, &w.AnalyzerID, &w.OrderID, &w.SampleBarcode, &w.Status, &w.SentAt); err != nil {
			return nil, 0, err
		}
		items = append(items, &w)
	}
	return items, total, nil
}

func (r *worklistRepoPG) MarkAcknowledged(ctx context.Context, analyzerID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE worklist_entries SET status = $2
		WHERE analyzer_id = $1 AND status = $3`,
		analyzerID, WorklistAcknowledged, WorklistSent)
	return err
}

func (r *worklistRepoPG) MarkResultedByOrder(ctx context.Context, orderID uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE worklist_entries SET status = $2
		WHERE order_id = $1 AND status <> $2`,
		orderID, WorklistResulted)
	return err
}
