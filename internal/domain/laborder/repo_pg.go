package laborder

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

// =========== Order Repository ===========

type orderRepoPG struct{ pool *pgxpool.Pool }

func NewOrderRepoPG(pool *pgxpool.Pool) OrderRepository { return &orderRepoPG{pool: pool} }

func (r *orderRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const orderCols = `id, order_no, patient_id, sample_barcode, status,
	processing_start, processing_end, approved_by, approved_at,
	created_at, updated_at`

func (r *orderRepoPG) scanOrder(row pgx.Row) (*LabOrder, error) {
	var o LabOrder
	err := row.Scan(&o.ID, &o.OrderNo, &o.PatientID, &o.SampleBarcode, &o.Status,
		&o.ProcessingStart, &o.ProcessingEnd, &o.ApprovedBy, &o.ApprovedAt,
		&o.CreatedAt, &o.UpdatedAt)
	return &o, err
}

func (r *orderRepoPG) Create(ctx context.Context, o *LabOrder) error {
	o.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO lab_orders (id, order_no, patient_id, sample_barcode, status)
		VALUES ($1,$2,$3,$4,$5)`,
		o.ID, o.OrderNo, o.PatientID, o.SampleBarcode, o.Status)
	return err
}

func (r *orderRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*LabOrder, error) {
	return r.scanOrder(r.conn(ctx).QueryRow(ctx, `SELECT `+orderCols+` FROM lab_orders WHERE id = $1`, id))
}

func (r *orderRepoPG) GetByOrderNo(ctx context.Context, orderNo string) (*LabOrder, error) {
	return r.scanOrder(r.conn(ctx).QueryRow(ctx, `SELECT `+orderCols+` FROM lab_orders WHERE order_no = $1`, orderNo))
}

func (r *orderRepoPG) GetBySampleBarcode(ctx context.Context, barcode string) (*LabOrder, error) {
	return r.scanOrder(r.conn(ctx).QueryRow(ctx, `
		SELECT `+orderCols+` FROM lab_orders
		WHERE sample_barcode = $1 AND status NOT IN ('cancelled')
		ORDER BY created_at DESC LIMIT 1`, barcode))
}

func (r *orderRepoPG) Update(ctx context.Context, o *LabOrder) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE lab_orders SET sample_barcode=$2, status=$3,
			processing_start=$4, processing_end=$5, approved_by=$6, approved_at=$7,
			updated_at=NOW()
		WHERE id = $1`,
		o.ID, o.SampleBarcode, o.Status,
		o.ProcessingStart, o.ProcessingEnd, o.ApprovedBy, o.ApprovedAt)
	return err
}

func (r *orderRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*LabOrder, int, error) {
	query := `SELECT ` + orderCols + ` FROM lab_orders WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM lab_orders WHERE 1=1`
	var args []interface{}
	idx := 1

	if p, ok := params["patient"]; ok {
		query += fmt.Sprintf(` AND patient_id = $%d`, idx)
		countQuery += fmt.Sprintf(` AND patient_id = $%d`, idx)
		args = append(args, p)
		idx++
	}
	if p, ok := params["status"]; ok {
		query += fmt.Sprintf(` AND status = $%d`, idx)
		countQuery += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, p)
		idx++
	}
	if p, ok := params["barcode"]; ok {
		query += fmt.Sprintf(` AND sample_barcode = $%d`, idx)
		countQuery += fmt.Sprintf(` AND sample_barcode = $%d`, idx)
		args = append(args, p)
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
	var items []*LabOrder
	for rows.Next() {
		o, err := r.scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, o)
	}
	return items, total, nil
}

// =========== Item Repository ===========

type itemRepoPG struct{ pool *pgxpool.Pool }

func NewItemRepoPG(pool *pgxpool.Pool) ItemRepository { return &itemRepoPG{pool: pool} }

func (r *itemRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const itemCols = `id, order_id, test_code, test_name, sample_type,
	value, units, reference_range, ref_low, ref_high, crit_low, crit_high,
	abnormal_flag, status, classification, delta_flag, delta_percent,
	analyzer_id, resulted_at, created_at, updated_at`

func (r *itemRepoPG) scanItem(row pgx.Row) (*LabOrderItem, error) {
	var it LabOrderItem
	err := row.Scan(&it.ID, &it.OrderID, &it.TestCode, &it.TestName, &it.SampleType,
		&it.Value, &it.Units, &it.ReferenceRange, &it.RefLow, &it.RefHigh, &it.CritLow, &it.CritHigh,
		&it.AbnormalFlag, &it.Status, &it.Classification, &it.DeltaFlag, &it.DeltaPercent,
		&it.AnalyzerID, &it.ResultedAt, &it.CreatedAt, &it.UpdatedAt)
	return &it, err
}

func (r *itemRepoPG) Create(ctx context.Context, it *LabOrderItem) error {
	it.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO lab_order_items (id, order_id, test_code, test_name, sample_type,
			ref_low, ref_high, crit_low, crit_high, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		it.ID, it.OrderID, it.TestCode, it.TestName, it.SampleType,
		it.RefLow, it.RefHigh, it.CritLow, it.CritHigh, it.Status)
	return err
}

func (r *itemRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*LabOrderItem, error) {
	return r.scanItem(r.conn(ctx).QueryRow(ctx, `SELECT `+itemCols+` FROM lab_order_items WHERE id = $1`, id))
}

func (r *itemRepoPG) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*LabOrderItem, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+itemCols+` FROM lab_order_items WHERE order_id = $1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*LabOrderItem
	for rows.Next() {
		it, err := r.scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, nil
}

func (r *itemRepoPG) Update(ctx context.Context, it *LabOrderItem) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE lab_order_items SET value=$2, units=$3, reference_range=$4,
			abnormal_flag=$5, status=$6, classification=$7,
			delta_flag=$8, delta_percent=$9, analyzer_id=$10, resulted_at=$11,
			updated_at=NOW()
		WHERE id = $1`,
		it.ID, it.Value, it.Units, it.ReferenceRange,
		it.AbnormalFlag, it.Status, it.Classification,
		it.DeltaFlag, it.DeltaPercent, it.AnalyzerID, it.ResultedAt)
	return err
}

// =========== RawResult Repository ===========

type rawResultRepoPG struct{ pool *pgxpool.Pool }

func NewRawResultRepoPG(pool *pgxpool.Pool) RawResultRepository { return &rawResultRepoPG{pool: pool} }

func (r *rawResultRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const rawCols = `id, analyzer_id, sample_barcode, test_code, test_name,
	value, units, reference_range, abnormal_flag, observed_at,
	status, mapped_item_id, received_at`

func (r *rawResultRepoPG) scanRaw(row pgx.Row) (*RawResult, error) {
	var rr RawResult
	err := row.Scan(&rr.ID, &rr.AnalyzerID, &rr.SampleBarcode, &rr.TestCode, &rr.TestName,
		&rr.Value, &rr.Units, &rr.ReferenceRange, &rr.AbnormalFlag, &rr.ObservedAt,
		&rr.Status, &rr.MappedItemID, &rr.ReceivedAt)
	return &rr, err
}

func (r *rawResultRepoPG) Create(ctx context.Context, rr *RawResult) error {
	rr.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO raw_results (id, analyzer_id, sample_barcode, test_code, test_name,
			value, units, reference_range, abnormal_flag, observed_at, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		rr.ID, rr.AnalyzerID, rr.SampleBarcode, rr.TestCode, rr.TestName,
		rr.Value, rr.Units, rr.ReferenceRange, rr.AbnormalFlag, rr.ObservedAt, rr.Status)
	return err
}

func (r *rawResultRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*RawResult, error) {
	return r.scanRaw(r.conn(ctx).QueryRow(ctx, `SELECT `+rawCols+` FROM raw_results WHERE id = $1`, id))
}

func (r *rawResultRepoPG) Update(ctx context.Context, rr *RawResult) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE raw_results SET status=$2, mapped_item_id=$3 WHERE id = $1`,
		rr.ID, rr.Status, rr.MappedItemID)
	return err
}

func (r *rawResultRepoPG) List(ctx context.Context, status RawResultStatus, analyzerID *uuid.UUID, limit, offset int) ([]*RawResult, int, error) {
	query := `SELECT ` + rawCols + ` FROM raw_results WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM raw_results WHERE 1=1`
	var args []interface{}
	idx := 1

	if status != "" {
		query += fmt.Sprintf(` AND status = $%d`, idx)
		countQuery += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, status)
		idx++
	}
	if analyzerID != nil {
		query += fmt.Sprintf(` AND analyzer_id = $%d`, idx)
		countQuery += fmt.Sprintf(` AND analyzer_id = $%d`, idx)
		args = append(args, *analyzerID)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY received_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*RawResult
	for rows.Next() {
		rr, err := r.scanRaw(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, rr)
	}
	return items, total, nil
}

// =========== Note Repository ===========

type noteRepoPG struct{ pool *pgxpool.Pool }

func NewNoteRepoPG(pool *pgxpool.Pool) NoteRepository { return &noteRepoPG{pool: pool} }

func (r *noteRepoPG) conn(ctx context.Context) queryable {
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *noteRepoPG) Create(ctx context.Context, n *OrderNote) error {
	n.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO order_notes (id, order_id, item_id, event, note)
		VALUES ($1,$2,$3,$4,$5)`,
		n.ID, n.OrderID, n.ItemID, n.Event, n.Note)
	return err
}

func (r *noteRepoPG) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*OrderNote, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, order_id, item_id, event, note, created_at
		FROM order_notes WHERE order_id = $1
		ORDER BY created_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var notes []*OrderNote
	for rows.Next() {
		var n OrderNote
		if err := rows.Scan(&n.ID, &n.OrderID, &n.ItemID, &n.Event, &n.Note, &n.CreatedAt); err != nil {
			return nil, err
		}
		notes = append(notes, &n)
	}
	return notes, nil
}
