package laborder

import (
	"context"

	"github.com/google/uuid"
)

type OrderRepository interface {
	Create(ctx context.Context, o *LabOrder) error
	GetByID(ctx context.Context, id uuid.UUID) (*LabOrder, error)
	GetByOrderNo(ctx context.Context, orderNo string) (*LabOrder, error)
	GetBySampleBarcode(ctx context.Context, barcode string) (*LabOrder, error)
	Update(ctx context.Context, o *LabOrder) error
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*LabOrder, int, error)
}

type ItemRepository interface {
	Create(ctx context.Context, it *LabOrderItem) error
	GetByID(ctx context.Context, id uuid.UUID) (*LabOrderItem, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*LabOrderItem, error)
	Update(ctx context.Context, it *LabOrderItem) error
}

type RawResultRepository interface {
	Create(ctx context.Context, rr *RawResult) error
	GetByID(ctx context.Context, id uuid.UUID) (*RawResult, error)
	Update(ctx context.Context, rr *RawResult) error
	// List filters by status and analyzer; zero values match everything.
	List(ctx context.Context, status RawResultStatus, analyzerID *uuid.UUID, limit, offset int) ([]*RawResult, int, error)
}

type NoteRepository interface {
	Create(ctx context.Context, n *OrderNote) error
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]*OrderNote, error)
}
