package qc

import (
	"context"

	"github.com/google/uuid"
)

type LotRepository interface {
	Create(ctx context.Context, lot *QCLot) error
	GetByID(ctx context.Context, id uuid.UUID) (*QCLot, error)
	Update(ctx context.Context, lot *QCLot) error
	List(ctx context.Context, analyzerID *uuid.UUID, activeOnly bool, limit, offset int) ([]*QCLot, int, error)
}

type ResultRepository interface {
	Create(ctx context.Context, res *QCResult) error
	// ListByLot returns the lot's runs in chronological order.
	ListByLot(ctx context.Context, lotID uuid.UUID) ([]*QCResult, error)
}
