package analyzer

import (
	"context"

	"github.com/google/uuid"
)

type AnalyzerRepository interface {
	Create(ctx context.Context, a *Analyzer) error
	GetByID(ctx context.Context, id uuid.UUID) (*Analyzer, error)
	GetByCode(ctx context.Context, code string) (*Analyzer, error)
	Update(ctx context.Context, a *Analyzer) error
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Analyzer, int, error)
}

type MappingRepository interface {
	Create(ctx context.Context, m *TestMapping) error
	GetByAnalyzerCode(ctx context.Context, analyzerID uuid.UUID, analyzerCode string) (*TestMapping, error)
	ListByAnalyzer(ctx context.Context, analyzerID uuid.UUID) ([]*TestMapping, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

type ConnectionLogRepository interface {
	Create(ctx context.Context, l *ConnectionLog) error
	ListByAnalyzer(ctx context.Context, analyzerID uuid.UUID, limit, offset int) ([]*ConnectionLog, int, error)
}

type WorklistRepository interface {
	Create(ctx context.Context, w *WorklistEntry) error
	ListByAnalyzer(ctx context.Context, analyzerID uuid.UUID, limit, offset int) ([]*WorklistEntry, int, error)
	// MarkAcknowledged advances the analyzer's sent entries to acknowledged.
	MarkAcknowledged(ctx context.Context, analyzerID uuid.UUID) error
	// MarkResultedByOrder advances the order's open entries to resulted.
	MarkResultedByOrder(ctx context.Context, orderID uuid.UUID) error
}
