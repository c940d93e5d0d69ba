package alerting

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AlertFilter narrows alert listings. Zero values match everything; From and
// To bound the alert creation time (inclusive).
type AlertFilter struct {
	Status AlertStatus
	From   *time.Time
	To     *time.Time
}

type AlertRepository interface {
	Create(ctx context.Context, a *CriticalAlert) error
	GetByID(ctx context.Context, id uuid.UUID) (*CriticalAlert, error)
	// FindByItemAndClass returns nil without error when no alert exists.
	FindByItemAndClass(ctx context.Context, itemID uuid.UUID, classification string) (*CriticalAlert, error)
	Update(ctx context.Context, a *CriticalAlert) error
	List(ctx context.Context, filter AlertFilter, limit, offset int) ([]*CriticalAlert, int, error)
}

type DeltaRepository interface {
	// PriorValue returns the most recent numeric result for the patient and
	// test, excluding the given order. Nil when no prior result exists.
	PriorValue(ctx context.Context, patientID, testCode string, excludeOrderID uuid.UUID) (*float64, error)
	// Threshold returns the per-test delta threshold, nil when unset.
	Threshold(ctx context.Context, testCode string) (*float64, error)
	UpsertThreshold(ctx context.Context, t *DeltaThreshold) error
	ListThresholds(ctx context.Context) ([]*DeltaThreshold, error)
}
