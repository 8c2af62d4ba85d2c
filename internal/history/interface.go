package history

import (
	"context"
	"errors"

	"github.com/org/certrenew/pkg/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// EventFilter specifies query parameters for event retrieval.
type EventFilter struct {
	Kind      models.EventKind
	RequestID *int
	Limit     int
	Offset    int
}

// Store persists renewal-lifecycle audit records. Implementations must
// never be handed key material or PEM data; events are metadata only.
type Store interface {
	RecordEvent(ctx context.Context, event *models.RenewalEvent) error
	QueryEvents(ctx context.Context, filter EventFilter) ([]*models.RenewalEvent, error)

	RecordDeployRun(ctx context.Context, run *models.BatchDeployRun) error
	GetDeployRun(ctx context.Context, batchID string) (*models.BatchDeployRun, error)
	ListDeployRuns(ctx context.Context, limit, offset int) ([]*models.BatchDeployRun, error)

	// Metrics helpers
	CountEvents(ctx context.Context) (int64, error)
	CountDeployRuns(ctx context.Context) (int64, error)

	Close()
}
