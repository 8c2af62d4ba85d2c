package history

import (
	"context"
	"time"

	"github.com/org/certrenew/pkg/models"
	"github.com/rs/zerolog"
)

// Recorder writes renewal-lifecycle events without letting a history
// failure break the operation being recorded.
type Recorder struct {
	store Store
	log   zerolog.Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(store Store, log zerolog.Logger) *Recorder {
	return &Recorder{store: store, log: log}
}

// Record timestamps and persists an event. Key material and PEM data must
// NEVER be passed here; events are metadata only.
func (r *Recorder) Record(ctx context.Context, event *models.RenewalEvent) {
	event.CreatedAt = time.Now().UTC()
	if err := r.store.RecordEvent(ctx, event); err != nil {
		r.log.Warn().Err(err).Str("kind", string(event.Kind)).Msg("failed to record renewal event")
	}
}

// RecordRun persists the final state of a deploy run and its summary event.
func (r *Recorder) RecordRun(ctx context.Context, run *models.BatchDeployRun) {
	if err := r.store.RecordDeployRun(ctx, run); err != nil {
		r.log.Warn().Err(err).Str("batch_id", run.BatchID).Msg("failed to record deploy run")
		return
	}
	r.Record(ctx, &models.RenewalEvent{
		Kind:    models.EventDeployFinished,
		BatchID: run.BatchID,
		Status:  string(run.Status),
	})
}
