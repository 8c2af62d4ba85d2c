package deploy

import (
	"context"
	"fmt"
	"time"

	"github.com/org/certrenew/internal/remote"
	"github.com/org/certrenew/pkg/models"
	"github.com/rs/zerolog"
)

// DefaultPollInterval is how often a non-terminal run is re-checked.
const DefaultPollInterval = 2 * time.Second

// Backend is the slice of the fleet-manager client the poller needs.
type Backend interface {
	StartBatchDeploy(ctx context.Context, req remote.DeploymentRequest) (*models.BatchDeployRun, error)
	BatchDeployStatus(ctx context.Context, batchID string) (*models.BatchDeployRun, error)
}

// Poller submits batch deploys and follows them to a terminal state. Polls
// are strictly sequential: a new status request is never issued before the
// previous one returns.
type Poller struct {
	backend  Backend
	log      zerolog.Logger
	interval time.Duration
}

// NewPoller creates a Poller with the default interval.
func NewPoller(backend Backend, log zerolog.Logger) *Poller {
	return &Poller{backend: backend, log: log, interval: DefaultPollInterval}
}

// Submit starts a batch deploy and, when the returned status is not yet
// terminal, polls until it is. onUpdate receives every observed state,
// each one replacing the previous wholesale.
func (p *Poller) Submit(ctx context.Context, req remote.DeploymentRequest, onUpdate func(*models.BatchDeployRun)) (*models.BatchDeployRun, error) {
	run, err := p.backend.StartBatchDeploy(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("starting batch deploy: %w", err)
	}
	p.log.Info().Str("batch_id", run.BatchID).Int("devices", run.TotalDevices).
		Str("status", string(run.Status)).Msg("batch deploy submitted")

	if onUpdate != nil {
		onUpdate(run)
	}
	if run.Status.Terminal() {
		return run, nil
	}
	return p.Watch(ctx, run.BatchID, onUpdate)
}

// Watch polls an existing run until it reaches a terminal state. Polling
// stops the moment a terminal status is observed and never resumes. The
// server aggregates per-device results; nothing is merged client-side.
func (p *Poller) Watch(ctx context.Context, batchID string, onUpdate func(*models.BatchDeployRun)) (*models.BatchDeployRun, error) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		run, err := p.backend.BatchDeployStatus(ctx, batchID)
		if err != nil {
			return nil, fmt.Errorf("polling batch %s: %w", batchID, err)
		}
		if onUpdate != nil {
			onUpdate(run)
		}
		if run.Status.Terminal() {
			p.log.Info().Str("batch_id", batchID).Str("status", string(run.Status)).
				Int("completed", run.Completed).Int("failed", run.Failed).
				Msg("batch deploy finished")
			return run, nil
		}
	}
}
