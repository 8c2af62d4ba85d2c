package deploy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/org/certrenew/internal/remote"
	"github.com/org/certrenew/pkg/models"
	"github.com/rs/zerolog"
)

// fakeBackend serves a scripted sequence of run states, one per status
// poll. The last state repeats if polled again.
type fakeBackend struct {
	startRun  *models.BatchDeployRun
	startErr  error
	states    []*models.BatchDeployRun
	statusErr error

	mu       sync.Mutex
	polls    int
	inFlight int
}

func (f *fakeBackend) StartBatchDeploy(ctx context.Context, req remote.DeploymentRequest) (*models.BatchDeployRun, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	return f.startRun, nil
}

func (f *fakeBackend) BatchDeployStatus(ctx context.Context, batchID string) (*models.BatchDeployRun, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > 1 {
		f.mu.Unlock()
		return nil, errors.New("overlapping status polls")
	}
	idx := f.polls
	f.polls++
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if idx >= len(f.states) {
		idx = len(f.states) - 1
	}
	return f.states[idx], nil
}

func run(status models.DeployStatus, completed, failed int) *models.BatchDeployRun {
	return &models.BatchDeployRun{
		BatchID:      "batch-1",
		Status:       status,
		TotalDevices: 3,
		Completed:    completed,
		Failed:       failed,
		StartedAt:    time.Now(),
	}
}

func newTestPoller(backend Backend) *Poller {
	p := NewPoller(backend, zerolog.Nop())
	p.interval = 5 * time.Millisecond
	return p
}

func TestSubmitPollsUntilTerminal(t *testing.T) {
	backend := &fakeBackend{
		startRun: run(models.DeployPending, 0, 0),
		states: []*models.BatchDeployRun{
			run(models.DeployInProgress, 1, 0),
			run(models.DeployInProgress, 2, 0),
			run(models.DeploySuccess, 3, 0),
		},
	}
	p := newTestPoller(backend)

	var seen []models.DeployStatus
	final, err := p.Submit(context.Background(), remote.DeploymentRequest{DeviceIDs: []int{1, 2, 3}}, func(r *models.BatchDeployRun) {
		seen = append(seen, r.Status)
		if r.Completed+r.Failed > r.TotalDevices {
			t.Errorf("completed+failed exceeds total: %+v", r)
		}
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if final.Status != models.DeploySuccess || final.Completed != 3 {
		t.Errorf("final = %+v", final)
	}
	want := []models.DeployStatus{models.DeployPending, models.DeployInProgress, models.DeployInProgress, models.DeploySuccess}
	if len(seen) != len(want) {
		t.Fatalf("updates = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("update %d = %s, want %s", i, seen[i], want[i])
		}
	}
	if backend.polls != 3 {
		t.Errorf("polls = %d, want 3 (polling must stop at the first terminal state)", backend.polls)
	}
}

func TestSubmitImmediatelyTerminal(t *testing.T) {
	backend := &fakeBackend{startRun: run(models.DeployFailed, 0, 3)}
	p := newTestPoller(backend)

	final, err := p.Submit(context.Background(), remote.DeploymentRequest{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != models.DeployFailed {
		t.Errorf("status = %s", final.Status)
	}
	if backend.polls != 0 {
		t.Errorf("polled a terminal run: %d", backend.polls)
	}
}

func TestWatchStopsAtPartial(t *testing.T) {
	backend := &fakeBackend{
		states: []*models.BatchDeployRun{
			run(models.DeployInProgress, 1, 1),
			run(models.DeployPartial, 2, 1),
		},
	}
	p := newTestPoller(backend)

	final, err := p.Watch(context.Background(), "batch-1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != models.DeployPartial {
		t.Errorf("status = %s, want %s", final.Status, models.DeployPartial)
	}
	if backend.polls != 2 {
		t.Errorf("polls = %d, want 2", backend.polls)
	}
}

func TestWatchCanceled(t *testing.T) {
	backend := &fakeBackend{
		states: []*models.BatchDeployRun{run(models.DeployInProgress, 0, 0)},
	}
	p := newTestPoller(backend)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.Watch(ctx, "batch-1", nil)
		done <- err
	}()
	time.Sleep(15 * time.Millisecond)
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestWatchPollError(t *testing.T) {
	backend := &fakeBackend{statusErr: errors.New("manager unreachable")}
	p := newTestPoller(backend)

	if _, err := p.Watch(context.Background(), "batch-1", nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestSubmitStartError(t *testing.T) {
	backend := &fakeBackend{startErr: errors.New("bad request")}
	p := newTestPoller(backend)

	if _, err := p.Submit(context.Background(), remote.DeploymentRequest{}, nil); err == nil {
		t.Fatal("expected error")
	}
}
