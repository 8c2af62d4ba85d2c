package renewal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/org/certrenew/internal/impact"
	"github.com/org/certrenew/internal/remote"
	"github.com/org/certrenew/pkg/models"
	"github.com/rs/zerolog"
)

// ErrWizardClosed is returned by every operation after Close.
var ErrWizardClosed = errors.New("wizard is closed")

// Step is the wizard's position. Steps are strictly linear; skipping
// forward is not possible.
type Step int

const (
	StepImpactPreview Step = iota
	StepUpload
	StepConfirm
)

func (s Step) String() string {
	switch s {
	case StepImpactPreview:
		return "impact-preview"
	case StepUpload:
		return "upload"
	case StepConfirm:
		return "confirm"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// Deployer is the slice of the fleet-manager client the wizard needs for
// step 2.
type Deployer interface {
	UploadPfx(ctx context.Context, filename string, content []byte, password string) (*remote.UploadResponse, error)
	ValidateDeployment(ctx context.Context, req remote.DeploymentRequest) error
	PlanDeployment(ctx context.Context, req remote.DeploymentRequest) (*remote.DeploymentPlan, error)
	ExecuteDeployment(ctx context.Context, req remote.DeploymentRequest) (*models.BatchDeployRun, error)
	Verify(ctx context.Context, deviceID int, certName string) (*models.VerifyResult, error)
}

// Config identifies the certificate being renewed and tunes the wizard.
type Config struct {
	DeviceID      int
	CertName      string
	CertificateID *int // legacy usage fallback and renewal link

	// AutoLive runs a live lookup on start. Off by default so opening the
	// wizard never puts surprise load on a production device.
	AutoLive    bool
	LiveTimeout time.Duration
}

// Wizard is the three-step renewal flow: ImpactPreview, Upload, Confirm.
// All state is in-memory only and evaporates on Close; nothing survives
// across wizard sessions.
type Wizard struct {
	cfg       Config
	resolver  *impact.Resolver
	validator UploadValidator
	deployer  Deployer
	log       zerolog.Logger

	mu     sync.Mutex
	step   Step
	upload *ValidatedUpload
	closed bool
}

// NewWizard creates a Wizard at the impact-preview step.
func NewWizard(cfg Config, resolver *impact.Resolver, validator UploadValidator, deployer Deployer, log zerolog.Logger) *Wizard {
	if cfg.LiveTimeout == 0 {
		cfg.LiveTimeout = 30 * time.Second
	}
	return &Wizard{
		cfg:       cfg,
		resolver:  resolver,
		validator: validator,
		deployer:  deployer,
		log:       log,
	}
}

// Step returns the current step.
func (w *Wizard) Step() Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.step
}

// Start runs the automatic cache-first impact resolution for step 0. With
// AutoLive configured it follows up with a live lookup; otherwise live
// refresh only ever happens on explicit user action.
func (w *Wizard) Start(ctx context.Context) (*models.ImpactPreviewResult, error) {
	if err := w.ensureOpen(); err != nil {
		return nil, err
	}

	result, err := w.resolver.ResolveFromCache(ctx, w.cfg.DeviceID, w.cfg.CertName, w.cfg.CertificateID)
	if err != nil {
		w.log.Debug().Err(err).Msg("cache preview unavailable")
	}

	if w.cfg.AutoLive {
		if live, lerr := w.resolver.ResolveLive(ctx, w.cfg.DeviceID, w.cfg.CertName, w.cfg.LiveTimeout); lerr == nil {
			return live, nil
		}
	}
	return result, err
}

// RefreshLive runs a user-triggered live lookup. Superseding an in-flight
// lookup is handled by the resolver; a canceled lookup is not an error.
func (w *Wizard) RefreshLive(ctx context.Context) (*models.ImpactPreviewResult, error) {
	if err := w.ensureOpen(); err != nil {
		return nil, err
	}
	return w.resolver.ResolveLive(ctx, w.cfg.DeviceID, w.cfg.CertName, w.cfg.LiveTimeout)
}

// Preview returns the current impact result, whatever its source.
func (w *Wizard) Preview() *models.ImpactPreviewResult {
	return w.resolver.Current()
}

// SetUpload validates and stores the certificate upload for step 1.
// Validation is delegated entirely to the validator.
func (w *Wizard) SetUpload(filename string, content []byte, password string) (*ValidatedUpload, error) {
	if err := w.ensureOpen(); err != nil {
		return nil, err
	}
	validated, err := w.validator.Validate(filename, content, password)
	if err != nil {
		return nil, err
	}
	w.mu.Lock()
	w.upload = validated
	w.mu.Unlock()
	return validated, nil
}

// Advance moves one step forward. Moving past the upload step requires a
// validated upload.
func (w *Wizard) Advance() (Step, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return w.step, ErrWizardClosed
	}
	switch w.step {
	case StepImpactPreview:
		w.step = StepUpload
	case StepUpload:
		if w.upload == nil {
			return w.step, &models.ValidationError{Msg: "a validated certificate upload is required"}
		}
		w.step = StepConfirm
	case StepConfirm:
		return w.step, &models.ValidationError{Msg: "already at the final step"}
	}
	return w.step, nil
}

// Back moves one step backward. The stored upload survives going back.
func (w *Wizard) Back() (Step, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return w.step, ErrWizardClosed
	}
	if w.step > StepImpactPreview {
		w.step--
	}
	return w.step, nil
}

// Confirm executes the deployment at step 2: the upload goes to the server,
// the deployment is validated and then executed against the given devices.
// The returned run is non-terminal when the server queues the work.
func (w *Wizard) Confirm(ctx context.Context, deviceIDs []int) (*models.BatchDeployRun, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, ErrWizardClosed
	}
	if w.step != StepConfirm {
		w.mu.Unlock()
		return nil, &models.ValidationError{Msg: fmt.Sprintf("confirm is not available at step %s", w.step)}
	}
	upload := w.upload
	w.mu.Unlock()

	if len(deviceIDs) == 0 {
		deviceIDs = []int{w.cfg.DeviceID}
	}

	uploaded, err := w.deployer.UploadPfx(ctx, upload.Filename, upload.Content, upload.Password)
	if err != nil {
		return nil, fmt.Errorf("uploading certificate: %w", err)
	}

	req := remote.DeploymentRequest{
		PfxFilename: uploaded.PfxFilename,
		PfxPassword: upload.Password,
		DeviceIDs:   deviceIDs,
		CertName:    w.cfg.CertName,
	}
	if w.cfg.CertificateID != nil {
		req.CertificateID = *w.cfg.CertificateID
	}

	if err := w.deployer.ValidateDeployment(ctx, req); err != nil {
		return nil, fmt.Errorf("validating deployment: %w", err)
	}

	plan, err := w.deployer.PlanDeployment(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("planning deployment: %w", err)
	}
	for _, warning := range plan.Warnings {
		w.log.Warn().Str("plan_id", plan.PlanID).Str("warning", warning).
			Msg("deployment plan warning")
	}

	run, err := w.deployer.ExecuteDeployment(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("executing deployment: %w", err)
	}

	w.log.Info().Str("batch_id", run.BatchID).Ints("devices", deviceIDs).
		Msg("deployment submitted")
	return run, nil
}

// VerifyNow checks the certificate installed on the device and returns a
// notification message. It never changes the wizard step and never blocks
// advancement.
func (w *Wizard) VerifyNow(ctx context.Context) (string, error) {
	if err := w.ensureOpen(); err != nil {
		return "", err
	}
	res, err := w.deployer.Verify(ctx, w.cfg.DeviceID, w.cfg.CertName)
	if err != nil {
		return "", fmt.Errorf("verifying installed certificate: %w", err)
	}
	if !res.OK {
		return fmt.Sprintf("verification failed: %s", res.Error), nil
	}
	return "certificate verified on device", nil
}

// Close discards all in-memory state and cancels any outstanding live
// lookup. The wizard cannot be reused afterwards.
func (w *Wizard) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	if w.upload != nil {
		w.upload.Wipe()
		w.upload = nil
	}
	w.resolver.Close()
}

func (w *Wizard) ensureOpen() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWizardClosed
	}
	return nil
}
