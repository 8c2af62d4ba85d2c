package impact

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/org/certrenew/internal/remote"
	"github.com/org/certrenew/pkg/models"
	"github.com/rs/zerolog"
)

// ErrMissingParameters is returned when a live lookup is attempted without
// both a device id and a certificate name. This is a call-site contract
// violation, not a user-facing condition.
var ErrMissingParameters = errors.New("device id and certificate name are required")

// ErrLiveCanceled reports that a live lookup was superseded or canceled.
// It is informational, not a failure: the previously displayed result is
// left untouched.
var ErrLiveCanceled = errors.New("live lookup canceled")

// LiveLookupError wraps a network/timeout/server failure during a live
// query. The prior result remains visible; callers surface this as a
// dismissible warning.
type LiveLookupError struct {
	Err error
}

func (e *LiveLookupError) Error() string {
	return fmt.Sprintf("live lookup failed: %v", e.Err)
}

func (e *LiveLookupError) Unwrap() error {
	return e.Err
}

// Backend is the slice of the fleet-manager client the resolver needs.
type Backend interface {
	CachedImpact(ctx context.Context, deviceID int, certName string) (any, error)
	CertificateUsage(ctx context.Context, certID int) (any, error)
	FetchCacheStatus(ctx context.Context, deviceID int) (*remote.CacheStatus, error)
	LiveImpact(ctx context.Context, deviceID int, certName string, timeout time.Duration) (any, error)
}

// Resolver answers "what uses this certificate?" for one certificate/device
// pairing, preferring the cache with an explicit path to a live on-device
// query. At most one live query is in flight per resolver; starting another
// cancels and supersedes the prior one. Cache and live lookups are not
// serialized against each other.
type Resolver struct {
	backend Backend
	log     zerolog.Logger
	age     *AgeTracker

	mu         sync.Mutex
	current    *models.ImpactPreviewResult
	liveSeq    uint64
	cancelLive context.CancelFunc
}

// NewResolver creates a Resolver. Resolvers are not shared across
// certificate/device pairings.
func NewResolver(backend Backend, log zerolog.Logger) *Resolver {
	return &Resolver{
		backend: backend,
		log:     log,
		age:     NewAgeTracker(),
	}
}

// Age exposes the cache freshness tracker for display.
func (r *Resolver) Age() *AgeTracker {
	return r.age
}

// Current returns the last successfully resolved result, or nil.
func (r *Resolver) Current() *models.ImpactPreviewResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// ResolveFromCache performs the cache-first lookup. A 404/400 from the
// cache-keyed endpoint is a miss, not an error; with a fallback certificate
// id the legacy usage endpoint is tried once. On success the cache-status
// call populates the freshness timestamp best-effort: its failure degrades
// the age label to unknown and never blocks the result.
func (r *Resolver) ResolveFromCache(ctx context.Context, deviceID int, certName string, fallbackCertID *int) (*models.ImpactPreviewResult, error) {
	var payload any
	var err error

	tried := false
	if deviceID != 0 && certName != "" {
		tried = true
		payload, err = r.backend.CachedImpact(ctx, deviceID, certName)
	} else {
		err = remote.ErrCacheMiss
	}

	if errors.Is(err, remote.ErrCacheMiss) && fallbackCertID != nil {
		payload, err = r.backend.CertificateUsage(ctx, *fallbackCertID)
	}
	if err != nil {
		if errors.Is(err, remote.ErrCacheMiss) && !tried {
			err = ErrMissingParameters
		}
		r.log.Debug().Err(err).Int("device_id", deviceID).Str("cert_name", certName).
			Msg("cache resolution failed")
		return &models.ImpactPreviewResult{Source: models.SourceNone, Err: err}, err
	}

	result := &models.ImpactPreviewResult{
		Profiles: Normalize(payload),
		Source:   models.SourceCache,
	}

	if deviceID != 0 {
		if st, serr := r.backend.FetchCacheStatus(ctx, deviceID); serr == nil && !st.LastRefreshed.IsZero() {
			ts := st.LastRefreshed
			result.FetchedAt = &ts
		}
	}
	r.age.Set(result.FetchedAt)

	r.mu.Lock()
	r.current = result
	r.mu.Unlock()
	return result, nil
}

// ResolveLive queries the device directly. Any live lookup already in
// flight on this resolver is canceled first; a superseded lookup's result
// is discarded and never overwrites the current one. A 404 from the device
// is a successful empty result.
func (r *Resolver) ResolveLive(ctx context.Context, deviceID int, certName string, timeout time.Duration) (*models.ImpactPreviewResult, error) {
	if deviceID == 0 || certName == "" {
		return nil, ErrMissingParameters
	}

	r.mu.Lock()
	if r.cancelLive != nil {
		r.cancelLive()
	}
	liveCtx, cancel := context.WithCancel(ctx)
	r.cancelLive = cancel
	r.liveSeq++
	seq := r.liveSeq
	r.mu.Unlock()

	payload, err := r.backend.LiveImpact(liveCtx, deviceID, certName, timeout)

	r.mu.Lock()
	defer r.mu.Unlock()

	if seq != r.liveSeq {
		// A newer lookup started while this one ran; drop the result.
		return nil, ErrLiveCanceled
	}
	r.cancelLive = nil
	cancel()

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, ErrLiveCanceled
		}
		r.log.Warn().Err(err).Int("device_id", deviceID).Str("cert_name", certName).
			Msg("live lookup failed")
		return nil, &LiveLookupError{Err: err}
	}

	result := &models.ImpactPreviewResult{
		Profiles: Normalize(payload),
		Source:   models.SourceLive,
	}
	r.current = result
	r.age.Set(nil)
	return result, nil
}

// CancelLive abandons any in-flight live lookup. Canceling a lookup that
// already completed is a no-op.
func (r *Resolver) CancelLive() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelLive != nil {
		r.cancelLive()
		r.cancelLive = nil
		r.liveSeq++
	}
}

// Close releases the resolver, canceling any outstanding live lookup so no
// late callback writes into torn-down state.
func (r *Resolver) Close() {
	r.CancelLive()
}
