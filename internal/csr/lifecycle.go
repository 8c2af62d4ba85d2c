package csr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/org/certrenew/internal/remote"
	"github.com/org/certrenew/pkg/models"
	"github.com/rs/zerolog"
)

// Backend is the slice of the fleet-manager client the lifecycle needs.
type Backend interface {
	GenerateCSR(ctx context.Context, details models.CSRDetails, linkedCertID *int) (*models.CSRRequest, error)
	InitiateRenewal(ctx context.Context, certID int, details models.CSRDetails) (*models.CSRRequest, error)
	CompleteCSR(ctx context.Context, id int, body remote.CompleteCSRRequest) (*models.CSRRequest, error)
	ListCSRs(ctx context.Context) ([]models.CSRRequest, error)
	GetCSR(ctx context.Context, id int) (*models.CSRRequest, error)
	DeleteCSR(ctx context.Context, id int) error
}

// Lifecycle drives a signing request from generation to completion. The
// server owns every record; this side validates preconditions before
// calling out and reflects whatever state comes back.
type Lifecycle struct {
	backend Backend
	log     zerolog.Logger
}

// NewLifecycle creates a Lifecycle.
func NewLifecycle(backend Backend, log zerolog.Logger) *Lifecycle {
	return &Lifecycle{backend: backend, log: log}
}

// Generate creates a new signing request. The returned KeyPemOnce is the
// only delivery of the private key, ever; it must not be persisted. A
// linked certificate id routes through the renewal endpoint so the server
// reuses the existing key pair.
func (l *Lifecycle) Generate(ctx context.Context, details models.CSRDetails, linkedCertID *int) (*models.CSRRequest, error) {
	if strings.TrimSpace(details.CommonName) == "" {
		return nil, &models.ValidationError{Msg: "common name must not be empty"}
	}
	if details.KeySize == 0 {
		details.KeySize = models.Key2048
	}
	if !details.KeySize.Valid() {
		return nil, &models.ValidationError{Msg: fmt.Sprintf("unsupported key size %d", details.KeySize)}
	}

	var req *models.CSRRequest
	var err error
	if linkedCertID != nil {
		req, err = l.backend.InitiateRenewal(ctx, *linkedCertID, details)
	} else {
		req, err = l.backend.GenerateCSR(ctx, details, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("generating CSR: %w", err)
	}

	l.log.Info().Int("id", req.ID).Str("common_name", req.CommonName).
		Msg("CSR generated")
	return req, nil
}

// Complete attaches the CA-signed certificate; the server signs the PFX
// and the request moves to PFX_READY. Valid only from CSR_GENERATED or
// CERT_RECEIVED.
func (l *Lifecycle) Complete(ctx context.Context, requestID int, signedCertPem, chainPem, pfxPassword string) (*models.CSRRequest, error) {
	if strings.TrimSpace(signedCertPem) == "" {
		return nil, &models.ValidationError{Msg: "signed certificate must not be empty"}
	}

	current, err := l.backend.GetCSR(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("fetching CSR %d: %w", requestID, err)
	}
	if !current.Status.Completable() {
		return nil, &models.InvalidStateError{Op: "complete", Status: current.Status}
	}

	req, err := l.backend.CompleteCSR(ctx, requestID, remote.CompleteCSRRequest{
		SignedCertPem: signedCertPem,
		ChainPem:      chainPem,
		PfxPassword:   pfxPassword,
	})
	if err != nil {
		// The server re-checks the transition; a 400 means the request
		// moved underneath us between the read and the write.
		var se *remote.StatusError
		if errors.As(err, &se) && se.Code == 400 {
			return nil, &models.InvalidStateError{Op: "complete", Status: current.Status}
		}
		return nil, fmt.Errorf("completing CSR %d: %w", requestID, err)
	}

	l.log.Info().Int("id", req.ID).Str("pfx", req.PfxFilename).Msg("CSR completed")
	return req, nil
}

// Delete irreversibly destroys a request and its held private key. There
// is no recovery path, so callers must obtain explicit confirmation before
// invoking. Permitted from any non-deployed state.
func (l *Lifecycle) Delete(ctx context.Context, requestID int) error {
	current, err := l.backend.GetCSR(ctx, requestID)
	if err != nil {
		return fmt.Errorf("fetching CSR %d: %w", requestID, err)
	}
	if !current.Status.Deletable() {
		return &models.InvalidStateError{Op: "delete", Status: current.Status}
	}
	if err := l.backend.DeleteCSR(ctx, requestID); err != nil {
		return fmt.Errorf("deleting CSR %d: %w", requestID, err)
	}
	l.log.Info().Int("id", requestID).Msg("CSR deleted, private key destroyed")
	return nil
}

// List returns all signing requests. Read-only.
func (l *Lifecycle) List(ctx context.Context) ([]models.CSRRequest, error) {
	return l.backend.ListCSRs(ctx)
}

// Get returns a single signing request. Read-only.
func (l *Lifecycle) Get(ctx context.Context, id int) (*models.CSRRequest, error) {
	return l.backend.GetCSR(ctx, id)
}
