package models

import "time"

// EventKind classifies a renewal-history entry.
type EventKind string

const (
	EventCSRGenerated   EventKind = "csr_generated"
	EventCSRCompleted   EventKind = "csr_completed"
	EventCSRDeleted     EventKind = "csr_deleted"
	EventDeploySubmit   EventKind = "deploy_submitted"
	EventDeployFinished EventKind = "deploy_finished"
)

// RenewalEvent is one audit record of the renewal lifecycle. Events carry
// ids, names, statuses and timestamps only; key material and PEM data are
// never recorded.
type RenewalEvent struct {
	ID            int64     `json:"id"`
	Kind          EventKind `json:"kind"`
	RequestID     *int      `json:"request_id,omitempty"`
	CertificateID *int      `json:"certificate_id,omitempty"`
	CommonName    string    `json:"common_name,omitempty"`
	BatchID       string    `json:"batch_id,omitempty"`
	Status        string    `json:"status,omitempty"`
	Detail        string    `json:"detail,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}
