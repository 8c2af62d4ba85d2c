package models

import "time"

// CSRStatus is the lifecycle state of a certificate signing request.
// The server owns the record; the client validates transitions before
// calling out and reflects whatever state comes back.
type CSRStatus string

const (
	StatusCSRGenerated CSRStatus = "CSR_GENERATED"
	StatusCertReceived CSRStatus = "CERT_RECEIVED"
	StatusPfxReady     CSRStatus = "PFX_READY"
	StatusDeployed     CSRStatus = "DEPLOYED"
	StatusCompleted    CSRStatus = "COMPLETED"
	StatusFailed       CSRStatus = "FAILED"
	StatusExpired      CSRStatus = "EXPIRED"
)

// Terminal reports whether no further transitions are possible.
func (s CSRStatus) Terminal() bool {
	switch s {
	case StatusDeployed, StatusCompleted, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// Completable reports whether a signed certificate may still be attached.
func (s CSRStatus) Completable() bool {
	return s == StatusCSRGenerated || s == StatusCertReceived
}

// Deletable reports whether the request (and its held private key) may be
// destroyed. Anything not yet deployed can be deleted.
func (s CSRStatus) Deletable() bool {
	return s != StatusDeployed
}

// KeySize is an RSA key length accepted for CSR generation.
type KeySize int

const (
	Key2048 KeySize = 2048
	Key4096 KeySize = 4096
)

// Valid reports whether the key size is one the server will accept.
func (k KeySize) Valid() bool {
	return k == Key2048 || k == Key4096
}

// CSRDetails is the caller-supplied input for generating a request.
type CSRDetails struct {
	CommonName string   `json:"common_name"`
	SanNames   []string `json:"san_names,omitempty"`
	KeySize    KeySize  `json:"key_size"`
}

// CSRRequest is the client's view of a server-owned signing request.
// KeyPemOnce is delivered exactly once at generation time and cannot be
// retrieved again; it lives only in transient memory.
type CSRRequest struct {
	ID                  int       `json:"id"`
	CommonName          string    `json:"common_name"`
	SanNames            []string  `json:"san_names,omitempty"`
	KeySize             KeySize   `json:"key_size"`
	Status              CSRStatus `json:"status"`
	LinkedCertificateID *int      `json:"linked_certificate_id,omitempty"`
	CsrPem              string    `json:"csr_pem,omitempty"`
	KeyPemOnce          string    `json:"key_pem,omitempty"`
	PfxFilename         string    `json:"pfx_filename,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}
