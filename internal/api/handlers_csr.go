package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/org/certrenew/pkg/models"
)

// CSRListHandler handles GET /v1/csr
func (s *Server) CSRListHandler(w http.ResponseWriter, r *http.Request) {
	reqs, err := s.lifecycle.List(r.Context())
	if err != nil {
		writeTypedError(w, err)
		return
	}

	pending := 0
	for i := range reqs {
		// Key material is one-time-delivery only; a list response must
		// never carry it even if the backend echoed something.
		reqs[i].KeyPemOnce = ""
		if !reqs[i].Status.Terminal() {
			pending++
		}
	}
	pendingCSRs.Set(float64(pending))

	writeJSON(w, http.StatusOK, map[string]any{"requests": reqs})
}

// CSRGetHandler handles GET /v1/csr/{id}
func (s *Server) CSRGetHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request id")
		return
	}
	req, err := s.lifecycle.Get(r.Context(), id)
	if err != nil {
		writeTypedError(w, err)
		return
	}
	req.KeyPemOnce = ""
	writeJSON(w, http.StatusOK, req)
}

// CSRGenerateHandler handles POST /v1/csr
func (s *Server) CSRGenerateHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		models.CSRDetails
		LinkedCertificateID *int `json:"linked_certificate_id,omitempty"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req, err := s.lifecycle.Generate(r.Context(), body.CSRDetails, body.LinkedCertificateID)
	if err != nil {
		writeTypedError(w, err)
		return
	}

	s.recorder.Record(r.Context(), &models.RenewalEvent{
		Kind:          models.EventCSRGenerated,
		RequestID:     &req.ID,
		CertificateID: req.LinkedCertificateID,
		CommonName:    req.CommonName,
		Status:        string(req.Status),
	})

	// The one and only delivery of the private key.
	writeJSON(w, http.StatusCreated, req)
}

// CSRCompleteHandler handles POST /v1/csr/{id}/complete
func (s *Server) CSRCompleteHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request id")
		return
	}

	var body struct {
		SignedCertPem string `json:"signed_cert_pem"`
		ChainPem      string `json:"chain_pem"`
		PfxPassword   string `json:"pfx_password"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req, err := s.lifecycle.Complete(r.Context(), id, body.SignedCertPem, body.ChainPem, body.PfxPassword)
	if err != nil {
		writeTypedError(w, err)
		return
	}

	s.recorder.Record(r.Context(), &models.RenewalEvent{
		Kind:       models.EventCSRCompleted,
		RequestID:  &req.ID,
		CommonName: req.CommonName,
		Status:     string(req.Status),
	})

	req.KeyPemOnce = ""
	writeJSON(w, http.StatusOK, req)
}

// CSRDeleteHandler handles DELETE /v1/csr/{id}. Deletion destroys the held
// private key irreversibly; the confirm query parameter is required so a
// bare client call cannot do it by accident.
func (s *Server) CSRDeleteHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request id")
		return
	}
	if r.URL.Query().Get("confirm") != "true" {
		writeError(w, http.StatusBadRequest, "deletion destroys the private key; pass confirm=true")
		return
	}

	if err := s.lifecycle.Delete(r.Context(), id); err != nil {
		writeTypedError(w, err)
		return
	}

	s.recorder.Record(r.Context(), &models.RenewalEvent{
		Kind:      models.EventCSRDeleted,
		RequestID: &id,
	})

	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}
