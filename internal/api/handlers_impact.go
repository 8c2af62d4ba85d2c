package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/org/certrenew/internal/impact"
)

// ImpactHandler handles GET /v1/impact?device_id&cert_name[&cert_id][&live][&timeout]
// Default is the cache-first path; live=true runs an on-device query. Each
// request gets its own resolver, so concurrent dashboard queries for
// different certificates never share cancellation state.
func (s *Server) ImpactHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	deviceID, _ := strconv.Atoi(q.Get("device_id"))
	certName := q.Get("cert_name")

	var fallbackID *int
	if v := q.Get("cert_id"); v != "" {
		if id, err := strconv.Atoi(v); err == nil {
			fallbackID = &id
		}
	}

	resolver := impact.NewResolver(s.fleet, s.log)
	defer resolver.Close()

	if q.Get("live") == "true" {
		timeout := 30 * time.Second
		if v := q.Get("timeout"); v != "" {
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				timeout = time.Duration(secs) * time.Second
			}
		}
		result, err := resolver.ResolveLive(r.Context(), deviceID, certName, timeout)
		if err != nil {
			impactLookupsTotal.WithLabelValues("live", "error").Inc()
			writeTypedError(w, err)
			return
		}
		impactLookupsTotal.WithLabelValues("live", "ok").Inc()
		writeJSON(w, http.StatusOK, map[string]any{
			"result":   result,
			"orphaned": impact.CertificateOrphaned(result.Profiles),
		})
		return
	}

	result, err := resolver.ResolveFromCache(r.Context(), deviceID, certName, fallbackID)
	if err != nil {
		impactLookupsTotal.WithLabelValues("cache", "error").Inc()
		writeTypedError(w, err)
		return
	}
	impactLookupsTotal.WithLabelValues("cache", "ok").Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"result":    result,
		"orphaned":  impact.CertificateOrphaned(result.Profiles),
		"cache_age": resolver.Age().Label(),
	})
}

// VerifyHandler handles GET /v1/verify?device_id&cert_name
func (s *Server) VerifyHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	deviceID, _ := strconv.Atoi(q.Get("device_id"))
	certName := q.Get("cert_name")
	if deviceID == 0 || certName == "" {
		writeError(w, http.StatusBadRequest, "device_id and cert_name are required")
		return
	}

	res, err := s.fleet.Verify(r.Context(), deviceID, certName)
	if err != nil {
		writeTypedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
