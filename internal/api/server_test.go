package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/org/certrenew/internal/history"
	"github.com/org/certrenew/internal/remote"
	"github.com/org/certrenew/pkg/models"
	"github.com/rs/zerolog"
)

// memStore is an in-memory history.Store for handler tests.
type memStore struct {
	mu     sync.Mutex
	events []*models.RenewalEvent
	runs   map[string]*models.BatchDeployRun
}

func newMemStore() *memStore {
	return &memStore{runs: map[string]*models.BatchDeployRun{}}
}

func (m *memStore) RecordEvent(ctx context.Context, event *models.RenewalEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.ID = int64(len(m.events) + 1)
	m.events = append(m.events, event)
	return nil
}

func (m *memStore) QueryEvents(ctx context.Context, filter history.EventFilter) ([]*models.RenewalEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.RenewalEvent
	for _, e := range m.events {
		if filter.Kind != "" && e.Kind != filter.Kind {
			continue
		}
		if filter.RequestID != nil && (e.RequestID == nil || *e.RequestID != *filter.RequestID) {
			continue
		}
		out = append(out, e)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *memStore) RecordDeployRun(ctx context.Context, run *models.BatchDeployRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.BatchID] = run
	return nil
}

func (m *memStore) GetDeployRun(ctx context.Context, batchID string) (*models.BatchDeployRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[batchID]
	if !ok {
		return nil, history.ErrNotFound
	}
	return run, nil
}

func (m *memStore) ListDeployRuns(ctx context.Context, limit, offset int) ([]*models.BatchDeployRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.BatchDeployRun
	for _, r := range m.runs {
		out = append(out, r)
	}
	return out, nil
}

func (m *memStore) CountEvents(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.events)), nil
}

func (m *memStore) CountDeployRuns(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.runs)), nil
}

func (m *memStore) Close() {}

func (m *memStore) eventKinds() []models.EventKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	kinds := make([]models.EventKind, len(m.events))
	for i, e := range m.events {
		kinds[i] = e.Kind
	}
	return kinds
}

// fakeFleet is a scriptable FleetClient.
type fakeFleet struct {
	mu       sync.Mutex
	requests map[int]*models.CSRRequest
	nextID   int

	cachedPayload any
	cachedErr     error
	livePayload   any
	liveErr       error

	startRun  *models.BatchDeployRun
	startErr  error
	statusRun *models.BatchDeployRun
	statusErr error

	verifyResult *models.VerifyResult
}

func newFakeFleet() *fakeFleet {
	return &fakeFleet{requests: map[int]*models.CSRRequest{}, nextID: 1}
}

func (f *fakeFleet) addCSR(status models.CSRStatus) *models.CSRRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	req := &models.CSRRequest{
		ID:         f.nextID,
		CommonName: "example.com",
		KeySize:    models.Key2048,
		Status:     status,
		CreatedAt:  time.Now(),
	}
	f.requests[req.ID] = req
	f.nextID++
	return req
}

func (f *fakeFleet) GenerateCSR(ctx context.Context, details models.CSRDetails, linkedCertID *int) (*models.CSRRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req := &models.CSRRequest{
		ID:         f.nextID,
		CommonName: details.CommonName,
		KeySize:    details.KeySize,
		Status:     models.StatusCSRGenerated,
		CsrPem:     "csr-pem",
		KeyPemOnce: "key-pem-once",
		CreatedAt:  time.Now(),
	}
	f.requests[req.ID] = req
	f.nextID++
	return req, nil
}

func (f *fakeFleet) InitiateRenewal(ctx context.Context, certID int, details models.CSRDetails) (*models.CSRRequest, error) {
	req, err := f.GenerateCSR(ctx, details, nil)
	if err != nil {
		return nil, err
	}
	req.LinkedCertificateID = &certID
	return req, nil
}

func (f *fakeFleet) CompleteCSR(ctx context.Context, id int, body remote.CompleteCSRRequest) (*models.CSRRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	if !ok {
		return nil, &remote.StatusError{Code: 404, Message: "not found"}
	}
	req.Status = models.StatusPfxReady
	req.PfxFilename = req.CommonName + ".pfx"
	return req, nil
}

func (f *fakeFleet) ListCSRs(ctx context.Context) ([]models.CSRRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.CSRRequest, 0, len(f.requests))
	for _, r := range f.requests {
		out = append(out, *r)
	}
	return out, nil
}

func (f *fakeFleet) GetCSR(ctx context.Context, id int) (*models.CSRRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.requests[id]
	if !ok {
		return nil, &remote.StatusError{Code: 404, Message: "not found"}
	}
	cp := *req
	return &cp, nil
}

func (f *fakeFleet) DeleteCSR(ctx context.Context, id int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.requests, id)
	return nil
}

func (f *fakeFleet) CachedImpact(ctx context.Context, deviceID int, certName string) (any, error) {
	return f.cachedPayload, f.cachedErr
}

func (f *fakeFleet) CertificateUsage(ctx context.Context, certID int) (any, error) {
	return nil, remote.ErrCacheMiss
}

func (f *fakeFleet) FetchCacheStatus(ctx context.Context, deviceID int) (*remote.CacheStatus, error) {
	return &remote.CacheStatus{DeviceID: deviceID, LastRefreshed: time.Now().Add(-5 * time.Minute)}, nil
}

func (f *fakeFleet) LiveImpact(ctx context.Context, deviceID int, certName string, timeout time.Duration) (any, error) {
	return f.livePayload, f.liveErr
}

func (f *fakeFleet) StartBatchDeploy(ctx context.Context, req remote.DeploymentRequest) (*models.BatchDeployRun, error) {
	return f.startRun, f.startErr
}

func (f *fakeFleet) BatchDeployStatus(ctx context.Context, batchID string) (*models.BatchDeployRun, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return f.statusRun, nil
}

func (f *fakeFleet) Verify(ctx context.Context, deviceID int, certName string) (*models.VerifyResult, error) {
	return f.verifyResult, nil
}

func newTestServer(fleet *fakeFleet, store history.Store) *httptest.Server {
	s := NewServer(fleet, store, Config{}, zerolog.Nop())
	return httptest.NewServer(s.BuildRouter())
}

func getJSON(t *testing.T, url string, dst any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if dst != nil {
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			t.Fatalf("decoding %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url string, body, dst any) int {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if dst != nil {
		if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
			t.Fatalf("decoding %s: %v", url, err)
		}
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	srv := newTestServer(newFakeFleet(), newMemStore())
	defer srv.Close()

	var body map[string]any
	if code := getJSON(t, srv.URL+"/v1/sys/health", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestCSRGenerateDeliversKeyOnce(t *testing.T) {
	fleet := newFakeFleet()
	store := newMemStore()
	srv := newTestServer(fleet, store)
	defer srv.Close()

	var created models.CSRRequest
	code := postJSON(t, srv.URL+"/v1/csr", map[string]any{
		"common_name": "example.com",
		"key_size":    2048,
	}, &created)
	if code != http.StatusCreated {
		t.Fatalf("status = %d", code)
	}
	if created.KeyPemOnce == "" {
		t.Error("generation response must carry the one-time key")
	}
	if created.Status != models.StatusCSRGenerated {
		t.Errorf("status = %s", created.Status)
	}

	// Every later read strips the key.
	var fetched models.CSRRequest
	if code := getJSON(t, srv.URL+"/v1/csr/1", &fetched); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if fetched.KeyPemOnce != "" {
		t.Error("key material leaked from a read endpoint")
	}

	var listed struct {
		Requests []models.CSRRequest `json:"requests"`
	}
	getJSON(t, srv.URL+"/v1/csr", &listed)
	for _, r := range listed.Requests {
		if r.KeyPemOnce != "" {
			t.Error("key material leaked from the list endpoint")
		}
	}

	kinds := store.eventKinds()
	if len(kinds) != 1 || kinds[0] != models.EventCSRGenerated {
		t.Errorf("events = %v", kinds)
	}
}

func TestCSRGenerateValidation(t *testing.T) {
	srv := newTestServer(newFakeFleet(), newMemStore())
	defer srv.Close()

	code := postJSON(t, srv.URL+"/v1/csr", map[string]any{"common_name": "  "}, nil)
	if code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", code)
	}
}

func TestCSRCompleteConflict(t *testing.T) {
	fleet := newFakeFleet()
	req := fleet.addCSR(models.StatusDeployed)
	srv := newTestServer(fleet, newMemStore())
	defer srv.Close()

	code := postJSON(t, srv.URL+"/v1/csr/1/complete", map[string]any{
		"signed_cert_pem": "pem",
	}, nil)
	if code != http.StatusConflict {
		t.Errorf("status = %d, want 409", code)
	}
	if fleet.requests[req.ID].Status != models.StatusDeployed {
		t.Error("request mutated by a rejected completion")
	}
}

func TestCSRDeleteRequiresConfirm(t *testing.T) {
	fleet := newFakeFleet()
	fleet.addCSR(models.StatusCSRGenerated)
	store := newMemStore()
	srv := newTestServer(fleet, store)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v1/csr/1", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unconfirmed delete: status = %d, want 400", resp.StatusCode)
	}
	if len(fleet.requests) != 1 {
		t.Fatal("request deleted without confirmation")
	}

	req, _ = http.NewRequest(http.MethodDelete, srv.URL+"/v1/csr/1?confirm=true", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("confirmed delete: status = %d", resp.StatusCode)
	}
	if len(fleet.requests) != 0 {
		t.Error("request survived a confirmed delete")
	}
	kinds := store.eventKinds()
	if len(kinds) != 1 || kinds[0] != models.EventCSRDeleted {
		t.Errorf("events = %v", kinds)
	}
}

func TestImpactCachePath(t *testing.T) {
	fleet := newFakeFleet()
	fleet.cachedPayload = []any{map[string]any{
		"name": "clientssl",
		"vips": []any{map[string]any{"name": "vip-1", "enabled": false}},
	}}
	srv := newTestServer(fleet, newMemStore())
	defer srv.Close()

	var body struct {
		Result   models.ImpactPreviewResult `json:"result"`
		Orphaned bool                       `json:"orphaned"`
		CacheAge string                     `json:"cache_age"`
	}
	code := getJSON(t, srv.URL+"/v1/impact?device_id=7&cert_name=wildcard-2026", &body)
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body.Result.Source != models.SourceCache {
		t.Errorf("source = %s", body.Result.Source)
	}
	if !body.Orphaned {
		t.Error("all-disabled usage should report orphaned")
	}
	if body.CacheAge != "5m ago" {
		t.Errorf("cache_age = %q", body.CacheAge)
	}
}

func TestImpactLivePath(t *testing.T) {
	fleet := newFakeFleet()
	fleet.livePayload = []any{"/Common/clientssl"}
	srv := newTestServer(fleet, newMemStore())
	defer srv.Close()

	var body struct {
		Result models.ImpactPreviewResult `json:"result"`
	}
	code := getJSON(t, srv.URL+"/v1/impact?device_id=7&cert_name=wildcard-2026&live=true", &body)
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body.Result.Source != models.SourceLive {
		t.Errorf("source = %s", body.Result.Source)
	}
}

func TestImpactLiveMissingParameters(t *testing.T) {
	srv := newTestServer(newFakeFleet(), newMemStore())
	defer srv.Close()

	if code := getJSON(t, srv.URL+"/v1/impact?live=true", nil); code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", code)
	}
}

func TestDeployStartRecordsTerminalRun(t *testing.T) {
	fleet := newFakeFleet()
	fleet.startRun = &models.BatchDeployRun{
		BatchID:      "batch-1",
		Status:       models.DeploySuccess,
		TotalDevices: 1,
		Completed:    1,
		StartedAt:    time.Now(),
	}
	store := newMemStore()
	srv := newTestServer(fleet, store)
	defer srv.Close()

	var run models.BatchDeployRun
	code := postJSON(t, srv.URL+"/v1/deploy/batch", remote.DeploymentRequest{
		PfxFilename: "cert.pfx",
		DeviceIDs:   []int{7},
		CertName:    "wildcard-2026",
	}, &run)
	if code != http.StatusAccepted {
		t.Fatalf("status = %d", code)
	}
	if run.BatchID != "batch-1" {
		t.Errorf("run = %+v", run)
	}

	if _, err := store.GetDeployRun(context.Background(), "batch-1"); err != nil {
		t.Errorf("terminal run not recorded: %v", err)
	}
	kinds := store.eventKinds()
	if len(kinds) != 2 || kinds[0] != models.EventDeploySubmit || kinds[1] != models.EventDeployFinished {
		t.Errorf("events = %v", kinds)
	}
}

func TestDeployStartValidation(t *testing.T) {
	srv := newTestServer(newFakeFleet(), newMemStore())
	defer srv.Close()

	code := postJSON(t, srv.URL+"/v1/deploy/batch", remote.DeploymentRequest{CertName: "c"}, nil)
	if code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", code)
	}
}

func TestDeployStatusFallsBackToHistory(t *testing.T) {
	fleet := newFakeFleet()
	fleet.statusErr = &remote.StatusError{Code: 404, Message: "expired"}
	store := newMemStore()
	store.RecordDeployRun(context.Background(), &models.BatchDeployRun{ //nolint:errcheck
		BatchID: "batch-old",
		Status:  models.DeployPartial,
	})
	srv := newTestServer(fleet, store)
	defer srv.Close()

	var run models.BatchDeployRun
	code := getJSON(t, srv.URL+"/v1/deploy/batch/batch-old", &run)
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if run.Status != models.DeployPartial {
		t.Errorf("run = %+v", run)
	}
}

func TestHistoryEvents(t *testing.T) {
	store := newMemStore()
	id := 1
	store.RecordEvent(context.Background(), &models.RenewalEvent{Kind: models.EventCSRGenerated, RequestID: &id}) //nolint:errcheck
	store.RecordEvent(context.Background(), &models.RenewalEvent{Kind: models.EventDeploySubmit, BatchID: "b-1"}) //nolint:errcheck
	srv := newTestServer(newFakeFleet(), store)
	defer srv.Close()

	var body struct {
		Events []*models.RenewalEvent `json:"events"`
	}
	code := getJSON(t, srv.URL+"/v1/history/events?kind=csr_generated", &body)
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(body.Events) != 1 || body.Events[0].Kind != models.EventCSRGenerated {
		t.Errorf("events = %+v", body.Events)
	}
}

func TestHistoryRunNotFound(t *testing.T) {
	srv := newTestServer(newFakeFleet(), newMemStore())
	defer srv.Close()

	if code := getJSON(t, srv.URL+"/v1/history/runs/nope", nil); code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", code)
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv := newTestServer(newFakeFleet(), newMemStore())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/verify")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var body struct {
		Errors []string `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Errors) != 1 || !strings.Contains(body.Errors[0], "required") {
		t.Errorf("body = %+v", body)
	}
}
