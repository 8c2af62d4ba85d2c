package remote

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/org/certrenew/pkg/models"
	"github.com/rs/zerolog"
)

// ErrCacheMiss indicates the cache-keyed impact endpoint had no entry for
// the requested device/certificate pair. Callers fall back to the legacy
// per-certificate endpoint; this is never shown to a user.
var ErrCacheMiss = errors.New("impact cache miss")

// StatusError is a non-2xx response from the fleet manager.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("HTTP %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("HTTP %d", e.Code)
}

// Config holds client connection settings.
type Config struct {
	BaseURL   string
	Token     string
	TLSCACert string
	Timeout   time.Duration // transport default; live queries carry their own

	// Live-query throttle, per device. Zero rate disables throttling.
	LiveRate  float64
	LiveBurst int
}

// Client is a typed HTTP client for the fleet-manager API.
type Client struct {
	baseURL   string
	token     string
	http      *http.Client
	log       zerolog.Logger
	liveLimit *deviceLimiter
}

// New creates a Client from cfg.
func New(cfg Config, log zerolog.Logger) *Client {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if cfg.TLSCACert != "" {
		if data, err := os.ReadFile(cfg.TLSCACert); err == nil {
			pool := x509.NewCertPool()
			pool.AppendCertsFromPEM(data)
			tlsCfg.RootCAs = pool
		}
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	var limiter *deviceLimiter
	if cfg.LiveRate > 0 {
		burst := cfg.LiveBurst
		if burst == 0 {
			burst = 1
		}
		limiter = newDeviceLimiter(cfg.LiveRate, burst)
	}

	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http: &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{TLSClientConfig: tlsCfg},
		},
		log:       log,
		liveLimit: limiter,
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(data)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	return c.http.Do(req)
}

// getJSON issues a GET and decodes a 2xx body into dst.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, dst any) error {
	resp, err := c.do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	return decodeResponse(resp, dst)
}

// postJSON issues a POST and decodes a 2xx body into dst (dst may be nil).
func (c *Client) postJSON(ctx context.Context, path string, body, dst any) error {
	resp, err := c.do(ctx, http.MethodPost, path, nil, body)
	if err != nil {
		return err
	}
	return decodeResponse(resp, dst)
}

func decodeResponse(resp *http.Response, dst any) error {
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return statusError(resp.StatusCode, data)
	}
	if dst == nil {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func statusError(code int, body []byte) error {
	var env struct {
		Errors []string `json:"errors"`
		Error  string   `json:"error"`
	}
	msg := ""
	if err := json.Unmarshal(body, &env); err == nil {
		if len(env.Errors) > 0 {
			msg = env.Errors[0]
		} else {
			msg = env.Error
		}
	}
	return &StatusError{Code: code, Message: msg}
}

// --- Impact endpoints ---

// CacheStatus is the freshness record for a device's usage cache.
type CacheStatus struct {
	DeviceID      int       `json:"device_id"`
	LastRefreshed time.Time `json:"last_refreshed"`
}

// CachedImpact fetches cached profile/VIP usage for a certificate on a
// device. A 404 or 400 means the cache has no entry and maps to
// ErrCacheMiss. The payload shape varies by cache generation, so the raw
// decoded JSON is returned for the normalizer to sort out.
func (c *Client) CachedImpact(ctx context.Context, deviceID int, certName string) (any, error) {
	q := url.Values{}
	q.Set("device_id", strconv.Itoa(deviceID))
	q.Set("cert_name", certName)

	resp, err := c.do(ctx, http.MethodGet, "/f5/cache/impact-preview", q, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusBadRequest {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil, ErrCacheMiss
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, statusError(resp.StatusCode, data)
	}

	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decoding cached impact: %w", err)
	}
	return payload, nil
}

// CertificateUsage fetches the legacy per-certificate usage record.
func (c *Client) CertificateUsage(ctx context.Context, certID int) (any, error) {
	resp, err := c.do(ctx, http.MethodGet, "/certificates/"+strconv.Itoa(certID)+"/usage", nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, statusError(resp.StatusCode, data)
	}

	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decoding certificate usage: %w", err)
	}
	return payload, nil
}

// FetchCacheStatus returns the cache freshness for a device. Callers treat
// failures as "age unknown" rather than errors.
func (c *Client) FetchCacheStatus(ctx context.Context, deviceID int) (*CacheStatus, error) {
	q := url.Values{}
	q.Set("device_id", strconv.Itoa(deviceID))
	var st CacheStatus
	if err := c.getJSON(ctx, "/f5/cache/status", q, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// LiveImpact queries the device directly for current usage. A 404 means the
// certificate has no users and returns an empty payload, not an error. The
// per-device throttle waits under ctx so a canceled lookup never burns a
// token slot.
func (c *Client) LiveImpact(ctx context.Context, deviceID int, certName string, timeout time.Duration) (any, error) {
	if c.liveLimit != nil {
		if err := c.liveLimit.Wait(ctx, deviceID); err != nil {
			return nil, err
		}
	}

	q := url.Values{}
	q.Set("device_id", strconv.Itoa(deviceID))
	q.Set("cert_name", certName)
	q.Set("timeout", strconv.Itoa(int(timeout.Seconds())))

	resp, err := c.do(ctx, http.MethodGet, "/f5/impact-preview", q, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return []any{}, nil
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, statusError(resp.StatusCode, data)
	}

	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decoding live impact: %w", err)
	}
	return payload, nil
}

// Verify checks the certificate actually installed on the device.
func (c *Client) Verify(ctx context.Context, deviceID int, certName string) (*models.VerifyResult, error) {
	q := url.Values{}
	q.Set("device_id", strconv.Itoa(deviceID))
	q.Set("cert_name", certName)
	var res models.VerifyResult
	if err := c.getJSON(ctx, "/f5/verify", q, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// --- CSR endpoints ---

// CompleteCSRRequest carries the CA-signed material for completing a request.
type CompleteCSRRequest struct {
	SignedCertPem string `json:"signed_cert_pem"`
	ChainPem      string `json:"chain_pem,omitempty"`
	PfxPassword   string `json:"pfx_password,omitempty"`
}

// GenerateCSR creates a new signing request. The response is the only time
// the private key is ever delivered.
func (c *Client) GenerateCSR(ctx context.Context, details models.CSRDetails, linkedCertID *int) (*models.CSRRequest, error) {
	body := struct {
		models.CSRDetails
		LinkedCertificateID *int `json:"linked_certificate_id,omitempty"`
	}{details, linkedCertID}

	var req models.CSRRequest
	if err := c.postJSON(ctx, "/csr", body, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// InitiateRenewal generates a CSR for an existing certificate, reusing its
// key pair on the server side.
func (c *Client) InitiateRenewal(ctx context.Context, certID int, details models.CSRDetails) (*models.CSRRequest, error) {
	var req models.CSRRequest
	if err := c.postJSON(ctx, "/certificates/"+strconv.Itoa(certID)+"/initiate-renewal", details, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// CompleteCSR attaches the CA-signed certificate and has the server build
// the PFX bundle.
func (c *Client) CompleteCSR(ctx context.Context, id int, body CompleteCSRRequest) (*models.CSRRequest, error) {
	var req models.CSRRequest
	if err := c.postJSON(ctx, "/csr/"+strconv.Itoa(id)+"/complete", body, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// ListCSRs returns all signing requests visible to the caller.
func (c *Client) ListCSRs(ctx context.Context) ([]models.CSRRequest, error) {
	var reqs []models.CSRRequest
	if err := c.getJSON(ctx, "/csr", nil, &reqs); err != nil {
		return nil, err
	}
	return reqs, nil
}

// GetCSR returns a single signing request.
func (c *Client) GetCSR(ctx context.Context, id int) (*models.CSRRequest, error) {
	var req models.CSRRequest
	if err := c.getJSON(ctx, "/csr/"+strconv.Itoa(id), nil, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// DeleteCSR destroys a signing request and its held private key. There is
// no recovery; callers are expected to confirm first.
func (c *Client) DeleteCSR(ctx context.Context, id int) error {
	resp, err := c.do(ctx, http.MethodDelete, "/csr/"+strconv.Itoa(id), nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return statusError(resp.StatusCode, data)
	}
	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	return nil
}

// --- Deployment endpoints ---

// UploadResponse identifies an uploaded PFX held server-side for deployment.
type UploadResponse struct {
	PfxFilename string `json:"pfx_filename"`
}

// UploadPfx posts a PFX bundle as multipart form data.
func (c *Client) UploadPfx(ctx context.Context, filename string, content []byte, password string) (*UploadResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("pfx", filename)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(content); err != nil {
		return nil, err
	}
	if password != "" {
		if err := mw.WriteField("password", password); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/deployments/new-pfx", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	var out UploadResponse
	if err := decodeResponse(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeploymentRequest describes a certificate rollout to one or more devices.
type DeploymentRequest struct {
	CertificateID int    `json:"certificate_id,omitempty"`
	PfxFilename   string `json:"pfx_filename"`
	PfxPassword   string `json:"pfx_password,omitempty"`
	DeviceIDs     []int  `json:"device_ids"`
	CertName      string `json:"cert_name"`
}

// DeploymentPlan is the server's preview of what a deployment will touch.
type DeploymentPlan struct {
	PlanID   string   `json:"plan_id"`
	Actions  []string `json:"actions"`
	Warnings []string `json:"warnings,omitempty"`
}

// PreviewDeployment asks the server what the rollout would change.
func (c *Client) PreviewDeployment(ctx context.Context, req DeploymentRequest) (*DeploymentPlan, error) {
	var plan DeploymentPlan
	if err := c.postJSON(ctx, "/deployments/preview", req, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// ValidateDeployment runs server-side validation of the rollout inputs.
func (c *Client) ValidateDeployment(ctx context.Context, req DeploymentRequest) error {
	return c.postJSON(ctx, "/deployments/validate", req, nil)
}

// PlanDeployment materializes an executable plan for the rollout.
func (c *Client) PlanDeployment(ctx context.Context, req DeploymentRequest) (*DeploymentPlan, error) {
	var plan DeploymentPlan
	if err := c.postJSON(ctx, "/deployments/plan", req, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// ExecuteDeployment starts the rollout and returns the initial run state.
func (c *Client) ExecuteDeployment(ctx context.Context, req DeploymentRequest) (*models.BatchDeployRun, error) {
	var run models.BatchDeployRun
	if err := c.postJSON(ctx, "/deployments/execute", req, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ConfirmDeployment acknowledges a finished rollout.
func (c *Client) ConfirmDeployment(ctx context.Context, batchID string) error {
	return c.postJSON(ctx, "/deployments/confirm", map[string]string{"batch_id": batchID}, nil)
}

// StartBatchDeploy submits a multi-device rollout.
func (c *Client) StartBatchDeploy(ctx context.Context, req DeploymentRequest) (*models.BatchDeployRun, error) {
	var run models.BatchDeployRun
	if err := c.postJSON(ctx, "/deployments/batch", req, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// BatchDeployStatus fetches the current aggregate state of a run.
func (c *Client) BatchDeployStatus(ctx context.Context, batchID string) (*models.BatchDeployRun, error) {
	var run models.BatchDeployRun
	if err := c.getJSON(ctx, "/deployments/batch/"+batchID+"/status", nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}
