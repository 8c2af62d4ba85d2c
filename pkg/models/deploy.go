package models

import "time"

// DeployStatus is the aggregate state of a batch deploy run.
type DeployStatus string

const (
	DeployPending    DeployStatus = "PENDING"
	DeployInProgress DeployStatus = "IN_PROGRESS"
	DeploySuccess    DeployStatus = "SUCCESS"
	DeployFailed     DeployStatus = "FAILED"
	DeployPartial    DeployStatus = "PARTIAL"
)

// Terminal reports whether the run has finished. Terminal states never
// revert.
func (s DeployStatus) Terminal() bool {
	switch s {
	case DeploySuccess, DeployFailed, DeployPartial:
		return true
	}
	return false
}

// DeviceResult is the outcome for a single device within a batch run.
type DeviceResult struct {
	DeviceID int          `json:"device_id"`
	Status   DeployStatus `json:"status"`
	Message  string       `json:"message,omitempty"`
}

// BatchDeployRun is the server-aggregated state of one batch deployment.
// Each status poll replaces the whole struct; per-device results are never
// merged client-side.
type BatchDeployRun struct {
	BatchID      string         `json:"batch_id"`
	Status       DeployStatus   `json:"status"`
	TotalDevices int            `json:"total_devices"`
	Completed    int            `json:"completed"`
	Failed       int            `json:"failed"`
	Results      []DeviceResult `json:"per_device_results,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
}

// VerifyResult is the outcome of a post-deploy installed-cert check.
type VerifyResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}
