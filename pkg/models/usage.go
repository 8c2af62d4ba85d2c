package models

import (
	"encoding/json"
	"time"
)

// DefaultPartition is assumed whenever a source payload omits the partition.
const DefaultPartition = "Common"

// TriState is a derived enabled/disabled hint that may be unknown.
// It is never authoritative; the device is the source of truth.
type TriState int

const (
	Unknown TriState = iota
	Enabled
	Disabled
)

// Known reports whether the hint carries real information.
func (t TriState) Known() bool {
	return t != Unknown
}

func (t TriState) String() string {
	switch t {
	case Enabled:
		return "enabled"
	case Disabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes the hint as its string form.
func (t TriState) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON accepts the string form; anything unrecognized is unknown.
func (t *TriState) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		*t = Unknown
		return nil
	}
	switch s {
	case "enabled":
		*t = Enabled
	case "disabled":
		*t = Disabled
	default:
		*t = Unknown
	}
	return nil
}

// VipRef is a reference to a virtual server attached to a profile.
type VipRef struct {
	Name        string   `json:"name"`
	EnabledHint TriState `json:"enabled_hint"`
}

// ProfileUsage is the canonical record of one SSL profile using a
// certificate, as produced by the payload normalizer. Name and Partition
// are always populated. VIPs keep source order and are not deduplicated.
type ProfileUsage struct {
	Name      string   `json:"name"`
	Partition string   `json:"partition"`
	Context   string   `json:"context"`
	Vips      []VipRef `json:"vips"`
}

// FullPath renders the /Partition/Name form used by the device.
func (p ProfileUsage) FullPath() string {
	return "/" + p.Partition + "/" + p.Name
}

// ResultSource identifies which data path produced an impact preview.
type ResultSource int

const (
	SourceNone ResultSource = iota
	SourceCache
	SourceLive
)

func (s ResultSource) String() string {
	switch s {
	case SourceCache:
		return "cache"
	case SourceLive:
		return "live"
	default:
		return "none"
	}
}

// ImpactPreviewResult is one fully-formed answer to "what uses this
// certificate?". A new result replaces the previous one atomically; it is
// never mutated in place.
type ImpactPreviewResult struct {
	Profiles  []ProfileUsage `json:"profiles"`
	Source    ResultSource   `json:"source"`
	FetchedAt *time.Time     `json:"fetched_at,omitempty"` // meaningful only for cache results
	Err       error          `json:"-"`
}
