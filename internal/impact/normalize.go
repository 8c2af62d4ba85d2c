package impact

import (
	"sort"
	"strings"

	"github.com/org/certrenew/pkg/models"
)

// Field name candidates seen across cache generations and device firmware
// versions. Order matters: the first populated field wins.
var (
	nameKeys      = []string{"name", "profile_name", "profileName"}
	partitionKeys = []string{"partition", "partition_name"}
	contextKeys   = []string{"context", "ssl_context", "side"}
	fullPathKeys  = []string{"full_path", "fullPath", "full_name"}
	vipListKeys   = []string{"vips", "virtual_servers", "virtualServers", "virtuals"}
	vipNameKeys   = []string{"name", "vip_name", "virtual_server", "destination"}
)

// Normalize converts a raw usage payload of any supported shape into the
// canonical profile list. It never fails: entries that cannot be resolved
// are skipped, never emitted as partial records.
func Normalize(raw any) []models.ProfileUsage {
	entries := extractEntries(raw)
	out := make([]models.ProfileUsage, 0, len(entries))
	for _, e := range entries {
		if p, ok := normalizeEntry(e); ok {
			out = append(out, p)
		}
	}
	return out
}

// extractEntries unwraps the supported container shapes: a bare array, or
// an object carrying the array under "profiles" or "results".
func extractEntries(raw any) []any {
	switch v := raw.(type) {
	case []any:
		return v
	case map[string]any:
		for _, key := range []string{"profiles", "results"} {
			if list, ok := v[key].([]any); ok {
				return list
			}
		}
	}
	return nil
}

func normalizeEntry(entry any) (models.ProfileUsage, bool) {
	switch v := entry.(type) {
	case string:
		name, partition := splitObjectPath(v)
		if name == "" {
			return models.ProfileUsage{}, false
		}
		return models.ProfileUsage{
			Name:      name,
			Partition: partition,
			Vips:      []models.VipRef{},
		}, true
	case map[string]any:
		return normalizeObject(v)
	}
	return models.ProfileUsage{}, false
}

func normalizeObject(obj map[string]any) (models.ProfileUsage, bool) {
	name := firstString(obj, nameKeys)
	partition := firstString(obj, partitionKeys)

	if name == "" {
		if fp := firstString(obj, fullPathKeys); fp != "" {
			fpName, fpPartition := splitObjectPath(fp)
			name = fpName
			if partition == "" {
				partition = fpPartition
			}
		}
	}
	if name == "" {
		return models.ProfileUsage{}, false
	}
	if partition == "" {
		partition = models.DefaultPartition
	}

	return models.ProfileUsage{
		Name:      name,
		Partition: partition,
		Context:   firstString(obj, contextKeys),
		Vips:      normalizeVips(obj),
	}, true
}

// normalizeVips collects virtual-server references from whichever field the
// source used. A keyed mapping is flattened to its values; keys are sorted
// first so output order is stable.
func normalizeVips(obj map[string]any) []models.VipRef {
	var raw []any
	for _, key := range vipListKeys {
		switch v := obj[key].(type) {
		case []any:
			raw = v
		case map[string]any:
			keys := make([]string, 0, len(v))
			for k := range v {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				raw = append(raw, v[k])
			}
		default:
			continue
		}
		break
	}

	vips := make([]models.VipRef, 0, len(raw))
	for _, entry := range raw {
		if ref, ok := normalizeVip(entry); ok {
			vips = append(vips, ref)
		}
	}
	return vips
}

func normalizeVip(entry any) (models.VipRef, bool) {
	switch v := entry.(type) {
	case string:
		if v == "" {
			return models.VipRef{}, false
		}
		return models.VipRef{Name: v, EnabledHint: models.Unknown}, true
	case map[string]any:
		name := firstString(v, vipNameKeys)
		if name == "" {
			return models.VipRef{}, false
		}
		return models.VipRef{Name: name, EnabledHint: enabledHint(v)}, true
	}
	return models.VipRef{}, false
}

// enabledHint derives a tri-state hint from whichever enabled/disabled/state
// field is present. Absent or unrecognizable fields yield unknown.
func enabledHint(obj map[string]any) models.TriState {
	if s, ok := obj["enabled_hint"].(string); ok {
		switch s {
		case "enabled":
			return models.Enabled
		case "disabled":
			return models.Disabled
		}
		return models.Unknown
	}
	if b, ok := obj["enabled"].(bool); ok {
		if b {
			return models.Enabled
		}
		return models.Disabled
	}
	if b, ok := obj["disabled"].(bool); ok {
		if b {
			return models.Disabled
		}
		return models.Enabled
	}
	for _, key := range []string{"state", "status"} {
		s, ok := obj[key].(string)
		if !ok {
			continue
		}
		switch strings.ToLower(s) {
		case "enabled", "up", "available":
			return models.Enabled
		case "disabled", "down", "offline":
			return models.Disabled
		}
	}
	return models.Unknown
}

// splitObjectPath parses the device's /Partition/Name form. Strings that
// don't match are taken whole as the name with the partition defaulted.
func splitObjectPath(s string) (name, partition string) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "/") {
		parts := strings.SplitN(s[1:], "/", 2)
		if len(parts) == 2 && parts[0] != "" && parts[1] != "" {
			return parts[1], parts[0]
		}
	}
	return s, models.DefaultPartition
}

func firstString(obj map[string]any, keys []string) string {
	for _, key := range keys {
		if s, ok := obj[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
