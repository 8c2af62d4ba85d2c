package impact

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/org/certrenew/pkg/models"
)

func TestNormalizeBareArray(t *testing.T) {
	raw := []any{
		map[string]any{
			"name":      "clientssl-prod",
			"partition": "Prod",
			"context":   "client-side",
			"vips": []any{
				map[string]any{"name": "vip-web", "enabled": true},
				map[string]any{"name": "vip-old", "enabled": false},
			},
		},
	}

	got := Normalize(raw)
	if len(got) != 1 {
		t.Fatalf("expected 1 profile, got %d", len(got))
	}
	p := got[0]
	if p.Name != "clientssl-prod" || p.Partition != "Prod" || p.Context != "client-side" {
		t.Errorf("unexpected profile: %+v", p)
	}
	if len(p.Vips) != 2 {
		t.Fatalf("expected 2 vips, got %d", len(p.Vips))
	}
	if p.Vips[0].EnabledHint != models.Enabled || p.Vips[1].EnabledHint != models.Disabled {
		t.Errorf("unexpected hints: %+v", p.Vips)
	}
}

func TestNormalizeWrappedShapes(t *testing.T) {
	entry := map[string]any{"name": "clientssl"}
	for _, wrapper := range []string{"profiles", "results"} {
		raw := map[string]any{wrapper: []any{entry}}
		got := Normalize(raw)
		if len(got) != 1 || got[0].Name != "clientssl" {
			t.Errorf("wrapper %q: got %+v", wrapper, got)
		}
	}
}

func TestNormalizeStringEntries(t *testing.T) {
	cases := []struct {
		in        string
		name      string
		partition string
	}{
		{"/Common/clientssl", "clientssl", "Common"},
		{"/Prod/wildcard-2026", "wildcard-2026", "Prod"},
		{"clientssl", "clientssl", "Common"},
		{"/no-partition", "/no-partition", "Common"},
	}
	for _, tc := range cases {
		got := Normalize([]any{tc.in})
		if len(got) != 1 {
			t.Fatalf("%q: expected 1 profile, got %d", tc.in, len(got))
		}
		if got[0].Name != tc.name || got[0].Partition != tc.partition {
			t.Errorf("%q: got name=%q partition=%q", tc.in, got[0].Name, got[0].Partition)
		}
	}
}

func TestNormalizeFullPathFallback(t *testing.T) {
	raw := []any{map[string]any{"full_path": "/Prod/clientssl"}}
	got := Normalize(raw)
	if len(got) != 1 || got[0].Name != "clientssl" || got[0].Partition != "Prod" {
		t.Fatalf("got %+v", got)
	}
}

func TestNormalizeVipVariants(t *testing.T) {
	cases := []struct {
		name string
		obj  map[string]any
		want []models.VipRef
	}{
		{
			name: "keyed mapping flattened in key order",
			obj: map[string]any{
				"name": "p",
				"virtual_servers": map[string]any{
					"b": map[string]any{"name": "vip-b", "state": "enabled"},
					"a": map[string]any{"name": "vip-a", "state": "disabled"},
				},
			},
			want: []models.VipRef{
				{Name: "vip-a", EnabledHint: models.Disabled},
				{Name: "vip-b", EnabledHint: models.Enabled},
			},
		},
		{
			name: "plain string vips have unknown hint",
			obj:  map[string]any{"name": "p", "vips": []any{"vip-1", "vip-2"}},
			want: []models.VipRef{
				{Name: "vip-1", EnabledHint: models.Unknown},
				{Name: "vip-2", EnabledHint: models.Unknown},
			},
		},
		{
			name: "disabled field inverted",
			obj:  map[string]any{"name": "p", "vips": []any{map[string]any{"name": "v", "disabled": true}}},
			want: []models.VipRef{{Name: "v", EnabledHint: models.Disabled}},
		},
		{
			name: "unrecognized state is unknown",
			obj:  map[string]any{"name": "p", "vips": []any{map[string]any{"name": "v", "state": "draining"}}},
			want: []models.VipRef{{Name: "v", EnabledHint: models.Unknown}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Normalize([]any{tc.obj})
			if len(got) != 1 {
				t.Fatalf("expected 1 profile, got %d", len(got))
			}
			if !reflect.DeepEqual(got[0].Vips, tc.want) {
				t.Errorf("got %+v, want %+v", got[0].Vips, tc.want)
			}
		})
	}
}

func TestNormalizeSkipsUnresolvable(t *testing.T) {
	raw := []any{
		map[string]any{"partition": "Common"}, // no name anywhere
		42,
		nil,
		"",
		map[string]any{"name": "keep-me"},
	}
	got := Normalize(raw)
	if len(got) != 1 || got[0].Name != "keep-me" {
		t.Fatalf("got %+v", got)
	}
}

func TestNormalizeMalformedInputs(t *testing.T) {
	for _, raw := range []any{nil, "a string", 7, map[string]any{"unrelated": true}} {
		got := Normalize(raw)
		if len(got) != 0 {
			t.Errorf("input %v: expected empty output, got %+v", raw, got)
		}
	}
}

// Normalizing its own marshaled output must be a fixed point.
func TestNormalizeIdempotent(t *testing.T) {
	raw := []any{
		"/Prod/clientssl",
		map[string]any{
			"profile_name": "serverssl",
			"vips": []any{
				map[string]any{"vip_name": "vip-1", "enabled": true},
				"vip-2",
			},
		},
	}
	first := Normalize(raw)

	data, err := json.Marshal(first)
	if err != nil {
		t.Fatal(err)
	}
	var roundTripped any
	if err := json.Unmarshal(data, &roundTripped); err != nil {
		t.Fatal(err)
	}
	second := Normalize(roundTripped)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("not idempotent:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}
