package specialist_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/tailored-agentic-units/dispatch/core/protocol"
	"github.com/tailored-agentic-units/dispatch/observability"
	"github.com/tailored-agentic-units/dispatch/specialist"
	"github.com/tailored-agentic-units/dispatch/tools"
)

const catalogYAML = `
router:
  tools: [datetime]
specialists:
  - id: license
    name: License Specialist
    description: license operations
    persona: "You handle licenses for {{.wallet_address}} at {{.time}}."
    safe: [get_license_terms, get_license_minting_fee]
    sensitive: [mint_license_tokens]
  - id: dispute
    name: Dispute Specialist
    description: IP disputes
    sensitive: [raise_dispute]
    agent: smart
    delegate_tool: ToDisputeAssistant
`

func noop(context.Context, json.RawMessage) (tools.Result, error) {
	return tools.Result{Content: "ok"}, nil
}

func toolbox(t *testing.T, names ...string) *tools.Toolbox {
	t.Helper()
	box := tools.NewToolbox()
	for _, name := range names {
		if err := box.Provide(protocol.Tool{Name: name}, noop); err != nil {
			t.Fatalf("Provide(%s) failed: %v", name, err)
		}
	}
	return box
}

func build(t *testing.T, observer observability.Observer) *specialist.Set {
	t.Helper()
	cat, err := specialist.ParseCatalog([]byte(catalogYAML))
	if err != nil {
		t.Fatalf("ParseCatalog failed: %v", err)
	}
	box := toolbox(t, "datetime", "get_license_terms", "get_license_minting_fee", "mint_license_tokens", "raise_dispute")
	set, err := specialist.Build(cat, box, observer)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return set
}

func TestBuild_TierPartition(t *testing.T) {
	set := build(t, nil)

	license, ok := set.Get("license")
	if !ok {
		t.Fatal("license specialist missing")
	}

	tests := []struct {
		tool string
		want tools.Tier
	}{
		{"get_license_terms", tools.TierSafe},
		{"get_license_minting_fee", tools.TierSafe},
		{"mint_license_tokens", tools.TierSensitive},
		{tools.Escalate, tools.TierControl},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			got, err := set.Classify("license", tt.tool)
			if err != nil {
				t.Fatalf("Classify failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("got tier %q, want %q", got, tt.want)
			}
		})
	}

	want := []string{"escalate", "get_license_minting_fee", "get_license_terms", "mint_license_tokens"}
	if diff := cmp.Diff(want, license.Registry.Names()); diff != "" {
		t.Errorf("Names mismatch (-want +got):\n%s", diff)
	}

	wantNodes := specialist.Nodes{Reason: "license", Safe: "license_safe_tools", Sensitive: "license_sensitive_tools"}
	if license.Nodes != wantNodes {
		t.Errorf("got nodes %+v, want %+v", license.Nodes, wantNodes)
	}
}

func TestBuild_UnknownToolIsNeverSafe(t *testing.T) {
	set := build(t, nil)

	if _, err := set.Classify("license", "raise_dispute"); !errors.Is(err, tools.ErrUnregisteredTool) {
		t.Errorf("cross-specialist tool error = %v, want %v", err, tools.ErrUnregisteredTool)
	}
	if _, err := set.Classify("", tools.Escalate); !errors.Is(err, tools.ErrUnregisteredTool) {
		t.Errorf("router escalate error = %v, want %v", err, tools.ErrUnregisteredTool)
	}
	if _, err := set.Classify("billing", "anything"); !errors.Is(err, specialist.ErrUnknownSpecialist) {
		t.Errorf("unknown unit error = %v, want %v", err, specialist.ErrUnknownSpecialist)
	}
}

func TestBuild_RouterDelegations(t *testing.T) {
	set := build(t, nil)
	router := set.Router()

	if !router.IsRouter() {
		t.Error("Router() should report IsRouter")
	}

	tests := []struct {
		tool string
		id   string
	}{
		{"to_license", "license"},
		{"ToDisputeAssistant", "dispute"},
	}
	for _, tt := range tests {
		id, ok := set.Resolve(tt.tool)
		if !ok || id != tt.id {
			t.Errorf("Resolve(%s) = %q, %v, want %q", tt.tool, id, ok, tt.id)
		}
		tier, err := set.Classify("", tt.tool)
		if err != nil || tier != tools.TierControl {
			t.Errorf("Classify(router, %s) = %q, %v, want control", tt.tool, tier, err)
		}
	}

	if tier, _ := set.Classify("", "datetime"); tier != tools.TierSafe {
		t.Errorf("router datetime tier = %q, want safe", tier)
	}
	if _, ok := set.Resolve("datetime"); ok {
		t.Error("datetime is not a delegation tool")
	}

	d, _ := router.Registry.Get("to_license")
	required, _ := d.Tool.Parameters["required"].([]string)
	if diff := cmp.Diff([]string{"request"}, required); diff != "" {
		t.Errorf("delegation schema required mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_MissingToolWarns(t *testing.T) {
	cat, err := specialist.ParseCatalog([]byte(catalogYAML))
	if err != nil {
		t.Fatalf("ParseCatalog failed: %v", err)
	}

	rec := observability.NewRecorder()
	set, err := specialist.Build(cat, toolbox(t, "datetime", "get_license_terms"), rec)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	warnings := rec.Find(specialist.EventMissingTool)
	if len(warnings) != 3 {
		t.Fatalf("got %d warnings, want 3", len(warnings))
	}
	if warnings[0].Level != observability.LevelWarning {
		t.Errorf("got level %v, want warning", warnings[0].Level)
	}
	if warnings[0].Data["tool"] != "get_license_minting_fee" {
		t.Errorf("got tool %v, want get_license_minting_fee", warnings[0].Data["tool"])
	}

	if _, err := set.Classify("license", "mint_license_tokens"); !errors.Is(err, tools.ErrUnregisteredTool) {
		t.Errorf("skipped tool should be unregistered, got %v", err)
	}
}

func TestBuild_ToolInBothTiers(t *testing.T) {
	cat := &specialist.Catalog{Specialists: []specialist.Definition{{
		ID:        "wip",
		Safe:      []string{"deposit_wip"},
		Sensitive: []string{"deposit_wip"},
	}}}

	_, err := specialist.Build(cat, toolbox(t, "deposit_wip"), nil)
	if !errors.Is(err, tools.ErrAlreadyExists) {
		t.Errorf("Build error = %v, want %v", err, tools.ErrAlreadyExists)
	}
}

func TestCatalog_Validate(t *testing.T) {
	tests := []struct {
		name string
		cat  specialist.Catalog
		want error
	}{
		{
			name: "empty id",
			cat:  specialist.Catalog{Specialists: []specialist.Definition{{}}},
			want: specialist.ErrEmptyID,
		},
		{
			name: "duplicate",
			cat:  specialist.Catalog{Specialists: []specialist.Definition{{ID: "wip"}, {ID: "wip"}}},
			want: specialist.ErrDuplicateSpecialist,
		},
		{
			name: "reserved",
			cat:  specialist.Catalog{Specialists: []specialist.Definition{{ID: specialist.RouterID}}},
			want: specialist.ErrReservedID,
		},
		{
			name: "delegation collides with router tool",
			cat: specialist.Catalog{
				Router:      specialist.RouterDefinition{Tools: []string{"to_wip"}},
				Specialists: []specialist.Definition{{ID: "wip"}},
			},
			want: specialist.ErrDuplicateDelegation,
		},
		{
			name: "delegation override collides",
			cat: specialist.Catalog{Specialists: []specialist.Definition{
				{ID: "wip"},
				{ID: "royalty", DelegateTool: "to_wip"},
			}},
			want: specialist.ErrDuplicateDelegation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cat.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseCatalog_JSONAndErrors(t *testing.T) {
	cat, err := specialist.ParseCatalog([]byte(`{"router":{"tools":["datetime"]},"specialists":[{"id":"wip","sensitive":["transfer_wip"]}]}`))
	if err != nil {
		t.Fatalf("ParseCatalog(json) failed: %v", err)
	}
	if len(cat.Specialists) != 1 || cat.Specialists[0].Sensitive[0] != "transfer_wip" {
		t.Errorf("got %+v", cat)
	}

	if _, err := specialist.ParseCatalog([]byte("specialists: [")); !errors.Is(err, specialist.ErrInvalidCatalog) {
		t.Errorf("malformed catalog error = %v, want %v", err, specialist.ErrInvalidCatalog)
	}
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(catalogYAML), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	cat, err := specialist.LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog failed: %v", err)
	}
	if got := len(cat.Specialists); got != 2 {
		t.Errorf("got %d specialists, want 2", got)
	}

	if _, err := specialist.LoadCatalog(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("LoadCatalog(missing) should fail")
	}
}

func TestPersona_Render(t *testing.T) {
	set := build(t, nil)
	license, _ := set.Get("license")
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	got, err := license.Persona(map[string]string{"wallet_address": "0xabc"}, now)
	if err != nil {
		t.Fatalf("Persona failed: %v", err)
	}
	want := "You handle licenses for 0xabc at 2025-06-01T12:00:00Z."
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	got, err = license.Persona(nil, now)
	if err != nil {
		t.Fatalf("Persona failed: %v", err)
	}
	if !strings.Contains(got, "Not provided") {
		t.Errorf("missing wallet should render as Not provided, got %q", got)
	}
}

func TestPersona_Defaults(t *testing.T) {
	set := build(t, nil)
	now := time.Now()

	router, err := set.Router().Persona(map[string]string{"wallet_address": "0xabc"}, now)
	if err != nil {
		t.Fatalf("router Persona failed: %v", err)
	}
	if !strings.Contains(router, "Current user wallet address: 0xabc") {
		t.Errorf("router persona missing wallet: %q", router)
	}

	dispute, _ := set.Get("dispute")
	got, err := dispute.Persona(nil, now)
	if err != nil {
		t.Fatalf("dispute Persona failed: %v", err)
	}
	if !strings.HasPrefix(got, "You are the Dispute Specialist.") {
		t.Errorf("default persona should name the specialist, got %q", got)
	}
	if dispute.Agent != "smart" {
		t.Errorf("got agent %q, want %q", dispute.Agent, "smart")
	}
}

func TestPersona_InvalidTemplate(t *testing.T) {
	cat := &specialist.Catalog{Specialists: []specialist.Definition{{ID: "wip", Persona: "{{.broken"}}}
	if _, err := specialist.Build(cat, tools.NewToolbox(), nil); !errors.Is(err, specialist.ErrPersona) {
		t.Errorf("Build error = %v, want %v", err, specialist.ErrPersona)
	}
}

func TestEntryMessage(t *testing.T) {
	set := build(t, nil)
	dispute, _ := set.Get("dispute")

	msg := dispute.EntryMessage("raise a dispute against 0x1")
	for _, want := range []string{"Dispute Specialist", "raise a dispute against 0x1", tools.Escalate} {
		if !strings.Contains(msg, want) {
			t.Errorf("entry message missing %q: %q", want, msg)
		}
	}
}

func TestSet_Lookups(t *testing.T) {
	set := build(t, nil)

	if diff := cmp.Diff([]string{"license", "dispute"}, set.IDs()); diff != "" {
		t.Errorf("IDs mismatch (-want +got):\n%s", diff)
	}
	if got := len(set.Specialists()); got != 2 {
		t.Errorf("got %d specialists, want 2", got)
	}

	for _, id := range []string{"", specialist.RouterID} {
		u, err := set.Unit(id)
		if err != nil || !u.IsRouter() {
			t.Errorf("Unit(%q) = %v, %v, want router", id, u, err)
		}
	}
	if _, ok := set.Get(specialist.RouterID); ok {
		t.Error("Get should not return the router")
	}
}
