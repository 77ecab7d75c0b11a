package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/tailored-agentic-units/dispatch/core/protocol"
	"github.com/tailored-agentic-units/dispatch/engine"
	"github.com/tailored-agentic-units/dispatch/observability"
	"github.com/tailored-agentic-units/dispatch/rpc"
	"github.com/tailored-agentic-units/dispatch/session"
	"github.com/tailored-agentic-units/dispatch/specialist"
	"github.com/tailored-agentic-units/dispatch/tools"
)

func TestDefaultCatalog(t *testing.T) {
	cat, err := specialist.ParseCatalog(defaultCatalog)
	if err != nil {
		t.Fatalf("ParseCatalog failed: %v", err)
	}

	recorder := observability.NewRecorder()
	set, err := specialist.Build(cat, storyToolbox(), recorder)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if n := recorder.Count(specialist.EventMissingTool); n != 0 {
		t.Errorf("got %d missing tool warnings, want 0: %v", n, recorder.Find(specialist.EventMissingTool))
	}

	want := map[string]struct{ safe, sensitive []string }{
		"dispute":   {nil, []string{"raise_dispute"}},
		"ipaccount": {[]string{"get_erc20_token_balance"}, []string{"mint_test_erc20_tokens"}},
		"ipasset": {nil, []string{
			"attach_license_terms", "create_ip_metadata", "mint_and_register_ip_with_terms", "register", "upload_image_to_ipfs",
		}},
		"license": {
			[]string{"get_license_minting_fee", "get_license_revenue_share", "get_license_terms"},
			[]string{"mint_license_tokens"},
		},
		"nftclient": {[]string{"get_spg_nft_contract_minting_fee_and_token"}, []string{"create_spg_nft_collection"}},
		"royalty":   {nil, []string{"claim_all_revenue", "pay_royalty_on_behalf"}},
		"wip":       {nil, []string{"deposit_wip", "transfer_wip"}},
	}

	if diff := cmp.Diff([]string{"dispute", "ipaccount", "ipasset", "license", "nftclient", "royalty", "wip"}, set.IDs()); diff != "" {
		t.Errorf("specialists mismatch (-want +got):\n%s", diff)
	}
	for id, tiers := range want {
		s, ok := set.Get(id)
		if !ok {
			t.Errorf("specialist %s missing", id)
			continue
		}
		if diff := cmp.Diff(tiers.safe, s.Registry.NamesByTier(tools.TierSafe)); diff != "" {
			t.Errorf("%s safe tools (-want +got):\n%s", id, diff)
		}
		if diff := cmp.Diff(tiers.sensitive, s.Registry.NamesByTier(tools.TierSensitive)); diff != "" {
			t.Errorf("%s sensitive tools (-want +got):\n%s", id, diff)
		}
	}

	persona, err := set.Router().Persona(map[string]string{session.MetaWalletAddress: "0xabc"}, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("Persona failed: %v", err)
	}
	if !strings.Contains(persona, "Current user wallet address: 0xabc\n\nCurrent time: 2025-06-01T00:00:00Z.") {
		t.Errorf("router persona missing metadata block: %q", persona)
	}
}

func TestOptions_Observer(t *testing.T) {
	recorder := observability.NewRecorder()
	observability.RegisterObserver("dispatch-cli-test", recorder)

	cfg := engine.DefaultConfig()
	cfg.Observer = "dispatch-cli-test"
	opts := &options{}
	obs, err := opts.observer(&cfg)
	if err != nil {
		t.Fatalf("observer failed: %v", err)
	}

	obs.OnEvent(context.Background(), observability.Event{Type: "cli.test", Level: observability.LevelInfo})
	if n := recorder.Count("cli.test"); n != 1 {
		t.Errorf("configured observer got %d events, want 1", n)
	}
	if again, _ := opts.observer(&cfg); again != obs {
		t.Error("observer should be built once per invocation")
	}

	cfg.Observer = "missing"
	if _, err := (&options{}).observer(&cfg); err == nil {
		t.Error("an unknown configured observer should fail")
	}
}

func TestStoryTool_DryRun(t *testing.T) {
	box := storyToolbox()
	binding, ok := box.Lookup("raise_dispute")
	if !ok {
		t.Fatal("raise_dispute not provided")
	}

	tests := []struct {
		name    string
		args    string
		wantErr bool
		want    string
	}{
		{"complete", `{"target_ip_id":"0x1","dispute_evidence_hash":"bafy","target_tag":"PLAGIARISM"}`, false, "target_tag: PLAGIARISM"},
		{"missing", `{"target_ip_id":"0x1"}`, true, "dispute_evidence_hash, target_tag"},
		{"malformed", `{`, true, "invalid arguments"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := binding.Handler(context.Background(), json.RawMessage(tt.args))
			if err != nil {
				t.Fatalf("handler error: %v", err)
			}
			if res.IsError != tt.wantErr {
				t.Errorf("got IsError %v, want %v", res.IsError, tt.wantErr)
			}
			if !strings.Contains(res.Content, tt.want) {
				t.Errorf("got %q, want it to contain %q", res.Content, tt.want)
			}
		})
	}
}

// scriptedDispatcher suspends the first Submit and completes on Resume.
type scriptedDispatcher struct {
	decisions []engine.Decision
	submits   int

	// pending, when set, is reported by GetState as an outstanding approval.
	pending *session.PendingApproval
}

func (d *scriptedDispatcher) Submit(_ context.Context, threadID, _ string, _ map[string]string) (*engine.Outcome, error) {
	d.submits++
	if d.pending != nil {
		return nil, engine.ErrApprovalPending
	}
	call := protocol.ToolCall{ID: "c1", Name: "mint_license_tokens", Arguments: map[string]any{"amount": 1}}
	return &engine.Outcome{
		ThreadID: threadID,
		Status:   engine.StatusSuspended,
		Messages: []protocol.Message{
			protocol.NewMessage(protocol.RoleAssistant, "I will mint one license token."),
		},
		Pending: &session.PendingApproval{Specialist: "license", Calls: []protocol.ToolCall{call}},
		Active:  "license",
	}, nil
}

func (d *scriptedDispatcher) Resume(_ context.Context, threadID string, dec engine.Decision) (*engine.Outcome, error) {
	d.decisions = append(d.decisions, dec)
	d.pending = nil
	reply := protocol.NewMessage(protocol.RoleAssistant, "All done.")
	return &engine.Outcome{
		ThreadID: threadID,
		Status:   engine.StatusComplete,
		Messages: []protocol.Message{reply},
		Reply:    &reply,
	}, nil
}

func (d *scriptedDispatcher) GetState(_ context.Context, threadID string) (*session.State, error) {
	if d.pending == nil {
		return nil, engine.ErrThreadNotFound
	}
	st := session.New(threadID, nil)
	st.Stack.Push(d.pending.Specialist)
	st.Pending = d.pending
	return st, nil
}

func newScanner(input string) *bufio.Scanner {
	return bufio.NewScanner(strings.NewReader(input))
}

func TestChat_ApproveAndDeny(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		want   engine.Decision
	}{
		{"approve", "y", engine.Approve()},
		{"deny", "no thanks, too expensive", engine.Deny("no thanks, too expensive")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &scriptedDispatcher{}
			var out bytes.Buffer
			c := &chat{
				d:      d,
				thread: "t1",
				in:     newScanner("mint a license\n" + tt.answer + "\nquit\n"),
				out:    &out,
			}

			if err := c.run(context.Background()); err != nil {
				t.Fatalf("run failed: %v", err)
			}

			if diff := cmp.Diff([]engine.Decision{tt.want}, d.decisions); diff != "" {
				t.Errorf("decisions mismatch (-want +got):\n%s", diff)
			}
			for _, want := range []string{
				"Assistant: I will mint one license token.",
				`[1] mint_license_tokens({"amount":1})`,
				"Assistant: All done.",
				"Goodbye!",
			} {
				if !strings.Contains(out.String(), want) {
					t.Errorf("output missing %q:\n%s", want, out.String())
				}
			}
		})
	}
}

func TestChat_ResumesSuspendedThread(t *testing.T) {
	d := &scriptedDispatcher{pending: &session.PendingApproval{
		Specialist: "wip",
		Calls:      []protocol.ToolCall{{ID: "c9", Name: "transfer_wip", Arguments: map[string]any{"to": "0xbeef"}}},
	}}
	var out bytes.Buffer
	c := &chat{d: d, thread: "t1", in: newScanner("y\nquit\n"), out: &out}

	if err := c.run(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if diff := cmp.Diff([]engine.Decision{engine.Approve()}, d.decisions); diff != "" {
		t.Errorf("decisions mismatch (-want +got):\n%s", diff)
	}
	if d.submits != 0 {
		t.Errorf("got %d submits before the approval was settled, want 0", d.submits)
	}
	for _, want := range []string{
		"The wip wants to run:",
		`[1] transfer_wip({"to":"0xbeef"})`,
		"Assistant: All done.",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q:\n%s", want, out.String())
		}
	}
	if strings.Contains(out.String(), "Error:") {
		t.Errorf("unexpected error output:\n%s", out.String())
	}
}

func TestChat_EndOfInput(t *testing.T) {
	c := &chat{d: &scriptedDispatcher{}, thread: "t1", in: newScanner(""), out: io.Discard}
	if err := c.run(context.Background()); err != nil {
		t.Errorf("run at EOF returned %v, want nil", err)
	}
}

func TestServe_GracefulShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, ln, &scriptedDispatcher{}, nil, io.Discard) }()

	transport := &http.Transport{}
	defer transport.CloseIdleConnections()
	client := rpc.NewClient(&http.Client{Transport: transport}, "http://"+ln.Addr().String())

	out, err := client.Submit(context.Background(), "t1", "mint a license", nil)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if !out.Suspended() || out.Pending.Calls[0].Name != "mint_license_tokens" {
		t.Errorf("got outcome %+v", out)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve returned %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}
}
