package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ppiankov/spendgate/internal/model"
)

// setupHome points HOME at a temp dir and runs init there.
func setupHome(t *testing.T) string {
	t.Helper()
	tmpDir := t.TempDir()
	t.Setenv("HOME", tmpDir)

	initForce = false
	configPath = ""
	remoteAddr = ""
	jsonOutput = false

	if err := runInit(nil, nil); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}
	return filepath.Join(tmpDir, ".spendgate")
}

// run executes the root command with args and returns stdout.
func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
		resetFlags(rootCmd)
	}()
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("spendgate %s: %v", strings.Join(args, " "), err)
	}
	return out.String()
}

// resetFlags restores every flag to its default so runs do not leak into each other.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

func TestRunInit_CreatesFiles(t *testing.T) {
	dir := setupHome(t)

	for name, want := range map[string]string{
		"config.yaml":    "base_currency",
		"rules.yaml":     "High Value Approval",
		"directory.yaml": "role_permissions",
	} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("%s not created: %v", name, err)
		}
		if !strings.Contains(string(data), want) {
			t.Errorf("%s missing %q", name, want)
		}
	}
}

func TestRunInit_NoOverwriteWithoutForce(t *testing.T) {
	dir := setupHome(t)

	rulesPath := filepath.Join(dir, "rules.yaml")
	if err := os.WriteFile(rulesPath, []byte("rules: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := runInit(nil, nil); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(rulesPath)
	if string(data) != "rules: []\n" {
		t.Error("rules.yaml was overwritten without --force")
	}

	initForce = true
	defer func() { initForce = false }()
	if err := runInit(nil, nil); err != nil {
		t.Fatal(err)
	}
	data, _ = os.ReadFile(rulesPath)
	if !strings.Contains(string(data), "Standard Approval") {
		t.Error("expected --force to restore default rules")
	}
}

func TestSubmitApproveLifecycle(t *testing.T) {
	dir := setupHome(t)

	out := run(t, "submit", "--json", "--as", "eli", "--amount", "250", "--category", "Travel", "-d", "Train to client", "--date", "2026-04-01")
	var e model.Expense
	if err := json.Unmarshal([]byte(out), &e); err != nil {
		t.Fatalf("submit output is not JSON: %v\n%s", err, out)
	}
	if e.Status != model.StatusPending || e.Plan == nil || e.Plan.RuleName != "Standard Approval" {
		t.Fatalf("unexpected expense %+v", e)
	}

	pending := run(t, "pending", "--as", "maria")
	if !strings.Contains(pending, e.ID) {
		t.Errorf("expected %s pending for maria, got:\n%s", e.ID, pending)
	}

	run(t, "approve", e.ID, "--as", "maria", "-m", "ok")
	out = run(t, "approve", e.ID, "--as", "frank", "--json")
	var done model.Expense
	if err := json.Unmarshal([]byte(out), &done); err != nil {
		t.Fatal(err)
	}
	if done.Status != model.StatusApproved || len(done.ApprovalHistory) != 2 {
		t.Fatalf("expected approved with 2 steps, got %s with %d", done.Status, len(done.ApprovalHistory))
	}

	got := run(t, "get", e.ID)
	if !strings.Contains(got, "APPROVED") || !strings.Contains(got, "maria: ok") {
		t.Errorf("unexpected get output:\n%s", got)
	}

	list := run(t, "list", "--status", "approved")
	if !strings.Contains(list, e.ID) {
		t.Errorf("expected %s in approved list", e.ID)
	}

	verify := run(t, "audit", "verify", filepath.Join(dir, "audit.jsonl"))
	if !strings.HasPrefix(verify, "OK: ") {
		t.Errorf("expected intact audit chain, got %q", verify)
	}

	replay := run(t, "audit", "replay", "--expense", e.ID)
	if !strings.Contains(replay, "2 approved") {
		t.Errorf("expected replay summary with 2 approvals, got:\n%s", replay)
	}
}

func TestMatchDoesNotStore(t *testing.T) {
	setupHome(t)

	out := run(t, "match", "--as", "eli", "--amount", "5000", "--category", "Travel", "-d", "Conference")
	if !strings.Contains(out, "High Value Approval") {
		t.Errorf("expected high value rule, got:\n%s", out)
	}
	if list := run(t, "list"); !strings.Contains(list, "No expenses.") {
		t.Errorf("match must not store, got:\n%s", list)
	}
}

func TestRulesList(t *testing.T) {
	setupHome(t)

	out := run(t, "rules", "list")
	if !strings.Contains(out, "high-value") || !strings.Contains(out, "role:manager > role:finance") {
		t.Errorf("unexpected rules list:\n%s", out)
	}
}

func TestScanFromFile(t *testing.T) {
	setupHome(t)

	path := filepath.Join(t.TempDir(), "receipt.txt")
	content := "Blue Door Restaurant\n2026-03-14\nTotal $72.60\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	out := run(t, "scan", path)
	if !strings.Contains(out, "72.60 USD") || !strings.Contains(out, "Meals") {
		t.Errorf("unexpected scan output:\n%s", out)
	}
}

func TestTokenCommand(t *testing.T) {
	setupHome(t)

	out := strings.TrimSpace(run(t, "token", "maria"))
	if strings.Count(out, ".") != 2 {
		t.Errorf("expected a JWT, got %q", out)
	}
}
