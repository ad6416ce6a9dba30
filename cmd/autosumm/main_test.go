package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"autosumm/internal/cache"
	"autosumm/internal/config"
	"autosumm/internal/item"
	"autosumm/internal/ratelimit"
	"autosumm/internal/registry"
	"autosumm/internal/services"
)

const testKeyEnv = "AUTOSUMM_TEST_DEEPSEEK_KEY"

type cliTestEnv struct {
	base       string
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	t.Setenv("HOME", filepath.Join(base, "home"))
	configPath := filepath.Join(base, "config.toml")
	content := fmt.Sprintf(`[paths]
cache_dir = %q
output_dir = %q
log_dir = %q

[run]
categories = ["cs.AI", "cs.CL"]

[providers.deepseek]
api_key = "env:%s"

[logging]
format = "json"
level = "error"
`, filepath.Join(base, "cache"), filepath.Join(base, "out"), filepath.Join(base, "logs"), testKeyEnv)
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return &cliTestEnv{base: base, configPath: configPath}
}

func (env *cliTestEnv) config(t *testing.T) *config.Config {
	t.Helper()
	cfg, _, _, err := config.Load(env.configPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func (env *cliTestEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return runCLI(t, append([]string{"--config", env.configPath}, args...))
}

func runCLI(t *testing.T, args []string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

func TestConfigInitWritesSampleOnce(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "config.toml")

	out, _, err := runCLI(t, []string{"config", "init", "--path", target})
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, "Wrote sample configuration") {
		t.Fatalf("unexpected output: %q", out)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample config missing: %v", err)
	}

	if _, _, err := runCLI(t, []string{"config", "init", "--path", target}); err == nil {
		t.Fatal("expected second init without --overwrite to fail")
	}
	if _, _, err := runCLI(t, []string{"config", "init", "--path", target, "--overwrite"}); err != nil {
		t.Fatalf("config init --overwrite: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	env := setupCLITestEnv(t)

	_, _, err := env.run(t, "config", "validate")
	var resolution *services.ConfigResolutionError
	if !errors.As(err, &resolution) {
		t.Fatalf("expected ConfigResolutionError without %s, got %v", testKeyEnv, err)
	}

	t.Setenv(testKeyEnv, "secret-key")
	out, _, err := env.run(t, "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	if !strings.Contains(out, "Configuration valid") || !strings.Contains(out, env.configPath) {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestConfigShowMasksSecrets(t *testing.T) {
	env := setupCLITestEnv(t)
	t.Setenv(testKeyEnv, "secret-key")

	out, _, err := env.run(t, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.Contains(out, "secret-key") {
		t.Fatalf("api key leaked:\n%s", out)
	}
	if !strings.Contains(out, maskedSecret) {
		t.Fatalf("expected masked key in output:\n%s", out)
	}

	out, _, err = env.run(t, "config", "show", "--reveal")
	if err != nil {
		t.Fatalf("config show --reveal: %v", err)
	}
	if !strings.Contains(out, "secret-key") {
		t.Fatalf("expected revealed key:\n%s", out)
	}
}

func TestItemsListAndRetry(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := env.run(t, "items", "list")
	if err != nil {
		t.Fatalf("items list: %v", err)
	}
	if !strings.Contains(out, "No items") {
		t.Fatalf("expected empty listing, got %q", out)
	}

	ctx := context.Background()
	store, err := registry.Open(ctx, env.config(t).RegistryDBPath())
	if err != nil {
		t.Fatalf("registry.Open: %v", err)
	}
	w := item.New("2610.00042", "v2")
	w.Title = "Sparse Attention Revisited"
	w.Category = "cs.AI"
	if err := store.Upsert(ctx, "run-1", []*item.WorkItem{w}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := store.RecordOutcome(ctx, "run-1", []registry.Outcome{{
		ID: w.ID, Status: item.StatusFailed, Stage: "summarize", ErrorKind: "upstream", Message: "503",
	}}); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	store.Close()

	out, _, err = env.run(t, "items", "list", "--status", "failed")
	if err != nil {
		t.Fatalf("items list --status failed: %v", err)
	}
	if !strings.Contains(out, "2610.00042v2") || !strings.Contains(out, "summarize") {
		t.Fatalf("expected failed item in listing, got:\n%s", out)
	}

	out, _, err = env.run(t, "items", "show", "2610.00042")
	if err != nil {
		t.Fatalf("items show: %v", err)
	}
	if !strings.Contains(out, "Sparse Attention Revisited") || !strings.Contains(out, "upstream: 503") {
		t.Fatalf("unexpected record output:\n%s", out)
	}

	out, _, err = env.run(t, "items", "retry")
	if err != nil {
		t.Fatalf("items retry: %v", err)
	}
	if !strings.Contains(out, "Retried 1 failed items") {
		t.Fatalf("unexpected retry output: %q", out)
	}

	if _, _, err := env.run(t, "items", "list", "--status", "bogus"); err == nil {
		t.Fatal("expected unknown status to fail")
	}
	if _, _, err := env.run(t, "items", "show", "9999.99999"); err == nil {
		t.Fatal("expected unknown item to fail")
	}
}

func TestCacheStatsAndClear(t *testing.T) {
	env := setupCLITestEnv(t)

	ctx := context.Background()
	store, err := cache.Open(ctx, env.config(t).CacheDBPath())
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}
	if err := store.Put(ctx, "token-parse", item.TextPayload("parse", "body"), time.Hour); err != nil {
		t.Fatalf("Put parse: %v", err)
	}
	if err := store.Put(ctx, "token-summarize", item.TextPayload("summarize", "summary"), time.Hour); err != nil {
		t.Fatalf("Put summarize: %v", err)
	}
	store.Close()

	out, _, err := env.run(t, "cache", "stats")
	if err != nil {
		t.Fatalf("cache stats: %v", err)
	}
	if !strings.Contains(out, "Entries:   2") || !strings.Contains(out, "summarize") {
		t.Fatalf("unexpected stats output:\n%s", out)
	}

	if _, _, err := env.run(t, "cache", "clear", "--stage", "transcode"); err == nil {
		t.Fatal("expected unknown stage to fail")
	}

	out, _, err = env.run(t, "cache", "clear", "--stage", "parse")
	if err != nil {
		t.Fatalf("cache clear --stage parse: %v", err)
	}
	if !strings.Contains(out, "Cleared 1 parse entries") {
		t.Fatalf("unexpected clear output: %q", out)
	}

	out, _, err = env.run(t, "cache", "clear")
	if err != nil {
		t.Fatalf("cache clear: %v", err)
	}
	if !strings.Contains(out, "Cleared 1 entries") {
		t.Fatalf("unexpected clear output: %q", out)
	}
}

func TestCacheDeliveredListsRecentPapers(t *testing.T) {
	env := setupCLITestEnv(t)

	ctx := context.Background()
	store, err := cache.Open(ctx, env.config(t).CacheDBPath())
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}
	now := time.Now()
	err = store.MarkDelivered(ctx, []cache.Delivery{
		{ItemID: "2610.00001", Revision: "v2", Title: "Recent paper", RunID: "run-1", DeliveredAt: now.Add(-time.Hour)},
		{ItemID: "2609.00009", Revision: "v1", Title: "Old paper", RunID: "run-0", DeliveredAt: now.AddDate(0, 0, -30)},
	})
	if err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	store.Close()

	out, _, err := env.run(t, "cache", "delivered")
	if err != nil {
		t.Fatalf("cache delivered: %v", err)
	}
	if !strings.Contains(out, "2610.00001v2") || strings.Contains(out, "2609.00009") {
		t.Fatalf("unexpected delivered output:\n%s", out)
	}

	out, _, err = env.run(t, "cache", "delivered", "--days", "60", "--json")
	if err != nil {
		t.Fatalf("cache delivered --json: %v", err)
	}
	if !strings.Contains(out, `"item_id": "2609.00009"`) {
		t.Fatalf("expected older delivery in JSON output:\n%s", out)
	}

	if _, _, err := env.run(t, "cache", "delivered", "--days", "0"); err == nil {
		t.Fatal("expected --days 0 to fail")
	}
}

func TestPrintCallsSkipsIdleWrappers(t *testing.T) {
	var buf bytes.Buffer
	printCalls(&buf, []ratelimit.Stats{
		{Provider: "arxiv", Stage: "discover", Calls: 2, Retries: 1},
		{Provider: "deepseek", Stage: "summarize"},
	})
	out := buf.String()
	if !strings.Contains(out, "arxiv") || strings.Contains(out, "summarize") {
		t.Fatalf("unexpected calls table:\n%s", out)
	}
}

func TestRunsListEmpty(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := env.run(t, "runs", "list")
	if err != nil {
		t.Fatalf("runs list: %v", err)
	}
	if !strings.Contains(out, "No runs recorded") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestTestNotifyWithoutTopic(t *testing.T) {
	env := setupCLITestEnv(t)

	out, _, err := env.run(t, "test-notify")
	if err != nil {
		t.Fatalf("test-notify: %v", err)
	}
	if !strings.Contains(out, "not configured") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestDepsReportsMissingTools(t *testing.T) {
	env := setupCLITestEnv(t)
	t.Setenv("PATH", t.TempDir())

	out, _, err := env.run(t, "deps")
	if err == nil {
		t.Fatal("expected missing pdftotext to fail")
	}
	if !strings.Contains(out, "pdftotext") || !strings.Contains(out, "missing (optional)") {
		t.Fatalf("unexpected deps output:\n%s", out)
	}
}
