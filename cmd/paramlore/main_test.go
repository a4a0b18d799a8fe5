package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperengineering/paramlore/internal/snapshot"
)

const (
	plateFixture = "../../fixtures/valhalla_plate.yaml"
	tapeFixture  = "../../fixtures/tape_delay.yaml"
)

// isolate points configuration at a fresh temp directory and returns the
// knowledge base path.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, v := range []string{
		"PARAMLORE_KB_BACKEND",
		"PARAMLORE_KB_NAME",
		"PARAMLORE_KB_CATALOG",
		"PARAMLORE_SNAPSHOT_BUCKET",
		"PARAMLORE_S3_ENDPOINT",
		"PARAMLORE_WRITES_PER_SECOND",
		"PARAMLORE_LOG_FORMAT",
	} {
		t.Setenv(v, "")
	}
	t.Setenv("PARAMLORE_CONFIG_PATH", filepath.Join(dir, "absent.yaml"))
	t.Setenv("PARAMLORE_LOG_LEVEL", "error")
	path := filepath.Join(dir, "kb", "knowledge.json")
	t.Setenv("PARAMLORE_KB_PATH", path)
	return path
}

// executeCmd runs the root command with captured output.
func executeCmd(t *testing.T, args ...string) (stdout, stderr string, err error) {
	t.Helper()

	// Cobra parses into package-level variables; reset them so values from
	// a previous test do not leak.
	configPath = ""
	kbPathOverride = ""
	jsonOutput = false
	discoverParallel = 0
	discoverOutDir = ""
	kbWatch = false

	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)
	rootCmd.SetOut(outBuf)
	rootCmd.SetErr(errBuf)
	rootCmd.SetArgs(args)

	err = rootCmd.Execute()

	rootCmd.SetOut(nil)
	rootCmd.SetErr(nil)
	rootCmd.SetArgs(nil)

	return outBuf.String(), errBuf.String(), err
}

func decodeJSON(t *testing.T, s string, v any) {
	t.Helper()
	if err := json.Unmarshal([]byte(s), v); err != nil {
		t.Fatalf("invalid JSON output: %v\n%s", err, s)
	}
}

func TestDiscover_TextOutput(t *testing.T) {
	isolate(t)

	out, _, err := executeCmd(t, "discover", plateFixture)
	if err != nil {
		t.Fatalf("discover error = %v", err)
	}

	for _, want := range []string{
		"ValhallaPlate",
		"Signature:   reverb.plate",
		"PARAMETER",
		"string_numeric",
		"%.2f s",
		"1970s|1980s|Now",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestDiscover_JSONOutput(t *testing.T) {
	isolate(t)

	// Single fixture: one document
	out, _, err := executeCmd(t, "discover", "--json", plateFixture)
	if err != nil {
		t.Fatalf("discover error = %v", err)
	}
	var doc map[string]any
	decodeJSON(t, out, &doc)
	meta := doc["metadata"].(map[string]any)
	if meta["plugin_name"] != "ValhallaPlate" {
		t.Errorf("metadata = %v", meta)
	}

	// Several fixtures: an array in argument order
	out, _, err = executeCmd(t, "discover", "--json", "--parallel", "2", plateFixture, tapeFixture)
	if err != nil {
		t.Fatalf("discover error = %v", err)
	}
	var docs []map[string]any
	decodeJSON(t, out, &docs)
	if len(docs) != 2 {
		t.Fatalf("got %d documents, want 2", len(docs))
	}
	if name := docs[1]["metadata"].(map[string]any)["plugin_name"]; name != "TapeEcho" {
		t.Errorf("second document plugin = %v, want TapeEcho", name)
	}
}

func TestDiscover_OutDir(t *testing.T) {
	isolate(t)
	dir := filepath.Join(t.TempDir(), "records")

	if _, _, err := executeCmd(t, "discover", "--out", dir, tapeFixture); err != nil {
		t.Fatalf("discover error = %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("ReadDir() = %v, %v; want one document", entries, err)
	}
	if !strings.HasPrefix(entries[0].Name(), "TapeEcho-") {
		t.Errorf("document name = %s", entries[0].Name())
	}
	data, _ := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	var doc map[string]any
	decodeJSON(t, string(data), &doc)
	if _, ok := doc["parameters"].(map[string]any)["delay_time"]; !ok {
		t.Errorf("document lacks delay_time: %s", data)
	}
}

func TestDiscover_MissingFixture(t *testing.T) {
	isolate(t)

	_, _, err := executeCmd(t, "discover", "does-not-exist.yaml")
	if err == nil || !strings.Contains(err.Error(), "does-not-exist.yaml") {
		t.Errorf("discover error = %v, want fixture error", err)
	}
}

func TestDiscover_RequiresFixture(t *testing.T) {
	isolate(t)

	if _, _, err := executeCmd(t, "discover"); err == nil {
		t.Error("discover without arguments should fail")
	}
}

func TestKB_StatsAfterDiscovery(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		file    string
	}{
		{"file backend", "file", "knowledge.json"},
		{"sqlite backend", "sqlite", "knowledge.db"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := isolate(t)
			t.Setenv("PARAMLORE_KB_BACKEND", tt.backend)
			t.Setenv("PARAMLORE_KB_PATH", filepath.Join(filepath.Dir(path), tt.file))

			if _, _, err := executeCmd(t, "discover", plateFixture); err != nil {
				t.Fatalf("discover error = %v", err)
			}

			// A second process sees what the first learned
			out, _, err := executeCmd(t, "kb", "stats", "--json")
			if err != nil {
				t.Fatalf("kb stats error = %v", err)
			}
			var stats map[string]any
			decodeJSON(t, out, &stats)
			if stats["plugins_analyzed"] != float64(1) || stats["effect_signatures"] != float64(1) {
				t.Errorf("stats = %v", stats)
			}
			if stats["formats_learned"].(float64) < 1 {
				t.Errorf("formats_learned = %v, want at least decay", stats["formats_learned"])
			}
		})
	}
}

func TestKB_StatsText(t *testing.T) {
	isolate(t)
	if _, _, err := executeCmd(t, "discover", plateFixture); err != nil {
		t.Fatalf("discover error = %v", err)
	}

	out, _, err := executeCmd(t, "kb", "stats")
	if err != nil {
		t.Fatalf("kb stats error = %v", err)
	}
	for _, want := range []string{"Plugins analyzed:   1", "PLUGIN", "ValhallaPlate", "reverb.plate"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestKB_Show(t *testing.T) {
	isolate(t)
	if _, _, err := executeCmd(t, "discover", plateFixture); err != nil {
		t.Fatalf("discover error = %v", err)
	}

	out, _, err := executeCmd(t, "kb", "show")
	if err != nil {
		t.Fatalf("kb show error = %v", err)
	}
	var snap struct {
		Formats map[string]map[string]any `json:"format_by_param_name"`
	}
	decodeJSON(t, out, &snap)
	decay, ok := snap.Formats["decay"]
	if !ok || decay["unit_suffix"] != "s" {
		t.Errorf("decay format = %v, %v", decay, ok)
	}
}

func TestKB_Flush(t *testing.T) {
	path := isolate(t)

	out, _, err := executeCmd(t, "kb", "flush")
	if err != nil {
		t.Fatalf("kb flush error = %v", err)
	}
	if !strings.Contains(out, path) {
		t.Errorf("output = %q, want path", out)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("knowledge base not written: %v", err)
	}
}

func TestKB_OverridePath(t *testing.T) {
	isolate(t)
	override := filepath.Join(t.TempDir(), "other.json")

	if _, _, err := executeCmd(t, "kb", "flush", "--kb", override); err != nil {
		t.Fatalf("kb flush error = %v", err)
	}
	if _, err := os.Stat(override); err != nil {
		t.Errorf("--kb path not written: %v", err)
	}
}

func TestKB_PublishNotConfigured(t *testing.T) {
	isolate(t)

	_, _, err := executeCmd(t, "kb", "publish")
	if !errors.Is(err, snapshot.ErrNotConfigured) {
		t.Errorf("kb publish error = %v, want ErrNotConfigured", err)
	}
}

func TestKB_BadCatalog(t *testing.T) {
	isolate(t)
	t.Setenv("PARAMLORE_KB_CATALOG", filepath.Join(t.TempDir(), "missing.yaml"))

	_, _, err := executeCmd(t, "kb", "stats")
	if err == nil || !strings.Contains(err.Error(), "read catalog") {
		t.Errorf("kb stats error = %v, want catalog error", err)
	}
}

func TestVersion(t *testing.T) {
	isolate(t)

	out, _, err := executeCmd(t, "version")
	if err != nil || strings.TrimSpace(out) != "paramlore dev" {
		t.Errorf("version = %q, %v", out, err)
	}

	out, _, _ = executeCmd(t, "version", "--json")
	var v map[string]string
	decodeJSON(t, out, &v)
	if v["version"] != "dev" {
		t.Errorf("version JSON = %v", v)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]string{
		"debug":   "DEBUG",
		"warn":    "WARN",
		"error":   "ERROR",
		"info":    "INFO",
		"verbose": "INFO",
	}
	for in, want := range tests {
		if got := parseLogLevel(in).String(); got != want {
			t.Errorf("parseLogLevel(%q) = %s, want %s", in, got, want)
		}
	}
}
