// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bodaay/assetfetch/pkg/assetfetch"
)

// isolate keeps the host's config file and tokens out of a test.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	for _, k := range []string{"MODEL_TYPE", "HF_TOKEN", "HUGGINGFACE_ACCESS_TOKEN", "ASSETFETCH_TOKEN", "ASSETFETCH_SET", "ASSETFETCH_MODELS_DIR"} {
		t.Setenv(k, "")
	}
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd("test")
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// writeCatalog writes a catalog whose "mini" set is served by an httptest
// server, and returns the catalog path.
func writeCatalog(t *testing.T, dir string, files map[string]int) string {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, ok := files[strings.TrimPrefix(r.URL.Path, "/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(make([]byte, n)))
	}))
	t.Cleanup(ts.Close)

	var b strings.Builder
	b.WriteString("sets:\n  mini:\n")
	for _, name := range []string{"vae", "clip"} {
		if _, ok := files[name]; ok {
			fmt.Fprintf(&b, "    - path: %s/%s.safetensors\n      url: %s/%s\n", name, name, ts.URL, name)
		}
	}
	b.WriteString("  locked:\n    - path: unet/locked.safetensors\n      url: " + ts.URL + "/vae\n      auth: true\n")

	path := filepath.Join(dir, "catalog.yaml")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"configuration", fmt.Errorf("%w: unknown set", assetfetch.ErrConfiguration), ExitConfiguration},
		{"auth", &assetfetch.FetchError{Kind: assetfetch.KindAuthRequired, Index: 0}, ExitAuthRequired},
		{"exhausted", &assetfetch.FetchError{Kind: assetfetch.KindExhaustedRetries, Index: 1, Attempts: 3}, ExitExhausted},
		{"other", errors.New("boom"), ExitFailure},
		{"cancelled", context.Canceled, ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestFetch_MissingSet(t *testing.T) {
	isolate(t)
	_, err := run(t, "--models-dir", t.TempDir())
	if ExitCode(err) != ExitConfiguration {
		t.Fatalf("Expected configuration error, got %v", err)
	}
}

func TestFetch_UnknownSet(t *testing.T) {
	isolate(t)
	_, err := run(t, "fetch", "sd15", "--models-dir", t.TempDir())
	if ExitCode(err) != ExitConfiguration {
		t.Fatalf("Expected configuration error, got %v", err)
	}
	if !strings.Contains(err.Error(), "sdxl") {
		t.Errorf("Error should list the known sets: %v", err)
	}
}

func TestFetch_GatedWithoutToken(t *testing.T) {
	isolate(t)
	root := t.TempDir()
	_, err := run(t, "flux1-dev", "--models-dir", root)
	if ExitCode(err) != ExitAuthRequired {
		t.Fatalf("Expected auth required, got %v", err)
	}
	entries, _ := os.ReadDir(root)
	if len(entries) != 0 {
		t.Errorf("Nothing should be written, found %d entries", len(entries))
	}
}

func TestFetch_EndToEnd(t *testing.T) {
	isolate(t)
	root := t.TempDir()
	catalog := writeCatalog(t, t.TempDir(), map[string]int{"vae": 8192, "clip": 4096})
	prom := filepath.Join(t.TempDir(), "assetfetch.prom")

	out, err := run(t, "fetch", "mini", "--json",
		"--models-dir", root, "--catalog", catalog,
		"--retry-delay", "1ms", "--metrics-textfile", prom)
	if err != nil {
		t.Fatalf("fetch failed: %v\n%s", err, out)
	}

	var events []assetfetch.ProgressEvent
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		var ev assetfetch.ProgressEvent
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("Output is not JSON lines: %q", line)
		}
		events = append(events, ev)
	}
	if last := events[len(events)-1]; last.Event != "done" || last.Set != "mini" {
		t.Errorf("Expected a final done event, got %+v", last)
	}

	for name, size := range map[string]int64{"vae": 8192, "clip": 4096} {
		fi, err := os.Stat(filepath.Join(root, name, name+".safetensors"))
		if err != nil {
			t.Fatalf("%s not downloaded: %v", name, err)
		}
		if fi.Size() != size {
			t.Errorf("%s: expected %d bytes, got %d", name, size, fi.Size())
		}
	}

	metrics, err := os.ReadFile(prom)
	if err != nil {
		t.Fatalf("metrics textfile not written: %v", err)
	}
	if !strings.Contains(string(metrics), `assetfetch_files_total{outcome="downloaded",set="mini"} 2`) {
		t.Errorf("Unexpected metrics:\n%s", metrics)
	}

	// A second run finds everything in place.
	out, err = run(t, "mini", "--quiet", "--models-dir", root, "--catalog", catalog)
	if err != nil {
		t.Fatalf("second fetch failed: %v", err)
	}
	if !strings.Contains(out, "asset set mini ready") {
		t.Errorf("Quiet mode should print the summary, got %q", out)
	}
}

func TestFetch_SetFromEnvironment(t *testing.T) {
	isolate(t)
	root := t.TempDir()
	catalog := writeCatalog(t, t.TempDir(), map[string]int{"vae": 1024})
	t.Setenv("MODEL_TYPE", " mini\n")

	if _, err := run(t, "--quiet", "--models-dir", root, "--catalog", catalog); err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "vae", "vae.safetensors")); err != nil {
		t.Errorf("Set from MODEL_TYPE was not fetched: %v", err)
	}
}

func TestPlan(t *testing.T) {
	isolate(t)
	root := t.TempDir()
	catalog := writeCatalog(t, t.TempDir(), map[string]int{"vae": 2048, "clip": 1024})

	out, err := run(t, "plan", "mini", "--models-dir", root, "--catalog", catalog)
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	if !strings.Contains(out, "Plan for mini (2 files, 2 to download") {
		t.Errorf("Unexpected plan header:\n%s", out)
	}
	if strings.Count(out, "fetch ") != 2 {
		t.Errorf("Expected two fetch rows:\n%s", out)
	}

	out, err = run(t, "mini", "--dry-run", "--json", "--models-dir", root, "--catalog", catalog)
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	var p assetfetch.Plan
	if err := json.Unmarshal([]byte(out), &p); err != nil {
		t.Fatalf("Plan is not JSON: %v\n%s", err, out)
	}
	if p.Pending() != 2 {
		t.Errorf("Expected 2 pending, got %d", p.Pending())
	}
	if entries, _ := os.ReadDir(root); len(entries) != 0 {
		t.Error("A dry run must not write anything")
	}

	out, _ = run(t, "plan", "locked", "--models-dir", root, "--catalog", catalog)
	if !strings.Contains(out, "blocked") {
		t.Errorf("Gated descriptor without a token should be blocked:\n%s", out)
	}
}

func TestSets(t *testing.T) {
	isolate(t)
	out, err := run(t, "sets", "--json")
	if err != nil {
		t.Fatal(err)
	}
	var infos []setInfo
	if err := json.Unmarshal([]byte(out), &infos); err != nil {
		t.Fatal(err)
	}
	got := map[string]setInfo{}
	for _, s := range infos {
		got[s.Name] = s
	}
	if got["sdxl"].Files != 3 || got["sdxl"].RequiresAuth {
		t.Errorf("Unexpected sdxl: %+v", got["sdxl"])
	}
	if got["flux1-dev"].Files != 4 || !got["flux1-dev"].RequiresAuth {
		t.Errorf("Unexpected flux1-dev: %+v", got["flux1-dev"])
	}

	out, _ = run(t, "sets")
	if !strings.HasPrefix(out, "SET") || !strings.Contains(out, "required") {
		t.Errorf("Unexpected table:\n%s", out)
	}
}

func TestPrintPlan(t *testing.T) {
	p := &assetfetch.Plan{Set: "demo", Items: []assetfetch.PlanItem{
		{AssetDescriptor: assetfetch.AssetDescriptor{DestinationPath: "/m/a"}, Remote: assetfetch.SizeHint(2_000_000), Download: true, Reason: "absent"},
		{AssetDescriptor: assetfetch.AssetDescriptor{DestinationPath: "/m/b"}, Remote: assetfetch.SizeHint(1000), Valid: true, Reason: "size matches"},
		{AssetDescriptor: assetfetch.AssetDescriptor{DestinationPath: "/m/c"}, Blocked: true, Download: true, Reason: "token required"},
	}}
	var buf bytes.Buffer
	if err := printPlan(&buf, p, false); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("Expected header and 3 rows, got:\n%s", buf.String())
	}
	if !strings.Contains(lines[0], "2.0 MB") {
		t.Errorf("Header should total the known pending bytes: %s", lines[0])
	}
	for i, want := range []string{"fetch", "ok", "blocked"} {
		if !strings.HasPrefix(strings.TrimSpace(lines[i+1]), want) {
			t.Errorf("Row %d: expected %s, got %q", i, want, lines[i+1])
		}
	}
	if !strings.Contains(lines[3], "unknown") {
		t.Errorf("Unprobed size should read unknown: %q", lines[3])
	}
}

func TestConfigInitAndShow(t *testing.T) {
	isolate(t)
	out, err := run(t, "config", "init", "--yaml")
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(os.Getenv("HOME"), ".config", "assetfetch.yaml")
	if !strings.Contains(out, path) {
		t.Errorf("Expected created path in output: %s", out)
	}
	if _, err := run(t, "config", "init", "--yaml"); err == nil {
		t.Error("Second init without --force should fail")
	}

	t.Setenv("HF_TOKEN", "hf_secret1234")
	out, err = run(t, "config", "show")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "hf_secret1234") || !strings.Contains(out, "********1234") {
		t.Errorf("Token should be masked:\n%s", out)
	}

	t.Setenv("HF_TOKEN", "hf_x")
	out, err = run(t, "config", "show")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(out, "hf_x") {
		t.Errorf("Short token should be fully masked:\n%s", out)
	}
	if !strings.Contains(out, "config file: "+path) {
		t.Errorf("Expected the discovered file:\n%s", out)
	}

	out, _ = run(t, "config", "path")
	if strings.TrimSpace(out) != path {
		t.Errorf("Expected %s, got %s", path, out)
	}
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version", "--short")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "test" {
		t.Errorf("Expected test, got %q", out)
	}

	out, _ = run(t, "version", "--json")
	var info BuildInfo
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("Expected JSON, got %q", out)
	}
	if info.Version != "test" || info.GoVersion == "" {
		t.Errorf("Unexpected build info: %+v", info)
	}
}
