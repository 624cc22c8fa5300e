package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

const recipePage = `<html lang="en-US"><head>
<script type="application/ld+json">
{"@context":"https://schema.org","@type":"Recipe","name":"Toast",
 "recipeYield":"2","recipeIngredient":["2 slices bread","1 tbsp butter"],
 "recipeInstructions":[{"@type":"HowToStep","text":"Toast the bread for 3 min."}]}
</script></head><body></body></html>`

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

// TestRunJSONDirectory ingests the AllRecipes fixture into a memory store
func TestRunJSONDirectory(t *testing.T) {
	code, stdout, stderr := runCLI(t, "-memory", "-log-level", "error", "-json", "../../pkg/larder/scrape/testdata")
	if code != exitOK {
		t.Fatalf("Expected exit 0, got %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "fed: 1") {
		t.Errorf("Expected one fed item, got:\n%s", stdout)
	}
	if !strings.Contains(stdout, "recipes stored: 1") {
		t.Errorf("Expected one stored recipe, got:\n%s", stdout)
	}
	for _, stage := range []string{"load", "extract"} {
		if !strings.Contains(stdout, stage) {
			t.Errorf("Summary should list stage %q:\n%s", stage, stdout)
		}
	}
}

// TestRunURLsThenReplay fetches into a SQLite database and re-extracts from
// the archive without hitting the server again
func TestRunURLsThenReplay(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, recipePage)
	}))
	defer srv.Close()

	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "larder.db")
	listPath := filepath.Join(tmpDir, "urls.txt")
	list := "# test\n" + srv.URL + "/toast\n"
	if err := os.WriteFile(listPath, []byte(list), 0644); err != nil {
		t.Fatal(err)
	}

	code, stdout, stderr := runCLI(t, "-db", dbPath, "-log-level", "error", "-urls", listPath)
	if code != exitOK {
		t.Fatalf("Expected exit 0, got %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "recipes stored: 1") {
		t.Errorf("Expected one stored recipe, got:\n%s", stdout)
	}
	if !strings.Contains(stdout, "archive") {
		t.Errorf("Summary should list the archive stage:\n%s", stdout)
	}

	code, stdout, stderr = runCLI(t, "-db", dbPath, "-log-level", "error", "-replay")
	if code != exitOK {
		t.Fatalf("Expected replay exit 0, got %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "replay") {
		t.Errorf("Summary should list the replay stage:\n%s", stdout)
	}
	if !strings.Contains(stdout, "recipes stored: 1") {
		t.Errorf("Replay should update the stored recipe in place, got:\n%s", stdout)
	}
	if n := hits.Load(); n != 1 {
		t.Errorf("Expected 1 request, got %d", n)
	}
}

func TestRunNoArchive(t *testing.T) {
	code, stdout, _ := runCLI(t, "-memory", "-no-archive", "-log-level", "error", "-urls", writeList(t, "/nonexistent/recipe.html"))
	if code != exitOK {
		t.Fatalf("Item failures should not fail the run, got %d", code)
	}
	if strings.Contains(stdout, "archive") {
		t.Errorf("Archive stage should be left out:\n%s", stdout)
	}
	if !strings.Contains(stdout, "recipes stored: 0") {
		t.Errorf("Expected nothing stored, got:\n%s", stdout)
	}
}

func writeList(t *testing.T, refs ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "urls.txt")
	if err := os.WriteFile(path, []byte(strings.Join(refs, "\n")), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunUsageErrors(t *testing.T) {
	dir := "../../pkg/larder/scrape/testdata"
	tests := []struct {
		name string
		args []string
		want int
	}{
		{"no source", []string{"-memory"}, exitUsage},
		{"two sources", []string{"-memory", "-json", dir, "-replay"}, exitUsage},
		{"unknown flag", []string{"-bogus"}, exitUsage},
		{"stray argument", []string{"-memory", "-replay", "extra"}, exitUsage},
		{"bad log level", []string{"-memory", "-log-level", "chatty", "-json", dir}, exitUsage},
		{"missing config", []string{"-config", "/nonexistent/larder.yaml", "-memory", "-json", dir}, exitUsage},
		{"help", []string{"-h"}, exitOK},
		{"empty archive", []string{"-memory", "-log-level", "error", "-replay"}, exitFailure},
		{"missing json dir", []string{"-memory", "-log-level", "error", "-json", "/nonexistent/dir"}, exitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, _, _ := runCLI(t, tt.args...); code != tt.want {
				t.Errorf("Expected exit %d, got %d", tt.want, code)
			}
		})
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	cfg, err := loadConfig(options{dbPath: "/tmp/x.db", noArchive: true, logLevel: "warn"})
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.Store.Path != "/tmp/x.db" || !cfg.Store.NoArchive || cfg.Log.Level != "warn" {
		t.Errorf("Flags should override config, got %+v", cfg)
	}
}
