package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
)

type env struct {
	dir        string
	configPath string
	errorsPath string
	metrics    string
	posts      int32
}

// newEnv writes a config pointing at a fake CRM and returns the paths involved.
func newEnv(t *testing.T, operation string, handler http.HandlerFunc) *env {
	t.Helper()
	for _, k := range []string{"CRMW_API_TOKEN", "CRMW_OPERATION", "CRMW_BASE_URL", "CRMW_CONFIG", "CRMW_TABLES_DIR", "CRMW_ERRORS_PATH"} {
		t.Setenv(k, "")
	}

	e := &env{dir: t.TempDir()}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.WriteHeader(http.StatusOK)
			return
		}
		atomic.AddInt32(&e.posts, 1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	tables := filepath.Join(e.dir, "in", "tables")
	if err := os.MkdirAll(tables, 0o755); err != nil {
		t.Fatal(err)
	}
	e.errorsPath = filepath.Join(e.dir, "out", "errors.csv")
	e.metrics = filepath.Join(e.dir, "crm_writer.prom")
	e.configPath = filepath.Join(e.dir, "writer.yaml")

	cfg := fmt.Sprintf(`operation: %s
api:
  base_url: %s
  token: test-token
  max_retries: 1
  backoff_ms: 1
batch:
  pacing_ms: 0
input:
  tables_dir: %s
output:
  errors_path: %s
logging:
  level: error
metrics:
  textfile: %s
`, operation, server.URL, tables, e.errorsPath, e.metrics)
	if err := os.WriteFile(e.configPath, []byte(cfg), 0o600); err != nil {
		t.Fatal(err)
	}
	return e
}

func (e *env) table(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.dir, "in", "tables", name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func (e *env) errorRows(t *testing.T) [][]string {
	t.Helper()
	f, err := os.Open(e.errorsPath)
	if err != nil {
		t.Fatalf("errors file not written: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	return rows
}

func TestRunSuccess(t *testing.T) {
	e := newEnv(t, "create_company", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	e.table(t, "companies.csv", "name,domain\nAcme,acme.io\nGlobex,globex.com\n")

	if code := run(context.Background(), []string{"-config", e.configPath}, io.Discard); code != exitOK {
		t.Fatalf("run() = %d, want %d", code, exitOK)
	}

	if got := atomic.LoadInt32(&e.posts); got != 1 {
		t.Errorf("Expected 1 batch request, got %d", got)
	}
	rows := e.errorRows(t)
	if len(rows) != 1 || strings.Join(rows[0], ",") != "status,category,message,context" {
		t.Errorf("Expected header-only errors file, got %v", rows)
	}
	if _, err := os.Stat(e.metrics); err != nil {
		t.Errorf("metrics textfile not written: %v", err)
	}
}

func TestRunWithErrorRecords(t *testing.T) {
	e := newEnv(t, "deal_update", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMultiStatus)
		io.WriteString(w, `{"status":"COMPLETE","errors":[{"status":"error","category":"OBJECT_NOT_FOUND","message":"deal 2 not found"}]}`)
	})
	e.table(t, "deals.csv", "deal_id,amount\n1,10\n2,20\n")

	if code := run(context.Background(), []string{"-config", e.configPath}, io.Discard); code != exitRecords {
		t.Fatalf("run() = %d, want %d", code, exitRecords)
	}

	rows := e.errorRows(t)
	if len(rows) != 2 {
		t.Fatalf("Expected 1 error record, got %v", rows)
	}
	if rows[1][1] != "OBJECT_NOT_FOUND" || rows[1][2] != "deal 2 not found" {
		t.Errorf("Unexpected error record %v", rows[1])
	}
}

func TestRunValidationFailureSendsNothing(t *testing.T) {
	e := newEnv(t, "company_create", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	e.table(t, "companies.csv", "name\nAcme\n\n\"\"\n")

	if code := run(context.Background(), []string{"-config", e.configPath}, io.Discard); code != exitFatal {
		t.Fatalf("run() = %d, want %d", code, exitFatal)
	}
	if got := atomic.LoadInt32(&e.posts); got != 0 {
		t.Errorf("Expected no requests, got %d", got)
	}
}

func TestRunManifestMissingColumn(t *testing.T) {
	e := newEnv(t, "contact_add_to_list", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	path := e.table(t, "members.csv", "list_id,vids,emails\n1,2,\n")
	if err := os.WriteFile(path+".manifest", []byte(`{"columns":["list_id","vids"]}`), 0o600); err != nil {
		t.Fatal(err)
	}

	if code := run(context.Background(), []string{"-config", e.configPath}, io.Discard); code != exitFatal {
		t.Fatalf("run() = %d, want %d", code, exitFatal)
	}
	if got := atomic.LoadInt32(&e.posts); got != 0 {
		t.Errorf("Expected no requests, got %d", got)
	}
}

func TestRunNoTables(t *testing.T) {
	e := newEnv(t, "product_create", func(w http.ResponseWriter, r *http.Request) {})

	if code := run(context.Background(), []string{"-config", e.configPath}, io.Discard); code != exitFatal {
		t.Fatalf("run() = %d, want %d", code, exitFatal)
	}
}

func TestRunVersionAndList(t *testing.T) {
	var out bytes.Buffer
	if code := run(context.Background(), []string{"-version"}, &out); code != exitOK {
		t.Fatalf("run(-version) = %d", code)
	}
	if !strings.Contains(out.String(), "crm-writer") {
		t.Errorf("Unexpected version output %q", out.String())
	}

	out.Reset()
	if code := run(context.Background(), []string{"-list-operations"}, &out); code != exitOK {
		t.Fatalf("run(-list-operations) = %d", code)
	}
	if !strings.Contains(out.String(), "deal_create\n") {
		t.Errorf("Expected deal_create in %q", out.String())
	}
}

func TestRunBadFlag(t *testing.T) {
	if code := run(context.Background(), []string{"-nope"}, io.Discard); code != exitFatal {
		t.Fatalf("run(-nope) = %d, want %d", code, exitFatal)
	}
}
