package r2s3

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestClient_PutFileSignsRequest(t *testing.T) {
	var (
		gotPath, gotAuth, gotHash, gotType string
		gotBody                            []byte
	)
	ts := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotAuth = r.Header.Get("Authorization")
		gotHash = r.Header.Get("x-amz-content-sha256")
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		rw.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	c, err := New(Config{Endpoint: ts.URL, Bucket: "runs", AccessKeyID: "AK", SecretAccessKey: "SK"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.now = func() time.Time { return time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC) }

	local := filepath.Join(t.TempDir(), "meta.json")
	body := []byte(`{"run_id":"r1"}`)
	if err := os.WriteFile(local, body, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := c.PutFile(context.Background(), "archives/two walls/r1/meta.json", local); err != nil {
		t.Fatalf("PutFile: %v", err)
	}

	if gotPath != "/runs/archives/two%20walls/r1/meta.json" {
		t.Fatalf("path=%s", gotPath)
	}
	sum := sha256.Sum256(body)
	if gotHash != hex.EncodeToString(sum[:]) || string(gotBody) != string(body) {
		t.Fatalf("hash=%s body=%q", gotHash, gotBody)
	}
	if !strings.HasPrefix(gotAuth, "AWS4-HMAC-SHA256 Credential=AK/20261018/auto/s3/aws4_request, SignedHeaders=host;x-amz-content-sha256;x-amz-date, Signature=") {
		t.Fatalf("auth=%s", gotAuth)
	}
	if gotType != "application/json" {
		t.Fatalf("content-type=%s", gotType)
	}
}

func TestClient_ErrorsAndValidation(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		http.Error(rw, "AccessDenied", http.StatusForbidden)
	}))
	defer ts.Close()

	if _, err := New(Config{Endpoint: ts.URL, Bucket: "runs"}); err == nil {
		t.Fatalf("expected missing credentials rejected")
	}
	c, err := New(Config{Endpoint: ts.URL, Bucket: "runs", AccessKeyID: "AK", SecretAccessKey: "SK", Region: "us-east-1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = c.Put(context.Background(), "x.bin", strings.NewReader("abc"), 3, "")
	if err == nil || !strings.Contains(err.Error(), "status=403") {
		t.Fatalf("err=%v", err)
	}
	if err := c.Put(context.Background(), "  ", strings.NewReader(""), 0, ""); err == nil {
		t.Fatalf("expected empty key rejected")
	}
}

type fakeUploader struct {
	mu    sync.Mutex
	keys  []string
	fails int
}

func (f *fakeUploader) PutFile(_ context.Context, key, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("503")
	}
	f.keys = append(f.keys, key)
	return nil
}

func TestMirror_EnqueueRunUsesDataRelativeKeys(t *testing.T) {
	data := t.TempDir()
	for _, p := range []string{
		"runs/r1/steps/steps-2026-10-18-12.jsonl.zst",
		"runs/r1/stops/stops-2026-10-18-12.jsonl.zst",
		"runs/r1/snapshots/000000000120.snap.zst",
	} {
		full := filepath.Join(data, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(full, []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	up := &fakeUploader{fails: 1}
	m := NewMirror(up, data, "/wallnav/", 2, 16, nil)
	m.backoff = time.Millisecond
	n, err := m.EnqueueRun(filepath.Join(data, "runs", "r1"))
	if err != nil || n != 3 {
		t.Fatalf("EnqueueRun n=%d err=%v", n, err)
	}
	m.Enqueue(filepath.Join(t.TempDir(), "elsewhere.json"))
	m.Close()

	sort.Strings(up.keys)
	want := []string{
		"wallnav/runs/r1/snapshots/000000000120.snap.zst",
		"wallnav/runs/r1/steps/steps-2026-10-18-12.jsonl.zst",
		"wallnav/runs/r1/stops/stops-2026-10-18-12.jsonl.zst",
	}
	if strings.Join(up.keys, ",") != strings.Join(want, ",") {
		t.Fatalf("keys=%v", up.keys)
	}
	st := m.Stats()
	if st.Enqueued != 4 || st.Uploaded != 3 || st.Failed != 1 || st.LastSuccess.IsZero() {
		t.Fatalf("stats=%+v", st)
	}
}
