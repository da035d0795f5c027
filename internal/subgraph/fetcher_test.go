package subgraph

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	errs "github.com/mrkhmath/mathgraph-backend/internal/pkg/errors"
)

func TestHTTPFetcherSuccess(t *testing.T) {
	body := artifactJSON("3.OA.1", 0)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/subgraphs/3.OA.1.json" {
			t.Errorf("unexpected path %q", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	f, err := NewHTTPFetcher(srv.URL+"/subgraphs/", ".json", time.Second)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	rc, size, err := f.Fetch(context.Background(), "3.OA.1")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	defer rc.Close()
	if size != int64(len(body)) {
		t.Fatalf("size=%d, want %d", size, len(body))
	}
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(got) != string(body) {
		t.Fatal("body mismatch")
	}
}

func TestHTTPFetcherStatusMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing.json":
			http.NotFound(w, r)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	f, err := NewHTTPFetcher(srv.URL, ".json", time.Second)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}

	_, _, err = f.Fetch(context.Background(), "missing")
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("404 err=%v, want ErrNotFound", err)
	}

	_, _, err = f.Fetch(context.Background(), "broken")
	if !errors.Is(err, errs.ErrTransient) {
		t.Fatalf("502 err=%v, want ErrTransient", err)
	}
}

func TestHTTPFetcherUnreachableHost(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	f, err := NewHTTPFetcher(srv.URL, ".json", time.Second)
	if err != nil {
		t.Fatalf("new fetcher: %v", err)
	}
	_, _, err = f.Fetch(context.Background(), "any")
	if !errors.Is(err, errs.ErrTransient) {
		t.Fatalf("err=%v, want ErrTransient", err)
	}
}

func TestNewHTTPFetcherRequiresBaseURL(t *testing.T) {
	if _, err := NewHTTPFetcher("  ", ".json", time.Second); err == nil {
		t.Fatal("expected error for empty base url")
	}
}
