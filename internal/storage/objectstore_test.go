package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHeadReturnsMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("method = %s, want HEAD", r.Method)
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Content-Length", "2048")
	}))
	defer srv.Close()

	client := NewClient(Options{BaseURL: srv.URL, ServiceKey: "svc"})
	info, err := client.Head(context.Background(), srv.URL+"/storage/v1/object/public/uploads/a.png")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if info.MIME != "image/png" || info.Size != 2048 {
		t.Fatalf("info = %+v", info)
	}
}

func TestFetchPrefersAuthenticatedEndpoint(t *testing.T) {
	var sawAuth, sawPublic bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "/object/public/") {
			sawPublic = true
		} else {
			sawAuth = true
			if r.Header.Get("Authorization") != "Bearer svc" {
				t.Errorf("missing service-role bearer: %q", r.Header.Get("Authorization"))
			}
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
	}))
	defer srv.Close()

	client := NewClient(Options{BaseURL: srv.URL, ServiceKey: "svc"})
	data, mime, err := client.Fetch(context.Background(), srv.URL+"/storage/v1/object/public/uploads/a.png")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if mime != "image/png" || len(data) != 4 {
		t.Fatalf("got mime=%q len=%d", mime, len(data))
	}
	if !sawAuth || sawPublic {
		t.Fatalf("sawAuth=%v sawPublic=%v, want authenticated path only", sawAuth, sawPublic)
	}
}

func TestFetchFallsBackToPublicURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/object/public/") {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte{0xff, 0xd8})
	}))
	defer srv.Close()

	client := NewClient(Options{BaseURL: srv.URL, ServiceKey: "svc"})
	data, mime, err := client.Fetch(context.Background(), srv.URL+"/storage/v1/object/public/uploads/b.jpg")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if mime != "image/jpeg" || len(data) != 2 {
		t.Fatalf("got mime=%q len=%d", mime, len(data))
	}
}

func TestFetchComposesBothFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(Options{BaseURL: srv.URL, ServiceKey: "svc"})
	_, _, err := client.Fetch(context.Background(), srv.URL+"/storage/v1/object/public/uploads/gone.png")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "authenticated fetch failed") {
		t.Fatalf("error should compose both attempts: %v", err)
	}
}

func TestFetchForeignURLSkipsAuthenticatedAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("service key must not leak to foreign hosts")
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte{1})
	}))
	defer srv.Close()

	client := NewClient(Options{BaseURL: "https://other.example", ServiceKey: "svc"})
	if _, _, err := client.Fetch(context.Background(), srv.URL+"/a.png"); err != nil {
		t.Fatalf("fetch: %v", err)
	}
}
