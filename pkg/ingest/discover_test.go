package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDiscoverRelaysFromRegistryList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`["wss://a.example","wss://b.example"]`))
	}))
	defer srv.Close()

	got, err := DiscoverRelays(context.Background(), srv.URL, []string{"wss://static.example"}, time.Second)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("sources = %v", got)
	}
}

func TestDiscoverRelaysFromRegistryObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"wss://a.example":{"read":true},"wss://b.example":{}}`))
	}))
	defer srv.Close()

	got, err := DiscoverRelays(context.Background(), srv.URL, nil, time.Second)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("sources = %v", got)
	}
}

func TestDiscoverRelaysEmptyIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	if _, err := DiscoverRelays(context.Background(), srv.URL, nil, time.Second); err != ErrNoSources {
		t.Fatalf("expected ErrNoSources, got %v", err)
	}
	if _, err := DiscoverRelays(context.Background(), "", nil, time.Second); err != ErrNoSources {
		t.Fatalf("expected ErrNoSources with no registry, got %v", err)
	}
}

func TestDiscoverRelaysRegistryDownFallsBackToStatic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	got, err := DiscoverRelays(context.Background(), srv.URL, []string{"wss://static.example"}, time.Second)
	if err != nil || len(got) != 1 {
		t.Fatalf("got %v, %v", got, err)
	}
}
