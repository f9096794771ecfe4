package opensearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loykin/warden/internal/history"
)

func TestSinkPostsDocument(t *testing.T) {
	var (
		gotPath string
		gotCT   string
		got     history.Event
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotCT = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	s := New(srv.URL+"/", "idx")
	defer func() { _ = s.Close() }()
	e := history.Event{Type: history.EventStart, OccurredAt: time.Unix(100, 0).UTC(), PID: 3, Host: "h"}
	if err := s.Send(context.Background(), e); err != nil {
		t.Fatalf("send: %v", err)
	}
	if gotPath != "/idx/_doc" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotCT != "application/json" {
		t.Fatalf("content-type = %q", gotCT)
	}
	if got.Type != history.EventStart || got.PID != 3 || !got.OccurredAt.Equal(e.OccurredAt) {
		t.Fatalf("unexpected body: %+v", got)
	}
}

func TestSinkErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	if err := New(srv.URL, "").Send(context.Background(), history.NewEvent(history.EventStop, 1, "")); err == nil {
		t.Fatal("expected error for 400 response")
	}
}

func TestDefaultIndex(t *testing.T) {
	if s := New("http://x", ""); s.index != DefaultIndex {
		t.Fatalf("index = %q", s.index)
	}
}
