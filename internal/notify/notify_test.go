package notify

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestNtfySend(t *testing.T) {
	var gotTitle, gotBody, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		gotPath = r.URL.Path
		gotTitle = r.Header.Get("Title")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
	}))
	defer srv.Close()

	n := NewNtfy("roll-alerts", 5*time.Second, nil)
	n.BaseURL = srv.URL
	n.Send(context.Background(), "Batch complete: salem", "Total records: 1043")

	if gotPath != "/roll-alerts" {
		t.Errorf("path = %q, want /roll-alerts", gotPath)
	}
	if gotTitle != "Batch complete: salem" {
		t.Errorf("Title header = %q", gotTitle)
	}
	if gotBody != "Total records: 1043" {
		t.Errorf("body = %q", gotBody)
	}
}

func TestNtfyBlankTopicDisabled(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	n := NewNtfy("", 5*time.Second, nil)
	n.BaseURL = srv.URL
	n.Send(context.Background(), "t", "m")

	if calls.Load() != 0 {
		t.Error("blank topic still sent a request")
	}
}

func TestNtfyDeliveryFailureIsAbsorbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewNtfy("topic", 5*time.Second, nil)
	n.BaseURL = srv.URL
	// must not panic or block; failures are log-only
	n.Send(context.Background(), "t", "m")
}
