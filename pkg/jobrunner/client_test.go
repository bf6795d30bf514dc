package jobrunner

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSubmitReturnsReceipt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/submit" {
			t.Fatalf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body struct {
			Graph Graph `json:"graph"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if _, ok := body.Graph["3"]; !ok {
			t.Fatalf("graph not submitted verbatim: %v", body.Graph)
		}
		_ = json.NewEncoder(w).Encode(Receipt{JobID: "job-1"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, ClientOptions{}, nil)
	receipt, err := client.Submit(context.Background(), Graph{"3": json.RawMessage(`{"type":"KSampler","inputs":{"seed":42}}`)})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if receipt.JobID != "job-1" {
		t.Fatalf("unexpected receipt: %+v", receipt)
	}
}

func TestSubmitQueueRejectedKeepsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid prompt: node 7 references missing node 12"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, ClientOptions{}, nil)
	_, err := client.Submit(context.Background(), Graph{})
	if !errors.Is(err, ErrQueueRejected) {
		t.Fatalf("expected ErrQueueRejected, got %v", err)
	}
	if !strings.Contains(err.Error(), "node 7 references missing node 12") {
		t.Fatalf("remote body not surfaced verbatim: %v", err)
	}
}

func TestSubmitTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused

	client := NewClient(srv.URL, ClientOptions{}, nil)
	_, err := client.Submit(context.Background(), Graph{})
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
}

func TestSubmitProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, ClientOptions{}, nil)
	_, err := client.Submit(context.Background(), Graph{})
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
}

func TestSubmitMissingJobID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, ClientOptions{}, nil)
	_, err := client.Submit(context.Background(), Graph{})
	if !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected ErrProtocol for empty jobId, got %v", err)
	}
}

func TestQueueDepth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/queue" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"queue_remaining": 3}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, ClientOptions{}, nil)
	depth, err := client.QueueDepth(context.Background())
	if err != nil {
		t.Fatalf("QueueDepth: %v", err)
	}
	if depth != 3 {
		t.Fatalf("expected 3, got %d", depth)
	}
}

func TestAlive(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	client := NewClient(healthy.URL, ClientOptions{ProbeRetries: 1}, nil)
	if !client.Alive(context.Background()) {
		t.Fatal("expected healthy node to be alive")
	}

	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	client = NewClient(down.URL, ClientOptions{ProbeRetries: 1}, nil)
	if client.Alive(context.Background()) {
		t.Fatal("expected 503 node to be down")
	}
}
