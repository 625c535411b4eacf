package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loykin/runstats/internal/history"
)

func TestOpenSearchSink_Send(t *testing.T) {
	var (
		receivedBody   []byte
		receivedURL    string
		receivedMethod string
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedMethod = r.Method
		receivedURL = r.URL.Path
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"result":"created"}`))
	}))
	defer server.Close()

	sink := New(server.URL+"/", "run-history")

	event := history.NewEvent(history.EventRun, time.Now())
	event.Client = "web1"
	event.State = "dirty"
	event.Action = "appended"
	event.Records = 2

	if err := sink.Send(context.Background(), event); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if receivedMethod != http.MethodPut {
		t.Errorf("expected PUT, got %s", receivedMethod)
	}
	if want := "/run-history/_doc/" + event.ID; receivedURL != want {
		t.Errorf("expected path %s, got %s", want, receivedURL)
	}

	var got history.Event
	if err := json.Unmarshal(receivedBody, &got); err != nil {
		t.Fatalf("invalid json body: %v", err)
	}
	if got.Client != "web1" || got.State != "dirty" || got.Records != 2 || got.ID != event.ID {
		t.Errorf("unexpected body: %+v", got)
	}
}

func TestOpenSearchSink_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	sink := New(server.URL, "idx")
	if err := sink.Send(context.Background(), history.NewEvent(history.EventRun, time.Now())); err == nil {
		t.Fatal("expected error for 400 response")
	}
}

func TestOpenSearchSink_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	sink := New(url, "idx")
	if err := sink.Send(context.Background(), history.NewEvent(history.EventRun, time.Now())); err == nil {
		t.Fatal("expected error for closed server")
	}
}
