package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestDiscordSenderPostsContent(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &got); err != nil {
			t.Errorf("payload is not JSON: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sender := NewDiscordSender(srv.URL)
	if err := sender.Send(context.Background(), "Position Opened", "SPX Iron Condor"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.HasPrefix(got["content"], "**Position Opened**\n") {
		t.Errorf("content = %q, want bold title prefix", got["content"])
	}
	if !strings.Contains(got["content"], "SPX Iron Condor") {
		t.Errorf("content = %q, missing message body", got["content"])
	}
}

func TestDiscordSenderReportsHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such webhook", http.StatusNotFound)
	}))
	defer srv.Close()

	sender := NewDiscordSender(srv.URL)
	if err := sender.Send(context.Background(), "t", "m"); err == nil {
		t.Fatal("expected error on 404")
	}
}
