package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"companion-chat/server/internal/config"
	"companion-chat/server/internal/interfaces"
)

func sseServer(t *testing.T, failFirst int, chunks ...string) (*httptest.Server, *int32, func() map[string]interface{}) {
	t.Helper()
	var (
		calls int32
		mu    sync.Mutex
		body  map[string]interface{}
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if int(n) <= failFirst {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
			return
		}
		mu.Lock()
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range chunks {
			payload, _ := json.Marshal(map[string]interface{}{
				"id":      "chatcmpl-1",
				"object":  "chat.completion.chunk",
				"model":   "gpt-test",
				"choices": []map[string]interface{}{{"index": 0, "delta": map[string]string{"content": chunk}}},
			})
			fmt.Fprintf(w, "data: %s\n\n", payload)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)
	return srv, &calls, func() map[string]interface{} {
		mu.Lock()
		defer mu.Unlock()
		return body
	}
}

func TestLLMClientStreamsDeltas(t *testing.T) {
	srv, _, requestBody := sseServer(t, 0, "Hel", "", "lo")
	client := NewLLMClient(config.LLMConfig{BaseURL: srv.URL + "/v1", APIKey: "test", Model: "default-model"})

	var got []string
	err := client.Stream(context.Background(), &interfaces.GenerationRequest{
		Prompt:      "You are Luna.",
		MaxTokens:   32,
		Temperature: 0.5,
	}, func(chunk string) error {
		got = append(got, chunk)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if strings.Join(got, "|") != "Hel|lo" {
		t.Fatalf("chunks = %q", got)
	}

	body := requestBody()
	if body["model"] != "default-model" || body["stream"] != true {
		t.Fatalf("request body = %v", body)
	}
	messages, _ := body["messages"].([]interface{})
	if len(messages) != 1 {
		t.Fatalf("messages = %v", body["messages"])
	}
	first, _ := messages[0].(map[string]interface{})
	if first["role"] != "system" || first["content"] != "You are Luna." {
		t.Fatalf("message = %v", first)
	}
}

func TestLLMClientStopsWhenSinkFails(t *testing.T) {
	srv, _, _ := sseServer(t, 0, "a", "b", "c")
	client := NewLLMClient(config.LLMConfig{BaseURL: srv.URL + "/v1", APIKey: "test", Model: "m"})

	stop := fmt.Errorf("client went away")
	seen := 0
	err := client.Stream(context.Background(), &interfaces.GenerationRequest{Prompt: "p"}, func(string) error {
		seen++
		return stop
	})
	if err != stop {
		t.Fatalf("err = %v, want sink error", err)
	}
	if seen != 1 {
		t.Fatalf("sink called %d times after failing", seen)
	}
}

func TestLLMClientRetriesServerErrorsOnOpen(t *testing.T) {
	srv, calls, _ := sseServer(t, 1, "ok")
	client := NewLLMClient(config.LLMConfig{BaseURL: srv.URL + "/v1", APIKey: "test", Model: "m"})

	var got strings.Builder
	err := client.Stream(context.Background(), &interfaces.GenerationRequest{Prompt: "p"}, func(chunk string) error {
		got.WriteString(chunk)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if got.String() != "ok" || atomic.LoadInt32(calls) != 2 {
		t.Fatalf("got %q after %d calls", got.String(), atomic.LoadInt32(calls))
	}
}
