package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewClient_Dispatch(t *testing.T) {
	if _, err := NewClient(Config{Provider: "openai", APIKey: "k"}, nil); err != nil {
		t.Fatalf("openai: %v", err)
	}
	if _, err := NewClient(Config{Provider: "anthropic", APIKey: "k"}, nil); err != nil {
		t.Fatalf("anthropic: %v", err)
	}
	if _, err := NewClient(Config{Provider: "gemini"}, nil); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}

func TestOpenAIClient_CompletesAndRecordsUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req openAIRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Errorf("messages = %+v", req.Messages)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": " hello "}},
			},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5},
		})
	}))
	defer srv.Close()

	usage := &UsageCounter{}
	client, err := NewClient(Config{Provider: "openai", APIKey: "k", BaseURL: srv.URL}, usage)
	if err != nil {
		t.Fatal(err)
	}

	out, err := client.CompleteWithSystem(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("CompleteWithSystem: %v", err)
	}
	if out != "hello" {
		t.Fatalf("out = %q", out)
	}
	prompt, completion, calls := usage.Snapshot()
	if prompt != 10 || completion != 5 || calls != 1 {
		t.Fatalf("usage = %d/%d/%d", prompt, completion, calls)
	}
}

func TestAnthropicClient_JoinsTextBlocks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "k" || r.Header.Get("anthropic-version") == "" {
			t.Errorf("missing anthropic headers")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{
				{"type": "text", "text": "part one "},
				{"type": "text", "text": "part two"},
			},
			"usage": map[string]int{"input_tokens": 3, "output_tokens": 4},
		})
	}))
	defer srv.Close()

	client, err := NewClient(Config{Provider: "anthropic", APIKey: "k", BaseURL: srv.URL}, &UsageCounter{})
	if err != nil {
		t.Fatal(err)
	}
	out, err := client.CompleteWithSystem(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("CompleteWithSystem: %v", err)
	}
	if out != "part one part two" {
		t.Fatalf("out = %q", out)
	}
}

func TestClient_UnavailableAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client, err := NewClient(Config{
		Provider: "openai", APIKey: "k", BaseURL: srv.URL,
		MaxRetries: 1, Timeout: 5 * time.Second,
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	_, err = client.CompleteWithSystem(context.Background(), "sys", "user")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("calls = %d, want 2 (initial + 1 retry)", calls.Load())
	}
}

func TestClient_4xxIsTerminal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client, _ := NewClient(Config{Provider: "anthropic", APIKey: "k", BaseURL: srv.URL}, nil)
	_, err := client.CompleteWithSystem(context.Background(), "sys", "user")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrUnavailable) {
		t.Fatalf("400 should not map to ErrUnavailable: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
}
