package litellm_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Strob0t/SiteForge/internal/adapter/litellm"
	"github.com/Strob0t/SiteForge/internal/domain"
	"github.com/Strob0t/SiteForge/internal/port/aieditor"
	"github.com/Strob0t/SiteForge/internal/resilience"
)

func editServer(t *testing.T, payload string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Fatalf("unexpected auth: %q", auth)
		}

		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Fatalf("unexpected messages %+v", req.Messages)
		}
		if !strings.Contains(req.Messages[1].Content, "File: index.html") {
			t.Fatalf("user message missing file header: %q", req.Messages[1].Content)
		}

		w.Header().Set("Content-Type", "application/json")
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": payload}},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestEditParsesResult(t *testing.T) {
	srv := editServer(t, `{"content":"<h1>new</h1>","description":"rewrote heading","confidence":0.92}`)
	defer srv.Close()

	client := litellm.NewClient(srv.URL, "test-key", "openai/gpt-4o-mini", 5*time.Second)
	result, err := client.Edit(context.Background(), aieditor.Request{
		Prompt:   "rewrite the heading",
		Content:  "<h1>old</h1>",
		FileName: "index.html",
		FileType: "text/html",
	})
	if err != nil {
		t.Fatalf("Edit failed: %v", err)
	}
	if result.Content != "<h1>new</h1>" {
		t.Fatalf("unexpected content %q", result.Content)
	}
	if !result.Scored || result.Confidence != 0.92 {
		t.Fatalf("unexpected confidence (%v, scored=%v)", result.Confidence, result.Scored)
	}
}

func TestEditWithoutConfidenceIsUnscored(t *testing.T) {
	srv := editServer(t, `{"content":"x","description":"d"}`)
	defer srv.Close()

	client := litellm.NewClient(srv.URL, "test-key", "m", 5*time.Second)
	result, err := client.Edit(context.Background(), aieditor.Request{
		Prompt: "p", Content: "c", FileName: "index.html",
	})
	if err != nil {
		t.Fatalf("Edit failed: %v", err)
	}
	if result.Scored {
		t.Fatal("expected unscored result")
	}
}

func TestEditRejectsMalformedResponses(t *testing.T) {
	// Unparseable or empty model output is a rejection, not an internal
	// failure: callers map ErrEditRejected to the user-facing refusal path.
	cases := []struct {
		name    string
		payload string
	}{
		{"empty content", `{"content":"","description":"d"}`},
		{"not json", `sorry, I cannot do that`},
		{"fenced json", "```json\n{\"content\":\"x\"}\n```"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := editServer(t, tc.payload)
			defer srv.Close()

			client := litellm.NewClient(srv.URL, "test-key", "m", 5*time.Second)
			_, err := client.Edit(context.Background(), aieditor.Request{
				Prompt: "p", Content: "c", FileName: "index.html",
			})
			if !errors.Is(err, domain.ErrEditRejected) {
				t.Fatalf("expected ErrEditRejected, got %v", err)
			}
		})
	}
}

func TestEditRejectsEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	client := litellm.NewClient(srv.URL, "k", "m", 5*time.Second)
	_, err := client.Edit(context.Background(), aieditor.Request{
		Prompt: "p", Content: "c", FileName: "index.html",
	})
	if !errors.Is(err, domain.ErrEditRejected) {
		t.Fatalf("expected ErrEditRejected, got %v", err)
	}
}

func TestEditUpstreamErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overload", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := litellm.NewClient(srv.URL, "k", "m", 5*time.Second)
	_, err := client.Edit(context.Background(), aieditor.Request{
		Prompt: "p", Content: "c", FileName: "index.html",
	})
	if err == nil {
		t.Fatal("expected error for upstream 502")
	}
	if errors.Is(err, domain.ErrEditRejected) {
		t.Fatalf("upstream status failure must not read as a rejection: %v", err)
	}
}

func TestEditBreakerOpensAfterFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := litellm.NewClient(srv.URL, "k", "m", 5*time.Second)
	client.SetBreaker(resilience.NewBreaker(2, time.Minute))

	req := aieditor.Request{Prompt: "p", Content: "c", FileName: "index.html"}
	for i := 0; i < 2; i++ {
		if _, err := client.Edit(context.Background(), req); err == nil {
			t.Fatal("expected failure")
		}
	}

	_, err := client.Edit(context.Background(), req)
	if err == nil || !strings.Contains(err.Error(), "circuit breaker") {
		t.Fatalf("expected open circuit, got %v", err)
	}
}
