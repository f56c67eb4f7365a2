package databricks

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newServingTestClient(t *testing.T, handler http.Handler) *ServingClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewServingClient(srv.URL, "chat-model", "You answer questions about data.", 512, 0.2, NewStaticToken("dapi-test"))
}

func TestServingAsk(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/serving-endpoints/chat-model/invocations" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer dapi-test" {
			t.Errorf("unexpected auth header %q", got)
		}
		var body struct {
			Messages    []chatMessage `json:"messages"`
			MaxTokens   int           `json:"max_tokens"`
			Temperature float64       `json:"temperature"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if len(body.Messages) != 2 {
			t.Fatalf("expected system+user messages, got %d", len(body.Messages))
		}
		if body.Messages[0].Role != "system" {
			t.Errorf("first message should be the system prompt, got %q", body.Messages[0].Role)
		}
		if body.Messages[1].Role != "user" || body.Messages[1].Content != "how many users?" {
			t.Errorf("unexpected user message %+v", body.Messages[1])
		}
		if body.MaxTokens != 512 {
			t.Errorf("expected max_tokens 512, got %d", body.MaxTokens)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "  There are 42 users.  "}},
			},
		})
	})

	c := newServingTestClient(t, handler)
	answer, sessionID, err := c.Ask(context.Background(), "", "how many users?")
	if err != nil {
		t.Fatalf("Ask() error: %v", err)
	}
	if answer != "There are 42 users." {
		t.Errorf("unexpected answer %q", answer)
	}
	if sessionID == "" {
		t.Error("first turn should mint a session id")
	}
}

func TestServingAskEchoesSessionID(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": "ok"}}},
		})
	})

	c := newServingTestClient(t, handler)
	_, sessionID, err := c.Ask(context.Background(), "sess-1", "follow-up")
	if err != nil {
		t.Fatalf("Ask() error: %v", err)
	}
	if sessionID != "sess-1" {
		t.Errorf("existing session id should be echoed, got %q", sessionID)
	}
}

func TestServingAskNoChoices(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	})

	c := newServingTestClient(t, handler)
	if _, _, err := c.Ask(context.Background(), "", "question"); err == nil {
		t.Error("empty choices should be an error")
	}
}

func TestServingAskAuthRejected(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	c := newServingTestClient(t, handler)
	_, _, err := c.Ask(context.Background(), "", "question")
	if !errors.Is(err, ErrAuth) {
		t.Errorf("403 should map to ErrAuth, got %v", err)
	}
}

func TestServingAskOmitsSystemPrompt(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []chatMessage `json:"messages"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		if len(body.Messages) != 1 || body.Messages[0].Role != "user" {
			t.Errorf("expected a single user message, got %+v", body.Messages)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": "ok"}}},
		})
	})
	srv := httptest.NewServer(handler)
	defer srv.Close()

	c := NewServingClient(srv.URL, "chat-model", "", 0, 0, NewStaticToken("dapi-test"))
	if _, _, err := c.Ask(context.Background(), "", "question"); err != nil {
		t.Fatalf("Ask() error: %v", err)
	}
}
