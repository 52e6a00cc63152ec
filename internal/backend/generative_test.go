package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGenerativeExecuteBuildsChatRequest(t *testing.T) {
	t.Parallel()
	var captured chatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "  hello there  "}},
			},
		})
	}))
	defer srv.Close()

	client, err := NewGenerativeClient(nil, srv.URL, "test-key", "base-model", time.Second)
	if err != nil {
		t.Fatalf("NewGenerativeClient: %v", err)
	}

	res, err := client.Execute(context.Background(), Request{
		Content:  "what time is it",
		Guidance: "be brief",
		Model:    "override-model",
		History: []Turn{
			{Role: "user", Content: "earlier"},
			{Role: "assistant", Content: "reply"},
		},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Kind != KindText || res.Text != "hello there" {
		t.Fatalf("result = %+v", res)
	}

	if captured.Model != "override-model" {
		t.Fatalf("model = %q", captured.Model)
	}
	if len(captured.Messages) != 4 {
		t.Fatalf("messages = %+v", captured.Messages)
	}
	if captured.Messages[0].Role != "system" || captured.Messages[0].Content != "be brief" {
		t.Fatalf("system turn = %+v", captured.Messages[0])
	}
	if captured.Messages[3].Role != "user" || captured.Messages[3].Content != "what time is it" {
		t.Fatalf("final turn = %+v", captured.Messages[3])
	}
}

func TestGenerativeExecuteSurfacesAPIError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"message": "model overloaded"},
		})
	}))
	defer srv.Close()

	client, err := NewGenerativeClient(nil, srv.URL, "", "m", time.Second)
	if err != nil {
		t.Fatalf("NewGenerativeClient: %v", err)
	}

	_, err = client.Execute(context.Background(), Request{Content: "hi"})
	var berr *Error
	if !errors.As(err, &berr) {
		t.Fatalf("error type = %T (%v)", err, err)
	}
	if berr.BackendID != IDGenerative || berr.Message != "model overloaded" {
		t.Fatalf("error = %+v", berr)
	}
}

func TestGenerativeExecuteRejectsBadStatus(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client, err := NewGenerativeClient(nil, srv.URL, "", "m", time.Second)
	if err != nil {
		t.Fatalf("NewGenerativeClient: %v", err)
	}
	if _, err := client.Execute(context.Background(), Request{Content: "hi"}); err == nil {
		t.Fatal("expected error on 429")
	}
}

func TestNewGenerativeClientValidation(t *testing.T) {
	t.Parallel()
	if _, err := NewGenerativeClient(nil, "", "", "m", time.Second); err == nil {
		t.Fatal("expected error for empty base url")
	}
	if _, err := NewGenerativeClient(nil, "https://api.example.com", "", "", time.Second); err == nil {
		t.Fatal("expected error for empty model")
	}
}
