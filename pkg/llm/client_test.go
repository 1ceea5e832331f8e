package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"llamacoder-go/internal/config"
)

func newTestClient(baseURL string) Client {
	return NewClient(config.OllamaConfig{BaseURL: baseURL, Model: "test-model"})
}

func TestChat_Buffered(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s, want /api/chat", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		fmt.Fprint(w, `{"message":{"role":"assistant","content":"Pomodoro Timer"},"done":true}`)
	}))
	defer srv.Close()

	resp, err := newTestClient(srv.URL).Chat(context.Background(), &ChatRequest{
		Model:    "test-model",
		Messages: []Message{{Role: "user", Content: "build a pomodoro timer"}},
	})
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if resp.Content != "Pomodoro Timer" {
		t.Errorf("Content = %q, want %q", resp.Content, "Pomodoro Timer")
	}
	if gotBody["stream"] != false {
		t.Errorf("buffered request must send stream=false, got %v", gotBody["stream"])
	}
}

func TestChat_DefaultModelFromConfig(t *testing.T) {
	var gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotModel, _ = body["model"].(string)
		fmt.Fprint(w, `{"message":{"role":"assistant","content":"ok"},"done":true}`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Chat(context.Background(), &ChatRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if gotModel != "test-model" {
		t.Errorf("model = %q, want config default %q", gotModel, "test-model")
	}
}

func TestChat_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"model 'missing' not found"}`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Chat(context.Background(), &ChatRequest{Model: "missing"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", apiErr.StatusCode)
	}
	if apiErr.Message != "model 'missing' not found" {
		t.Errorf("Message = %q, want server-provided error", apiErr.Message)
	}
}

func TestChat_APIErrorWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Chat(context.Background(), &ChatRequest{Model: "m"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if !strings.Contains(apiErr.Message, "500") {
		t.Errorf("fallback message should carry the status, got %q", apiErr.Message)
	}
}

func TestStreamChat_ReassemblesChunksInOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"Hello"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":" world"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"!"},"done":true}`)
	}))
	defer srv.Close()

	var got string
	err := newTestClient(srv.URL).StreamChat(context.Background(), &ChatRequest{Model: "m"}, func(c Chunk) error {
		got += c.Content
		return nil
	})
	if err != nil {
		t.Fatalf("StreamChat() error: %v", err)
	}
	if got != "Hello world!" {
		t.Errorf("reassembled = %q, want %q", got, "Hello world!")
	}
}

func TestStreamChat_SkipsMalformedLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"good"},"done":false}`)
		fmt.Fprintln(w, `this is not json`)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":" still good"},"done":true}`)
	}))
	defer srv.Close()

	var got string
	err := newTestClient(srv.URL).StreamChat(context.Background(), &ChatRequest{Model: "m"}, func(c Chunk) error {
		got += c.Content
		return nil
	})
	if err != nil {
		t.Fatalf("a malformed line must not abort the stream: %v", err)
	}
	if got != "good still good" {
		t.Errorf("reassembled = %q, want %q", got, "good still good")
	}
}

func TestStreamChat_MidStreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"partial"},"done":false}`)
		fmt.Fprintln(w, `{"error":"runner crashed"}`)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).StreamChat(context.Background(), &ChatRequest{Model: "m"}, func(c Chunk) error {
		return nil
	})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %v", err)
	}
	if apiErr.Message != "runner crashed" {
		t.Errorf("Message = %q, want %q", apiErr.Message, "runner crashed")
	}
}

func TestStreamChat_CancelStopsStream(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"first"},"done":false}`)
		flusher.Flush()
		// 挂起直到请求被取消
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	client := newTestClient(srv.URL)
	done := make(chan error, 1)
	go func() {
		done <- client.StreamChat(context.Background(), &ChatRequest{RequestID: "req-1", Model: "m"}, func(c Chunk) error {
			// 第一个分块到达后取消自身
			go client.Cancel("req-1")
			return nil
		})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("cancelled stream should return context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cancel did not stop the stream")
	}

	if client.Cancel("req-1") {
		t.Error("handle must be removed once the stream ends")
	}
}

func TestCancel_UnknownRequest(t *testing.T) {
	client := newTestClient("http://localhost:0")
	if client.Cancel("nope") {
		t.Error("cancelling an unknown request id should report a miss")
	}
}

func TestListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("path = %s, want /api/tags", r.URL.Path)
		}
		fmt.Fprint(w, `{"models":[{"name":"phi:latest","model":"phi:latest","size":1602463378},{"name":"llama3.2-vision","model":"llama3.2-vision","size":7900000000}]}`)
	}))
	defer srv.Close()

	models, err := newTestClient(srv.URL).ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("len(models) = %d, want 2", len(models))
	}
	if models[0].Name != "phi:latest" {
		t.Errorf("models[0].Name = %q, want %q", models[0].Name, "phi:latest")
	}
}

func TestVersion_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(3 * time.Second):
			fmt.Fprint(w, `{"version":"0.5.1"}`)
		}
	}))
	defer srv.Close()

	start := time.Now()
	_, err := newTestClient(srv.URL).Version(context.Background(), 100*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("timeout not enforced, took %v", elapsed)
	}
}

func TestVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"version":"0.5.1"}`)
	}))
	defer srv.Close()

	v, err := newTestClient(srv.URL).Version(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Version() error: %v", err)
	}
	if v != "0.5.1" {
		t.Errorf("version = %q, want %q", v, "0.5.1")
	}
}
