package handler

import (
	"context"
	"net/http"
	"testing"

	"llamacoder-go/pkg/llm"

	"github.com/gin-gonic/gin"
)

type fakeModelService struct {
	models []llm.ModelInfo
	err    error
}

func (f *fakeModelService) ListModels(context.Context) ([]llm.ModelInfo, error) {
	return f.models, f.err
}

func TestListModels(t *testing.T) {
	r := gin.New()
	h := NewModelHandler(&fakeModelService{models: []llm.ModelInfo{{Name: "phi:latest"}, {Name: "llama3.2-vision"}}})
	r.GET("/api/v1/models", h.List)

	w, envelope := doJSON(t, r, http.MethodGet, "/api/v1/models", nil)
	if w.Code != http.StatusOK || envelope.Code != 0 {
		t.Fatalf("status=%d code=%d, want 200/0", w.Code, envelope.Code)
	}
	data, _ := envelope.Data.([]interface{})
	if len(data) != 2 {
		t.Errorf("len(data) = %d, want 2", len(data))
	}
}

func TestListModels_UpstreamUnavailable(t *testing.T) {
	r := gin.New()
	h := NewModelHandler(&fakeModelService{err: &llm.APIError{StatusCode: 503, Message: "connection refused"}})
	r.GET("/api/v1/models", h.List)

	w, envelope := doJSON(t, r, http.MethodGet, "/api/v1/models", nil)
	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", w.Code)
	}
	if envelope.Info != "connection refused" {
		t.Errorf("info = %q, want the upstream message", envelope.Info)
	}
}
