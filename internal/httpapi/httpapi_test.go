package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/domain"
	"docrag/internal/metrics"
	"docrag/internal/service"
	"docrag/internal/synthesizer"
)

type fakeService struct {
	report   service.IngestReport
	answer   synthesizer.Answer
	err      error
	paths    []string
	question string
	resets   int
}

func (f *fakeService) ProcessDocuments(_ context.Context, paths []string) (service.IngestReport, error) {
	f.paths = paths
	return f.report, f.err
}

func (f *fakeService) Query(_ context.Context, q string) (synthesizer.Answer, error) {
	f.question = q
	return f.answer, f.err
}

func (f *fakeService) Reset(context.Context) error {
	f.resets++
	return f.err
}

func (f *fakeService) Status(context.Context) (service.Status, error) {
	return service.Status{Collection: "docs", Entries: 3, Mode: synthesizer.ModeRetrievalOnly}, f.err
}

func do(t *testing.T, svc QAService, method, path, body string) (int, map[string]any) {
	t.Helper()
	app := NewApp(svc, nil, nil)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestHealthy(t *testing.T) {
	code, body := do(t, &fakeService{}, http.MethodGet, "/check/healthy", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["result"])
}

func TestDocuments(t *testing.T) {
	svc := &fakeService{report: service.IngestReport{
		Files: 1, Documents: 2, Chunks: 5, Summary: "short",
		Failed: []*domain.FileError{{Path: "x.docx", Err: domain.ErrUnsupportedFormat}},
	}}
	code, body := do(t, svc, http.MethodPost, "/api/v1/documents", `{"paths":["a.pdf"]}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"a.pdf"}, svc.paths)
	assert.EqualValues(t, 5, body["chunks"])
	failed := body["failed"].([]any)
	require.Len(t, failed, 1)
	assert.Equal(t, "x.docx", failed[0].(map[string]any)["path"])
}

func TestDocuments_Validation(t *testing.T) {
	code, body := do(t, &fakeService{}, http.MethodPost, "/api/v1/documents", `{"paths":[]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Contains(t, body["errors"], "paths")

	code, body = do(t, &fakeService{}, http.MethodPost, "/api/v1/documents", `{"paths":`)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid JSON request", body["error"])
}

func TestQuery(t *testing.T) {
	svc := &fakeService{answer: synthesizer.Answer{
		Text:    "It rains.",
		Success: true,
		Mode:    synthesizer.ModeGenerative,
		Sources: []domain.Chunk{{Content: strings.Repeat("w", 400), Metadata: map[string]string{domain.MetaSource: "weather.txt", domain.MetaPage: "3"}}},
	}}
	code, body := do(t, svc, http.MethodPost, "/api/v1/query", `{"question":"what is the weather"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "what is the weather", svc.question)
	assert.Equal(t, "It rains.", body["answer"])
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "generative", body["mode"])
	sources := body["sources"].([]any)
	require.Len(t, sources, 1)
	src := sources[0].(map[string]any)
	assert.Equal(t, "weather.txt", src["source"])
	assert.Equal(t, "3", src["page"])
	assert.Len(t, src["preview"], SourcePreviewLength+3)
}

func TestQuery_ErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: empty question", domain.ErrEmptyInput), http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: no documents indexed", domain.ErrConfiguration), http.StatusConflict},
		{domain.ErrNetwork, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			code, body := do(t, &fakeService{err: tc.err}, http.MethodPost, "/api/v1/query", `{"question":"q"}`)
			assert.Equal(t, tc.code, code)
			assert.EqualValues(t, tc.code, body["code"])
			assert.Equal(t, tc.err.Error(), body["error"])
		})
	}

	code, body := do(t, &fakeService{}, http.MethodPost, "/api/v1/query", `{"question":""}`)
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, map[string]any{"question": "failed on 'required' tag"}, body["errors"])
}

func TestResetAndStatus(t *testing.T) {
	svc := &fakeService{}
	code, _ := do(t, svc, http.MethodPost, "/api/v1/reset", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, svc.resets)

	code, body := do(t, svc, http.MethodGet, "/api/v1/status", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "docs", body["collection"])
	assert.EqualValues(t, 3, body["entries"])
	assert.Equal(t, "retrieval_only", body["mode"])
}

func TestNotFound(t *testing.T) {
	code, body := do(t, &fakeService{}, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.EqualValues(t, http.StatusNotFound, body["code"])
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.RecordChunks(4)
	app := NewApp(&fakeService{}, reg, nil)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "docrag_chunks_indexed_total 4")
}
