package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/smallnest/hybridrag/log"
	"github.com/smallnest/hybridrag/metrics"
	"github.com/smallnest/hybridrag/rag"
	"github.com/smallnest/hybridrag/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	answer   string
	err      error
	query    service.QueryRequest
	uploaded service.UploadRequest
	body     string
	deadline bool
}

func (f *fakeService) Query(ctx context.Context, req service.QueryRequest) (string, error) {
	f.query = req
	_, f.deadline = ctx.Deadline()
	return f.answer, f.err
}

func (f *fakeService) Upload(ctx context.Context, req service.UploadRequest) (string, error) {
	f.uploaded = req
	b, _ := io.ReadAll(req.Body)
	f.body = string(b)
	if f.err != nil {
		return "", f.err
	}
	return "3f1c9a52-8a4e-4df1-9d0e-1b2c3d4e5f60", nil
}

func newTestServer(svc *fakeService, m *metrics.Collector) *Server {
	return New(svc, Options{
		RootPath:       "/api/v1",
		QueryTimeout:   time.Minute,
		MaxUploadBytes: 1 << 20,
		Metrics:        m,
		Logger:         &log.NoOpLogger{},
	})
}

func do(t *testing.T, s *Server, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestRoot(t *testing.T) {
	s := newTestServer(&fakeService{}, nil)

	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/v1/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Hello World"}`, rec.Body.String())

	rec = do(t, s, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestQuery(t *testing.T) {
	svc := &fakeService{answer: "**Acme** complies with the <script>x</script> policy."}
	s := newTestServer(svc, nil)

	body := `{"uuid":"3f1c9a52-8a4e-4df1-9d0e-1b2c3d4e5f60","question":"Who complies?","instructions":["Be brief"],"chat_history":[["hi","hello"]]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := do(t, s, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp QueryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, svc.answer, resp.Answer)
	assert.Contains(t, resp.AnswerHTML, "<strong>Acme</strong>")
	assert.NotContains(t, resp.AnswerHTML, "<script>")

	assert.Equal(t, "Who complies?", svc.query.Question)
	assert.Equal(t, []string{"Be brief"}, svc.query.Instructions)
	require.Len(t, svc.query.ChatHistory, 1)
	assert.Equal(t, "hello", svc.query.ChatHistory[0].Assistant)
	assert.True(t, svc.deadline)
}

func TestQuery_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"invalid input", fmt.Errorf("%w: question is required", rag.ErrInvalidInput), http.StatusBadRequest},
		{"not ready", fmt.Errorf("%w: still processing", rag.ErrDocumentNotReady), http.StatusBadRequest},
		{"retrieval", rag.Unavailable("graph", errors.New("down")), http.StatusBadGateway},
		{"tool", &rag.ToolError{Tool: "knowledge_base", Err: errors.New("boom")}, http.StatusBadGateway},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"other", errors.New("model exploded"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(&fakeService{err: tt.err}, nil)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/query", strings.NewReader(`{"uuid":"x","question":"q"}`))
			req.Header.Set("Content-Type", "application/json")
			rec := do(t, s, req)

			assert.Equal(t, tt.code, rec.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
			if tt.code == http.StatusInternalServerError {
				assert.NotContains(t, resp.Error, "exploded")
			}
		})
	}
}

func TestQuery_MalformedBody(t *testing.T) {
	svc := &fakeService{}
	s := newTestServer(svc, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/query", strings.NewReader(`{"question":`))
	req.Header.Set("Content-Type", "application/json")

	rec := do(t, s, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, svc.query.Question)
}

func multipartRequest(t *testing.T, contentType, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="policy.pdf"`)
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestUpload(t *testing.T) {
	svc := &fakeService{}
	s := newTestServer(svc, nil)

	rec := do(t, s, multipartRequest(t, "application/pdf", "%PDF-1.4"))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"uuid":"3f1c9a52-8a4e-4df1-9d0e-1b2c3d4e5f60"}`, rec.Body.String())
	assert.Equal(t, "policy.pdf", svc.uploaded.Filename)
	assert.Equal(t, "application/pdf", svc.uploaded.ContentType)
	assert.Equal(t, int64(8), svc.uploaded.Size)
	assert.Equal(t, "%PDF-1.4", svc.body)
}

func TestUpload_Rejected(t *testing.T) {
	svc := &fakeService{err: fmt.Errorf("%w: only application/pdf files are accepted", rag.ErrInvalidInput)}
	s := newTestServer(svc, nil)

	rec := do(t, s, multipartRequest(t, "text/plain", "hello"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", strings.NewReader("not multipart"))
	rec = do(t, s, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORS(t *testing.T) {
	s := newTestServer(&fakeService{}, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/query", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	rec := do(t, s, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.NewCollector("hybridrag")
	s := newTestServer(&fakeService{answer: "ok"}, m)

	do(t, s, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	rec := do(t, s, httptest.NewRequest(http.MethodGet, "/api/v1/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `hybridrag_http_requests_total{method="GET",path="/api/v1/health",status="200"} 1`)
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, StatusCode(echo.ErrNotFound))
	assert.Equal(t, http.StatusBadGateway, StatusCode(fmt.Errorf("wrapped: %w", &rag.ToolError{Tool: "uploaded_document", Err: errors.New("x")})))
	assert.Equal(t, http.StatusBadGateway, StatusCode(rag.Unavailable("vector search", errors.New("connection refused"))))
	assert.Equal(t, http.StatusGatewayTimeout, StatusCode(context.DeadlineExceeded))

	timedOut := &rag.ToolError{Tool: "knowledge_base", Err: rag.Unavailable("vector search", context.DeadlineExceeded)}
	assert.Equal(t, http.StatusGatewayTimeout, StatusCode(fmt.Errorf("agent run: %w", timedOut)))
}
