package main

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"labscope/config"
	"labscope/models"
	"labscope/storage"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	// genai zieht opencensus nach, dessen Worker beim Laden startet
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		MaxUploadMB:      1,
		RAGDir:           t.TempDir(),
		RAGBackend:       "file",
		ReportStore:      "memory",
		EnabledProviders: "kb,rag",
		LLMProvider:      "groq",
		OCREngine:        "none",
		DefaultAge:       30,
		AnalyzerVersion:  "test",
	}
}

func testRouter(t *testing.T, cfg *config.Config) *gin.Engine {
	t.Helper()
	a, err := buildApp(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	return newRouter(a, zap.NewNop())
}

func do(r http.Handler, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func upload(t *testing.T, path string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if data != nil {
		fw, err := mw.CreateFormFile("file", "labs.pdf")
		require.NoError(t, err)
		_, err = fw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestAPIKeyAuth(t *testing.T) {
	cfg := testConfig(t)
	cfg.APISecretKey = "secret"
	r := testRouter(t, cfg)

	w, body := do(r, httptest.NewRequest(http.MethodGet, "/api/reports", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Unauthorized: Invalid API Key", body["error"])

	req := httptest.NewRequest(http.MethodGet, "/api/reports", nil)
	req.Header.Set("X-API-KEY", "secret")
	w, _ = do(r, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w, body = do(r, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestAnalyzeValidation(t *testing.T) {
	r := testRouter(t, testConfig(t))

	w, body := do(r, upload(t, "/api/analyze", nil, nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "file is required", body["error"])

	w, body = do(r, upload(t, "/api/analyze", []byte("x"), map[string]string{"sex": "robot"}))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "sex must be male or female", body["error"])

	for _, age := range []string{"abc", "-1", "131"} {
		w, _ = do(r, upload(t, "/api/analyze", []byte("x"), map[string]string{"age": age}))
		assert.Equal(t, http.StatusBadRequest, w.Code, age)
	}

	w, body = do(r, upload(t, "/api/analyze", make([]byte, 1<<20+1), nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "file exceeds 1 MB", body["error"])
}

func TestAnalyzeAndReportLifecycle(t *testing.T) {
	r := testRouter(t, testConfig(t))

	w, body := do(r, upload(t, "/api/analyze", []byte("not a pdf"), map[string]string{"sex": "Female", "age": "41", "report_name": "annual"}))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.ReportNeedsReview, body["status"])
	assert.Equal(t, "labs.pdf", body["filename"])
	issues := body["issues"].([]any)
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0], "parse_error: ")
	assert.Equal(t, "test", body["meta"].(map[string]any)["analyzer_version"])
	id := body["id"].(string)
	assert.Equal(t, id, body["context"].(map[string]any)["report_id"])

	w, body = do(r, httptest.NewRequest(http.MethodGet, "/api/reports?page=0&page_size=5", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["total"])
	assert.Equal(t, float64(1), body["page"])
	assert.Equal(t, float64(5), body["page_size"])
	item := body["items"].([]any)[0].(map[string]any)
	assert.Equal(t, id, item["id"])
	assert.Equal(t, "annual", item["report_name"])
	assert.Equal(t, "female", item["sex"])
	assert.Equal(t, float64(41), item["age"])

	w, body = do(r, httptest.NewRequest(http.MethodGet, "/api/report/"+id, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, body["id"])

	w, body = do(r, httptest.NewRequest(http.MethodDelete, "/api/report/"+id, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id, body["deleted"])

	w, body = do(r, httptest.NewRequest(http.MethodGet, "/api/report/"+id, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "report_not_found", body["error"])

	w, _ = do(r, httptest.NewRequest(http.MethodDelete, "/api/report/"+id, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestExtractEndpointReportsError(t *testing.T) {
	r := testRouter(t, testConfig(t))
	w, body := do(r, upload(t, "/api/extract", []byte("garbage"), nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, body["error"])
	assert.Equal(t, false, body["ocr_used"])
}

func TestResolveEndpoint(t *testing.T) {
	r := testRouter(t, testConfig(t))

	w, body := do(r, httptest.NewRequest(http.MethodGet, "/api/kb/resolve?name=HGB", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["found"])
	assert.Equal(t, "hemoglobin", body["key"])
	assert.Equal(t, "Hemoglobin", body["title"])
	assert.Equal(t, "KB", body["entry"].(map[string]any)["source"])

	w, body = do(r, httptest.NewRequest(http.MethodGet, "/api/kb/resolve?name=unobtainium", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["found"])
	assert.Nil(t, body["entry"])

	w, _ = do(r, httptest.NewRequest(http.MethodGet, "/api/kb/resolve", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBuildAppRejectsUnknownProviders(t *testing.T) {
	cfg := testConfig(t)
	cfg.EnabledProviders = "pubmed"
	_, err := buildApp(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.OCREngine = "abbyy"
	_, err = buildApp(context.Background(), cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestPruneReports(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	store, err := storage.NewMemoryReportStore("", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, store.Add(ctx, &models.Report{ID: "old", CreatedAt: now.AddDate(0, 0, -10)}))
	require.NoError(t, store.Add(ctx, &models.Report{ID: "new", CreatedAt: now.AddDate(0, 0, -1)}))

	n, err := pruneReports(ctx, store, 0, now)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = pruneReports(ctx, store, 7, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = store.Get(ctx, "old")
	assert.ErrorIs(t, err, storage.ErrReportNotFound)
}
