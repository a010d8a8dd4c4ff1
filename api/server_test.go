package api_test

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Aidin1998/analytics/api"
	"github.com/Aidin1998/analytics/common/auth"
	"github.com/Aidin1998/analytics/internal/cache"
	"github.com/Aidin1998/analytics/internal/config"
	"github.com/Aidin1998/analytics/internal/messaging"
	"github.com/Aidin1998/analytics/internal/storage"
	"github.com/Aidin1998/analytics/pkg/metrics"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const salesCSV = "region,units,price\nnorth,10,2.5\nsouth,12,2.0\neast,8,3.1\nwest,15,1.9\nnorth,11,2.4\n"

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		AppVersion:  "1.2.3",
		Environment: "test",
		LogLevel:    "debug",
		Server: config.ServerConfig{
			Host:             "127.0.0.1",
			Port:             5000,
			Workers:          2,
			MaxContentLength: 1 << 20,
			CORSOrigins:      []string{"*"},
			RateLimit:        "1000-M",
		},
		Storage: config.StorageConfig{
			UploadDir:           t.TempDir(),
			ReportDir:           t.TempDir(),
			MaxFileSize:         1 << 20,
			DatabaseURL:         "sqlite://:memory:",
			CacheTTL:            time.Minute,
			ReportRetentionDays: 30,
		},
		ML:         config.MLConfig{DefaultTestSize: 0.2, DefaultRandomState: 42, DefaultCVFolds: 3},
		Validation: config.ValidationConfig{QualityThreshold: 0.8, MissingThreshold: 0.05, OutlierThreshold: 0.03},
		Chart:      config.ChartConfig{Width: 800, Height: 600},
		Features:   config.FeatureFlags{MLFeatures: true, AdvancedAnalytics: true},
	}
}

func setupRouter(t *testing.T, cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)

	db, err := storage.Open(cfg.Storage.DatabaseURL)
	require.NoError(t, err)
	store, err := storage.NewStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	svc := api.NewServices(cfg, store, cache.NewMemory(cfg.Storage.CacheTTL), messaging.NewLogPublisher(logger), logger)
	srv, err := api.NewServer(cfg, svc, metrics.NewTracker(), logger)
	require.NoError(t, err)
	return srv.Router()
}

func doJSON(t *testing.T, r http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w, decode(t, w)
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	out := map[string]interface{}{}
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return out
}

func upload(t *testing.T, r http.Handler, filename, content string) (*httptest.ResponseRecorder, map[string]interface{}) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	} else {
		require.NoError(t, mw.WriteField("note", "no file"))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/data/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w, decode(t, w)
}

func TestHealthCheck(t *testing.T) {
	r := setupRouter(t, testConfig(t))

	w, body := doJSON(t, r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "1.2.3", body["version"])
	assert.Equal(t, "test", body["environment"])
	assert.NotContains(t, body, "services")

	w, body = doJSON(t, r, http.MethodGet, "/health?detailed=true", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	services, ok := body["services"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "healthy", services["ml_predictor"])
	assert.Equal(t, "healthy", services["database"])

	w, body = doJSON(t, r, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ready", body["status"])
}

func TestSwaggerDoc(t *testing.T) {
	r := setupRouter(t, testConfig(t))

	w, body := doJSON(t, r, http.MethodGet, "/swagger/doc.json", nil)
	require.Equal(t, http.StatusOK, w.Code)
	info, ok := body["info"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "1.2.3", info["version"])
	paths, ok := body["paths"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, paths, "/api/v1/data/upload")
	assert.Contains(t, paths, "/api/v1/reports/generate")
}

func TestUnknownRouteAndMethod(t *testing.T) {
	r := setupRouter(t, testConfig(t))

	w, body := doJSON(t, r, http.MethodGet, "/api/v1/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "error", body["status"])
	assert.EqualValues(t, 404, body["status_code"])

	w, body = doJSON(t, r, http.MethodGet, "/api/v1/data/upload", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.EqualValues(t, 405, body["status_code"])
}

func TestDatasetLifecycle(t *testing.T) {
	r := setupRouter(t, testConfig(t))

	w, body := upload(t, r, "sales.csv", salesCSV)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "other", body["label"])
	id, _ := body["data_id"].(string)
	require.NotEmpty(t, id)
	info := body["data_info"].(map[string]interface{})
	assert.EqualValues(t, 5, info["rows"])
	assert.EqualValues(t, 3, info["columns"])

	w, body = doJSON(t, r, http.MethodGet, "/api/v1/data", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["count"])

	w, body = doJSON(t, r, http.MethodGet, "/api/v1/data/"+id, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["preview"], 5)

	w, body = doJSON(t, r, http.MethodPost, "/api/v1/analysis/descriptive", map[string]interface{}{"data_id": id})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	stats := body["descriptive_statistics"].(map[string]interface{})
	assert.Contains(t, stats, "units")
	assert.Contains(t, stats, "price")

	w, body = doJSON(t, r, http.MethodPost, "/api/v1/data/clean", map[string]interface{}{
		"data_id":          id,
		"cleaning_options": map[string]interface{}{"remove_duplicates": true},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, body["cleaned_data_id"])
	assert.NotEqual(t, id, body["cleaned_data_id"])
	cleanedID, _ := body["cleaned_data_id"].(string)
	w, body = doJSON(t, r, http.MethodGet, "/api/v1/data/"+cleanedID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "sales_cleaned.csv", body["dataset"].(map[string]interface{})["filename"])

	w, body = doJSON(t, r, http.MethodPost, "/api/v1/data/transform", map[string]interface{}{
		"data_id":         id,
		"transformations": []map[string]interface{}{{"type": "drop_columns", "columns": []string{"units"}}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	transformedID, _ := body["transformed_data_id"].(string)
	w, body = doJSON(t, r, http.MethodGet, "/api/v1/data/"+transformedID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "sales_transformed.csv", body["dataset"].(map[string]interface{})["filename"])

	w, _ = doJSON(t, r, http.MethodDelete, "/api/v1/data/"+id, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, body = doJSON(t, r, http.MethodGet, "/api/v1/data/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", body["error"])
}

func TestUploadErrors(t *testing.T) {
	r := setupRouter(t, testConfig(t))

	w, body := upload(t, r, "", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "No file uploaded", body["message"])

	w, _ = upload(t, r, "notes.txt", "hello")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	big := strings.Repeat("a,b\n", (1<<20)/4+10)
	w, body = upload(t, r, "big.csv", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.EqualValues(t, 413, body["status_code"])
}

func TestLabelAndTransform(t *testing.T) {
	r := setupRouter(t, testConfig(t))

	w, body := doJSON(t, r, http.MethodPost, "/api/v1/data/label", map[string]string{"filename": "Q1.xlsx"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "excel_document", body["label"])

	w, body = doJSON(t, r, http.MethodPost, "/api/v1/data/transform", map[string]interface{}{
		"data": []map[string]interface{}{{"a": 1, "b": 2}, {"a": 3, "b": 4}},
		"transformations": []map[string]interface{}{
			{"type": "drop_columns", "columns": []string{"b"}},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	info := body["data_info"].(map[string]interface{})
	assert.EqualValues(t, 1, info["columns"])
	inlineID, _ := body["transformed_data_id"].(string)
	w, body = doJSON(t, r, http.MethodGet, "/api/v1/data/"+inlineID, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "inline_transformed.csv", body["dataset"].(map[string]interface{})["filename"])

	w, body = doJSON(t, r, http.MethodPost, "/api/v1/data/transform", map[string]interface{}{
		"data": []map[string]interface{}{{"a": 1}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEmpty(t, body["details"])
}

func TestValidationAndReportsInline(t *testing.T) {
	r := setupRouter(t, testConfig(t))
	rows := []map[string]interface{}{
		{"x": 1, "y": 2}, {"x": 2, "y": 4}, {"x": 3, "y": 6}, {"x": 4, "y": 8},
	}

	w, body := doJSON(t, r, http.MethodPost, "/api/v1/validation/quality", map[string]interface{}{"data": rows})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, body, "overall_quality_score")

	w, body = doJSON(t, r, http.MethodPost, "/api/v1/validation/business-rules", map[string]interface{}{"data": rows})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = doJSON(t, r, http.MethodGet, "/api/v1/reports/templates", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 5, body["total_templates"])

	w, body = doJSON(t, r, http.MethodPost, "/api/v1/reports/generate", map[string]interface{}{
		"data":        rows,
		"report_type": "data_quality",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	meta := body["report_metadata"].(map[string]interface{})
	reportID, _ := meta["report_id"].(string)
	require.NotEmpty(t, reportID)

	w, body = doJSON(t, r, http.MethodPost, "/api/v1/reports/export", map[string]interface{}{
		"report_id": reportID,
		"format":    "json",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	url, _ := body["download_info"].(map[string]interface{})["download_url"].(string)
	require.True(t, strings.HasPrefix(url, "/api/v1/reports/download/"))

	req := httptest.NewRequest(http.MethodGet, url, nil)
	dl := httptest.NewRecorder()
	r.ServeHTTP(dl, req)
	assert.Equal(t, http.StatusOK, dl.Code)
	assert.Contains(t, dl.Body.String(), reportID)

	w, _ = doJSON(t, r, http.MethodGet, "/api/v1/reports/download/..%2Fsecret.json", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPredictRejectsNonFiniteFeatures(t *testing.T) {
	r := setupRouter(t, testConfig(t))

	w, body := doJSON(t, r, http.MethodPost, "/api/v1/ml/train", map[string]interface{}{
		"model_type": "regression", "algorithm": "linear_regression", "model_name": "finite_check",
		"n_samples": 100, "n_features": 2,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "finite_check", body["model_name"])

	w, _ = doJSON(t, r, http.MethodPost, "/api/v1/ml/predict", map[string]interface{}{
		"model_name": "finite_check",
		"data":       []map[string]interface{}{{"feature_1": 0.5, "feature_2": 1}},
	})
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	for _, bad := range []string{"NaN", "Inf", "-Infinity"} {
		w, body = doJSON(t, r, http.MethodPost, "/api/v1/ml/predict", map[string]interface{}{
			"model_name": "finite_check",
			"data":       []map[string]interface{}{{"feature_1": bad, "feature_2": 1}},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code, bad)
		assert.EqualValues(t, 400, body["status_code"], bad)
	}
}

func TestMetricsEndpoints(t *testing.T) {
	r := setupRouter(t, testConfig(t))
	for i := 0; i < 3; i++ {
		doJSON(t, r, http.MethodGet, "/health", nil)
	}
	doJSON(t, r, http.MethodGet, "/api/v1/missing", nil)

	w, body := doJSON(t, r, http.MethodGet, "/api/v1/metrics?endpoint=GET:/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	snap, ok := body["GET:/health"].(map[string]interface{})
	require.True(t, ok, w.Body.String())
	assert.EqualValues(t, 3, snap["total_requests"])

	w, body = doJSON(t, r, http.MethodGet, "/api/v1/metrics/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["total_errors"])

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	scrape := httptest.NewRecorder()
	r.ServeHTTP(scrape, req)
	assert.Equal(t, http.StatusOK, scrape.Code)
	assert.Contains(t, scrape.Body.String(), "http_requests_total")
	assert.Contains(t, scrape.Body.String(), "service_uptime_seconds")
}

func TestFeatureFlags(t *testing.T) {
	cfg := testConfig(t)
	cfg.Features = config.FeatureFlags{}
	r := setupRouter(t, cfg)

	w, _ := doJSON(t, r, http.MethodGet, "/api/v1/ml/models", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = doJSON(t, r, http.MethodPost, "/api/v1/analysis/hypothesis", map[string]interface{}{})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = doJSON(t, r, http.MethodPost, "/api/v1/analysis/descriptive", map[string]interface{}{
		"data": []map[string]interface{}{{"x": 1}, {"x": 2}},
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthMiddleware(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth = config.AuthConfig{Enabled: true, JWTSecret: "s3cret", Issuer: "analytics"}
	r := setupRouter(t, cfg)

	w, body := doJSON(t, r, http.MethodGet, "/api/v1/reports/templates", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", body["error"])

	token, err := auth.IssueToken(auth.AuthorizationConfig{Secret: "s3cret", Issuer: "analytics"}, "analyst", "viewer", time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports/templates", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	ok := httptest.NewRecorder()
	r.ServeHTTP(ok, req)
	assert.Equal(t, http.StatusOK, ok.Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/data/abc", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	forbidden := httptest.NewRecorder()
	r.ServeHTTP(forbidden, req)
	assert.Equal(t, http.StatusForbidden, forbidden.Code)

	w, _ = doJSON(t, r, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
