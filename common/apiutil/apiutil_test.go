package apiutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	apperrors "github.com/Aidin1998/analytics/common/errors"
	"github.com/Aidin1998/analytics/pkg/metrics"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestMetricsMiddleware_RecordsRoutePattern(t *testing.T) {
	tracker := metrics.NewTracker()
	r := gin.New()
	r.Use(MetricsMiddleware(tracker, "/metrics"))
	r.GET("/items/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/metrics", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/items/1", "/items/2", "/metrics", "/missing"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	snap := tracker.Endpoints("")
	require.Contains(t, snap, "GET:/items/:id")
	assert.Equal(t, int64(2), snap["GET:/items/:id"].TotalRequests)
	assert.NotContains(t, snap, "GET:/metrics")
	require.Contains(t, snap, "GET:unknown")
	assert.Equal(t, int64(1), snap["GET:unknown"].TotalErrors)
}

func TestWriteError_TypedKinds(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{apperrors.Invalidf("bad column"), http.StatusBadRequest, "invalid_request"},
		{apperrors.NotFoundf("model missing"), http.StatusNotFound, "not_found"},
		{apperrors.TooLargef("too big"), http.StatusRequestEntityTooLarge, "request_too_large"},
		{apperrors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		WriteError(c, tt.err)

		assert.Equal(t, tt.status, w.Code)
		var body ErrorResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Equal(t, "error", body.Status)
		assert.Equal(t, tt.code, body.Error)
		assert.Equal(t, tt.status, body.StatusCode)
	}
}

func TestWriteError_HidesInternalText(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	WriteError(c, apperrors.New("db password leaked"))
	assert.NotContains(t, w.Body.String(), "password")
}

type bindReq struct {
	Name  string  `json:"name" binding:"required"`
	Ratio float64 `json:"ratio" binding:"omitempty,gt=0,lt=1"`
}

func TestBindJSON(t *testing.T) {
	RegisterJSONTagNames()
	bind := func(body string) error {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		c.Request.Header.Set("Content-Type", "application/json")
		var req bindReq
		return BindJSON(c, &req)
	}

	assert.NoError(t, bind(`{"name":"x","ratio":0.5}`))

	err := bind(`{"ratio":2}`)
	require.Error(t, err)
	var typed *apperrors.Error
	require.True(t, apperrors.As(err, &typed))
	assert.Equal(t, apperrors.Invalid, typed.Kind)
	fields := map[string]string{}
	for _, f := range typed.Fields {
		fields[f.Field] = f.Tag
	}
	assert.Equal(t, "required", fields["name"])
	assert.Equal(t, "lt", fields["ratio"])

	assert.Equal(t, apperrors.Invalid, apperrors.KindOf(bind(`{not json`)))
}

func TestBindJSON_BodyLimit(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"`+strings.Repeat("a", 64)+`"}`))
	c.Request.Body = http.MaxBytesReader(w, c.Request.Body, 16)
	var req bindReq
	err := BindJSON(c, &req)
	assert.Equal(t, apperrors.TooLarge, apperrors.KindOf(err))
}

func TestSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	Success(c, gin.H{"value": 1, "at": time.Time{}})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"success"`)
}
