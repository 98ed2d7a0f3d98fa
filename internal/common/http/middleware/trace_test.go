package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"fujudge/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
)

type traceResponse struct {
	TraceID      string `json:"trace_id"`
	RequestID    string `json:"request_id"`
	RunID        string `json:"run_id"`
	CtxTraceID   string `json:"ctx_trace_id"`
	CtxRequestID string `json:"ctx_request_id"`
	CtxRunID     string `json:"ctx_run_id"`
}

func newTraceRouter(cfg TraceContextConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(TraceContextMiddlewareWithConfig(cfg))
	router.GET("/trace", func(c *gin.Context) {
		traceID, _ := c.Get("trace_id")
		requestID, _ := c.Get("request_id")
		ctx := c.Request.Context()
		c.JSON(http.StatusOK, traceResponse{
			TraceID:      toString(traceID),
			RequestID:    toString(requestID),
			RunID:        RunIDFromHeader(c),
			CtxTraceID:   contextkey.String(ctx, contextkey.TraceID),
			CtxRequestID: contextkey.String(ctx, contextkey.RequestID),
			CtxRunID:     contextkey.String(ctx, contextkey.RunID),
		})
	})
	return router
}

func TestTraceContextMiddleware(t *testing.T) {
	cases := []struct {
		name              string
		cfg               TraceContextConfig
		headers           map[string]string
		expectedTraceID   string
		expectedRequestID string
		expectedRunID     string
	}{
		{
			name: "generate trace and request id",
			cfg:  TraceContextConfig{AllowRunIDHeader: true},
		},
		{
			name: "preserve trace request and run id",
			cfg:  TraceContextConfig{AllowRunIDHeader: true},
			headers: map[string]string{
				"X-Trace-Id":   "trace-123",
				"X-Request-Id": "req-123",
				"X-Run-Id":     "run-42",
			},
			expectedTraceID:   "trace-123",
			expectedRequestID: "req-123",
			expectedRunID:     "run-42",
		},
		{
			name:            "ignore run id when disabled",
			cfg:             TraceContextConfig{},
			headers:         map[string]string{"X-Trace-Id": "trace-9", "X-Run-Id": "run-42"},
			expectedTraceID: "trace-9",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newTraceRouter(tc.cfg)
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/trace", nil)
			for key, value := range tc.headers {
				req.Header.Set(key, value)
			}
			router.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("unexpected status %d", rec.Code)
			}
			var resp traceResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode response failed: %v", err)
			}
			if resp.TraceID == "" || resp.RequestID == "" {
				t.Fatalf("trace and request id must always be set: %+v", resp)
			}
			if resp.TraceID != resp.CtxTraceID || resp.RequestID != resp.CtxRequestID || resp.RunID != resp.CtxRunID {
				t.Fatalf("gin and request context disagree: %+v", resp)
			}
			if tc.expectedTraceID != "" && resp.TraceID != tc.expectedTraceID {
				t.Fatalf("expected trace id %s, got %s", tc.expectedTraceID, resp.TraceID)
			}
			if tc.expectedRequestID != "" && resp.RequestID != tc.expectedRequestID {
				t.Fatalf("expected request id %s, got %s", tc.expectedRequestID, resp.RequestID)
			}
			if resp.RunID != tc.expectedRunID {
				t.Fatalf("expected run id %q, got %q", tc.expectedRunID, resp.RunID)
			}
			if got := rec.Header().Get("X-Trace-Id"); got != resp.TraceID {
				t.Fatalf("response trace header mismatch: %s", got)
			}
			if got := rec.Header().Get("X-Request-Id"); got != resp.RequestID {
				t.Fatalf("response request header mismatch: %s", got)
			}
		})
	}
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}
