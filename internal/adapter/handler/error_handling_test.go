package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hive-corporation/sitescan/internal/core/ports"
	"github.com/hive-corporation/sitescan/internal/core/service"
)

// failingResponseWriter fails every body write.
type failingResponseWriter struct {
	http.ResponseWriter
	writeCount int
}

func (f *failingResponseWriter) Write([]byte) (int, error) {
	f.writeCount++
	return 0, errors.New("write failed")
}

func observedHandler(t *testing.T) (*RestHandler, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return NewRestHandler(&stubAnalyzer{}, zap.New(core)), logs
}

func TestWriteJSON_EncodingFailureIsLogged(t *testing.T) {
	h, logs := observedHandler(t)
	rec := httptest.NewRecorder()

	assert.NotPanics(t, func() { h.writeJSON(rec, http.StatusOK, make(chan int)) })
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, logs.FilterMessage("Error encoding JSON response").Len())
}

func TestWriteJSON_WriteFailureIsLogged(t *testing.T) {
	h, logs := observedHandler(t)
	w := &failingResponseWriter{ResponseWriter: httptest.NewRecorder()}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	assert.Equal(t, 1, w.writeCount)
	assert.Equal(t, 1, logs.FilterMessage("Error encoding JSON response").Len())
}

func TestWriteServiceError_StatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("scan x: %w", ports.ErrScanNotFound), http.StatusNotFound},
		{service.ErrGroupNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: %q", service.ErrInvalidTarget, "ftp://x"), http.StatusBadRequest},
		{service.ErrUnsupportedFormat, http.StatusBadRequest},
		{service.ErrNoArchive, http.StatusServiceUnavailable},
		{service.ErrNoSource, http.StatusServiceUnavailable},
		{fmt.Errorf("fetch: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}

	h := NewRestHandler(&stubAnalyzer{}, zaptest.NewLogger(t))
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.writeServiceError(rec, tt.err, "failed")
			assert.Equal(t, tt.want, rec.Code)
			assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
		})
	}
}

func TestWriteServiceError_InternalDetailsHidden(t *testing.T) {
	h, logs := observedHandler(t)
	rec := httptest.NewRecorder()

	h.writeServiceError(rec, errors.New("pq: password authentication failed for user admin"), "failed to load scan")

	assert.JSONEq(t, `{"error":"failed to load scan"}`, rec.Body.String())
	assert.Equal(t, 1, logs.FilterMessage("failed to load scan").Len())
}

func TestGrpcStatusMapping(t *testing.T) {
	s := NewGrpcServer(&stubAnalyzer{}, zaptest.NewLogger(t))

	assert.Equal(t, codes.NotFound, status.Code(s.statusError(ports.ErrScanNotFound, "x")))
	assert.Equal(t, codes.InvalidArgument, status.Code(s.statusError(service.ErrInvalidTarget, "x")))
	assert.Equal(t, codes.Unavailable, status.Code(s.statusError(service.ErrNoSource, "x")))
	assert.Equal(t, codes.DeadlineExceeded, status.Code(s.statusError(context.DeadlineExceeded, "x")))
	assert.Equal(t, codes.Canceled, status.Code(s.statusError(context.Canceled, "x")))

	err := s.statusError(errors.New("secret dsn"), "failed to analyze scan")
	assert.Equal(t, codes.Internal, status.Code(err))
	assert.Equal(t, "failed to analyze scan", status.Convert(err).Message())
}
