package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCanonicalPath(t *testing.T) {
	tests := map[string]string{
		"/":                   "/",
		"/api":                "/",
		"/analyze":            "/analyze",
		"/api/analyze":        "/analyze",
		"/gallery":            "/gallery",
		"/api/gallery/like":   "/gallery/:action",
		"/gallery/save":       "/gallery/:action",
		"/email/":             "/email",
		"/wp-admin/setup.php": "/other",
	}
	for in, want := range tests {
		assert.Equal(t, want, canonicalPath(in), in)
	}
}

func TestInstrumentHandlerCountsRequests(t *testing.T) {
	before := testutil.ToFloat64(httpRequests.WithLabelValues("POST", "/email", "429"))

	handler := InstrumentHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/email", nil))

	after := testutil.ToFloat64(httpRequests.WithLabelValues("POST", "/email", "429"))
	assert.Equal(t, before+1, after)
}

func TestRecordEvictionsIgnoresZero(t *testing.T) {
	before := testutil.ToFloat64(galleryEvictions)
	RecordEvictions(0)
	RecordEvictions(3)
	assert.Equal(t, before+3, testutil.ToFloat64(galleryEvictions))
}
