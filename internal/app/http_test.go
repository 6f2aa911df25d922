package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Moonto97/DoodleAnalyzer/internal/apperr"
	"github.com/Moonto97/DoodleAnalyzer/internal/config"
	"github.com/Moonto97/DoodleAnalyzer/internal/critique"
	"github.com/Moonto97/DoodleAnalyzer/internal/gallery"
	"github.com/Moonto97/DoodleAnalyzer/internal/ratelimit"
	"github.com/Moonto97/DoodleAnalyzer/internal/store"
	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testImage = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="

type fakeCritic struct {
	raw   string
	err   error
	panic bool
	calls int
}

func (f *fakeCritic) Analyze(ctx context.Context, image string) (critique.Result, error) {
	f.calls++
	if f.panic {
		panic("critic exploded")
	}
	if f.err != nil {
		return critique.Result{}, f.err
	}
	return critique.Result{Raw: f.raw}, nil
}

type fakeMailer struct {
	configured bool
	err        error
	sent       []string
}

func (f *fakeMailer) IsConfigured() bool { return f.configured }

func (f *fakeMailer) SendDoodle(ctx context.Context, to, image string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, to)
	return nil
}

type testEnv struct {
	server  *HTTPServer
	handler http.Handler
	service *Service
	critic  *fakeCritic
	mailer  *fakeMailer
	limiter *ratelimit.Window
	redis   *miniredis.Miniredis
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	st, err := store.NewRedisStore("redis://"+mr.Addr(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	log := quietLogger()
	env := &testEnv{
		critic:  &fakeCritic{raw: `{"title":"무제"}`},
		mailer:  &fakeMailer{configured: true},
		limiter: ratelimit.New(3, time.Hour),
		redis:   mr,
	}
	cfg := config.Config{OpenAIAPIKey: "sk-test", EmailMaxPerHour: 3, StoreTimeout: time.Second}
	env.service = NewService(cfg, Deps{
		Gallery: gallery.NewRepository(st, 5, log),
		Store:   st,
		Limiter: env.limiter,
		Critic:  env.critic,
		Mailer:  env.mailer,
	}, log)
	env.server = NewHTTPServer(env.service, "*", 1<<20, log)
	env.handler = env.server.Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)

	var payload map[string]any
	if rr.Body.Len() > 0 && strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	}
	return rr, payload
}

func TestGalleryEndToEnd(t *testing.T) {
	env := newTestEnv(t)

	rr, body := env.do(t, http.MethodPost, "/gallery", map[string]any{"image": testImage, "title": "스케치"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, true, body["success"])
	id, _ := body["id"].(string)
	assert.Len(t, id, 8)

	rr, body = env.do(t, http.MethodGet, "/gallery", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	items := body["gallery"].([]any)
	require.Len(t, items, 1)
	entry := items[0].(map[string]any)
	assert.Equal(t, id, entry["id"])
	assert.Equal(t, "스케치", entry["title"])
	assert.EqualValues(t, 0, entry["likes"])
	assert.Equal(t, testImage, entry["image"])
	assert.NotZero(t, entry["created_at"])

	_, body = env.do(t, http.MethodPost, "/gallery", map[string]any{"action": "like", "id": id})
	assert.Equal(t, map[string]any{"success": true, "likes": float64(1)}, body)

	_, body = env.do(t, http.MethodPost, "/gallery", map[string]any{"action": "unlike", "id": id})
	assert.EqualValues(t, 0, body["likes"])
	rr, body = env.do(t, http.MethodPost, "/gallery", map[string]any{"action": "unlike", "id": id})
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, map[string]any{"success": true, "likes": float64(0)}, body)
}

func TestGalleryEmptyList(t *testing.T) {
	env := newTestEnv(t)

	rr, _ := env.do(t, http.MethodGet, "/api/gallery", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"gallery":[]}`, rr.Body.String())
}

func TestGallerySaveWithExplicitActionAndDefaultTitle(t *testing.T) {
	env := newTestEnv(t)

	rr, body := env.do(t, http.MethodPost, "/api/gallery", map[string]any{"action": "save", "image": testImage})
	require.Equal(t, http.StatusOK, rr.Code)
	id := body["id"].(string)

	_, body = env.do(t, http.MethodGet, "/api/gallery", nil)
	entry := body["gallery"].([]any)[0].(map[string]any)
	assert.Equal(t, id, entry["id"])
	assert.Equal(t, gallery.DefaultTitle, entry["title"])
}

func TestGalleryLegacyActionRoutes(t *testing.T) {
	env := newTestEnv(t)

	rr, body := env.do(t, http.MethodPost, "/gallery/save", map[string]any{"image": testImage})
	require.Equal(t, http.StatusOK, rr.Code)
	id := body["id"].(string)

	_, body = env.do(t, http.MethodPost, "/api/gallery/like", map[string]any{"id": id})
	assert.EqualValues(t, 1, body["likes"])

	_, body = env.do(t, http.MethodPost, "/gallery/unlike", map[string]any{"id": id})
	assert.EqualValues(t, 0, body["likes"])

	rr, body = env.do(t, http.MethodPost, "/gallery/delete", map[string]any{"id": id})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "VALIDATION_ERROR", body["code"])
}

func TestGalleryValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name    string
		body    map[string]any
		status  int
		code    string
		message string
	}{
		{"no action no image", map[string]any{}, http.StatusBadRequest, "VALIDATION_ERROR", "올바른 action을 지정해주세요 (save, like, unlike)."},
		{"unknown action", map[string]any{"action": "delete", "id": "x"}, http.StatusBadRequest, "VALIDATION_ERROR", "올바른 action을 지정해주세요 (save, like, unlike)."},
		{"save without image", map[string]any{"action": "save"}, http.StatusBadRequest, "VALIDATION_ERROR", "이미지 데이터가 필요합니다."},
		{"like without id", map[string]any{"action": "like"}, http.StatusBadRequest, "VALIDATION_ERROR", "낙서 ID가 필요합니다."},
		{"like unknown id", map[string]any{"action": "like", "id": "deadbeef"}, http.StatusNotFound, "NOT_FOUND", "해당 낙서를 찾을 수 없습니다."},
		{"unlike unknown id", map[string]any{"action": "unlike", "id": "deadbeef"}, http.StatusNotFound, "NOT_FOUND", "해당 낙서를 찾을 수 없습니다."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, body := env.do(t, http.MethodPost, "/gallery", tt.body)
			assert.Equal(t, tt.status, rr.Code)
			assert.Equal(t, tt.code, body["code"])
			assert.Equal(t, tt.message, body["error"])
		})
	}

	assert.Empty(t, env.redis.Keys(), "rejected requests must not write")
}

func TestGalleryEvictsLowestRankedOverHTTP(t *testing.T) {
	env := newTestEnv(t)

	var ids []string
	for i := 0; i < 5; i++ {
		_, body := env.do(t, http.MethodPost, "/gallery", map[string]any{"image": testImage})
		ids = append(ids, body["id"].(string))
		time.Sleep(2 * time.Millisecond)
	}
	for _, id := range ids[:4] {
		env.do(t, http.MethodPost, "/gallery", map[string]any{"action": "like", "id": id})
	}

	_, body := env.do(t, http.MethodPost, "/gallery", map[string]any{"image": testImage})
	newest := body["id"].(string)

	_, body = env.do(t, http.MethodGet, "/gallery", nil)
	items := body["gallery"].([]any)
	require.Len(t, items, 5)
	var listed []string
	for _, item := range items {
		listed = append(listed, item.(map[string]any)["id"].(string))
	}
	assert.NotContains(t, listed, ids[4], "the only unliked older entry is lowest ranked")
	assert.Contains(t, listed, newest)
}

func TestAnalyzeReturnsRawCritique(t *testing.T) {
	env := newTestEnv(t)
	env.critic.raw = `{"title":"월요일 아침의 삼각김밥","rating":"4"}`

	rr, body := env.do(t, http.MethodPost, "/api/analyze", map[string]any{"image": testImage})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, env.critic.raw, body["critique"])
}

func TestAnalyzeErrors(t *testing.T) {
	t.Run("missing image", func(t *testing.T) {
		env := newTestEnv(t)
		rr, body := env.do(t, http.MethodPost, "/analyze", map[string]any{})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "이미지 데이터가 필요합니다.", body["error"])
		assert.Zero(t, env.critic.calls)
	})

	t.Run("upstream failure", func(t *testing.T) {
		env := newTestEnv(t)
		env.critic.err = apperr.Upstream("Incorrect API key provided", errors.New("401"))
		rr, body := env.do(t, http.MethodPost, "/analyze", map[string]any{"image": testImage})
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.Equal(t, "UPSTREAM_ERROR", body["code"])
		assert.Equal(t, "Incorrect API key provided", body["error"])
	})

	t.Run("missing key", func(t *testing.T) {
		env := newTestEnv(t)
		env.service.cfg.OpenAIAPIKey = ""
		rr, body := env.do(t, http.MethodPost, "/analyze", map[string]any{"image": testImage})
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.Equal(t, "CONFIGURATION_ERROR", body["code"])
		assert.Equal(t, "OPENAI_API_KEY 환경변수가 설정되지 않았습니다.", body["error"])
		assert.Zero(t, env.critic.calls)
	})

	t.Run("panic is recovered", func(t *testing.T) {
		env := newTestEnv(t)
		env.critic.panic = true
		rr, body := env.do(t, http.MethodPost, "/analyze", map[string]any{"image": testImage})
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.Equal(t, "SERVER_ERROR", body["code"])
	})
}

func TestEmailInvalidAddressSendsNothing(t *testing.T) {
	env := newTestEnv(t)
	before := env.limiter.Remaining()

	rr, body := env.do(t, http.MethodPost, "/email", map[string]any{"email": "not-an-email", "image": testImage})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "VALIDATION_ERROR", body["code"])
	assert.Equal(t, "올바른 이메일 주소가 필요합니다.", body["error"])
	assert.Empty(t, env.mailer.sent)
	assert.Equal(t, before, env.limiter.Remaining())
}

func TestEmailSendAndRateLimit(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 3; i++ {
		rr, body := env.do(t, http.MethodPost, "/api/email", map[string]any{"email": "someone@example.com", "image": testImage})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Equal(t, map[string]any{"success": true}, body)
	}

	rr, body := env.do(t, http.MethodPost, "/api/email", map[string]any{"email": "someone@example.com", "image": testImage})
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "RATE_LIMITED", body["code"])
	assert.Equal(t, "너무 많은 이메일 요청입니다. 잠시 후 다시 시도해주세요.", body["error"])
	assert.Len(t, env.mailer.sent, 3)
}

func TestEmailFailureDoesNotConsumeQuota(t *testing.T) {
	env := newTestEnv(t)
	env.mailer.err = apperr.Upstream("535 authentication failed", errors.New("535"))

	rr, body := env.do(t, http.MethodPost, "/email", map[string]any{"email": "someone@example.com", "image": testImage})
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "535 authentication failed", body["error"])
	assert.Equal(t, 3, env.limiter.Remaining())
}

func TestEmailUnconfigured(t *testing.T) {
	env := newTestEnv(t)
	env.mailer.configured = false

	rr, body := env.do(t, http.MethodPost, "/email", map[string]any{"email": "someone@example.com", "image": testImage})
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "CONFIGURATION_ERROR", body["code"])
	assert.Equal(t, "SMTP 설정이 완료되지 않았습니다.", body["error"])
	assert.Equal(t, 3, env.limiter.Remaining())
}

func TestPreflightHasNoBody(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/analyze", "/email", "/gallery", "/api/gallery"} {
		req := httptest.NewRequest(http.MethodOptions, path, nil)
		rr := httptest.NewRecorder()
		env.handler.ServeHTTP(rr, req)

		assert.Equal(t, http.StatusNoContent, rr.Code, path)
		assert.Zero(t, rr.Body.Len(), path)
		assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "GET, POST, OPTIONS", rr.Header().Get("Access-Control-Allow-Methods"))
		assert.Equal(t, "Content-Type", rr.Header().Get("Access-Control-Allow-Headers"))
	}
}

func TestUnsupportedMethod(t *testing.T) {
	env := newTestEnv(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/analyze"},
		{http.MethodGet, "/email"},
		{http.MethodDelete, "/gallery"},
		{http.MethodPut, "/api/gallery"},
	} {
		rr, body := env.do(t, tc.method, tc.path, nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code, tc.path)
		assert.Equal(t, "METHOD_NOT_ALLOWED", body["code"])
		assert.Equal(t, "Method not allowed", body["error"])
	}
}

func TestInvalidJSONBody(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/gallery", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "INVALID_BODY")
}

func TestBodyTooLarge(t *testing.T) {
	env := newTestEnv(t)
	handler := NewHTTPServer(env.service, "*", 64, quietLogger()).Handler()

	payload := `{"image":"` + strings.Repeat("A", 256) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/gallery", strings.NewReader(payload))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.Empty(t, env.redis.Keys())
}

func TestRequestIDEcho(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	assert.Equal(t, "req-123", rr.Header().Get("X-Request-ID"))

	rr, _ = env.do(t, http.MethodGet, "/health", nil)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t)

	rr, body := env.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, body["ok"])

	rr, body = env.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ready", body["status"])

	env.redis.Close()
	rr, body = env.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "not_ready", body["status"])
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "error", checks["store"].(map[string]any)["status"])
}

func TestStoreOutageIsUpstreamError(t *testing.T) {
	env := newTestEnv(t)
	env.redis.Close()

	rr, body := env.do(t, http.MethodGet, "/gallery", nil)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "UPSTREAM_ERROR", body["code"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodGet, "/gallery", nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "doodle_http_requests_total")
}
