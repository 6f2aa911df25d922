package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Moonto97/DoodleAnalyzer/internal/metrics"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// routePrefixes mounts every route twice: at the root and under /api, the
// layout hosted-function deployments expose.
var routePrefixes = []string{"", "/api"}

type HTTPServer struct {
	service      *Service
	corsOrigin   string
	maxBodyBytes int64
	log          logrus.FieldLogger
}

func NewHTTPServer(service *Service, corsOrigin string, maxBodyBytes int64, log logrus.FieldLogger) *HTTPServer {
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = 10 << 20
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, maxBodyBytes: maxBodyBytes, log: log}
}

func (s *HTTPServer) Handler() http.Handler {
	router := mux.NewRouter()
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
	})
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found")
	})

	for _, prefix := range routePrefixes {
		router.HandleFunc(prefix+"/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
		router.HandleFunc(prefix+"/ready", s.handleReady).Methods(http.MethodGet, http.MethodHead)
		router.Handle(prefix+"/metrics", metrics.Handler()).Methods(http.MethodGet)
		router.HandleFunc(prefix+"/analyze", s.handleAnalyze).Methods(http.MethodPost)
		router.HandleFunc(prefix+"/email", s.handleEmail).Methods(http.MethodPost)
		router.HandleFunc(prefix+"/gallery", s.handleGalleryList).Methods(http.MethodGet)
		router.HandleFunc(prefix+"/gallery", s.handleGalleryAction).Methods(http.MethodPost)
		router.HandleFunc(prefix+"/gallery/{action}", s.handleGalleryAction).Methods(http.MethodPost)
	}

	return metrics.InstrumentHandler(s.withMiddleware(router))
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"store": map[string]any{"status": "ok"},
		"email": map[string]any{"remaining": s.service.EmailQuota()},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["store"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Image string `json:"image"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	raw, err := s.service.Analyze(r.Context(), body.Image)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"critique": raw})
}

func (s *HTTPServer) handleEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
		Image string `json:"image"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if err := s.service.SendEmail(r.Context(), body.Email, body.Image); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *HTTPServer) handleGalleryList(w http.ResponseWriter, r *http.Request) {
	doodles, err := s.service.ListGallery(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"gallery": doodles})
}

// handleGalleryAction dispatches save, like and unlike. The action comes from
// the path on legacy routes and from the body otherwise; a body carrying an
// image but no action is a save.
func (s *HTTPServer) handleGalleryAction(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Action string `json:"action"`
		Image  string `json:"image"`
		Title  string `json:"title"`
		ID     string `json:"id"`
	}
	if !s.decode(w, r, &body) {
		return
	}
	if action := mux.Vars(r)["action"]; action != "" {
		body.Action = action
	}

	switch {
	case body.Action == "save" || (body.Action == "" && body.Image != ""):
		id, err := s.service.SaveDoodle(r.Context(), body.Image, body.Title)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "id": id})
	case body.Action == "like" || body.Action == "unlike":
		like := s.service.LikeDoodle
		if body.Action == "unlike" {
			like = s.service.UnlikeDoodle
		}
		likes, err := like(r.Context(), body.ID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "likes": likes})
	default:
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "올바른 action을 지정해주세요 (save, like, unlike).")
	}
}

func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	err := decodeBody(r, target)
	if err == nil {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "요청 본문이 너무 큽니다.")
		return false
	}
	writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
	return false
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).WithFields(logrus.Fields{
			"request_id": requestIDFrom(r.Context()),
			"code":       code,
		}).Error("request failed")
	}
	writeError(w, status, code, message)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		defer func() {
			if rec := recover(); rec != nil {
				s.log.WithFields(logrus.Fields{
					"request_id": requestID,
					"panic":      fmt.Sprint(rec),
				}).Error("handler panicked")
				if !writer.wroteHeader {
					writeError(writer, http.StatusInternalServerError, "SERVER_ERROR", serverErrorMessage)
				}
			}
			s.log.WithFields(logrus.Fields{
				"request_id":  requestID,
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      writer.status,
				"duration_ms": time.Since(started).Milliseconds(),
			}).Info("request")
		}()

		if r.Method == http.MethodOptions {
			writer.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Body != nil {
			r.Body = http.MaxBytesReader(writer, r.Body, s.maxBodyBytes)
		}
		next.ServeHTTP(writer, r)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(status int) {
	if r.wroteHeader {
		return
	}
	r.status = status
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(b)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type")
	header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	header.Set("Cache-Control", "no-store")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":  code,
		"error": message,
	})
}

// decodeBody reads a JSON object into target. An empty body leaves target
// zeroed so required-field checks report what is missing.
func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}
