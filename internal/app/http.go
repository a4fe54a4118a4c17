package app

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"editorbridge/internal/aichat"
	"editorbridge/internal/auth"
	"editorbridge/internal/bridge"
	"editorbridge/internal/editor"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	token      http.Handler
	metrics    http.Handler
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{
		service:    service,
		corsOrigin: corsOrigin,
		token: auth.NewTokenHandler(auth.HandlerConfig{
			EnvironmentID: service.cfg.Token.EnvironmentID,
			AccessKey:     service.cfg.Token.AccessKey,
			TTL:           service.cfg.Token.TTL,
			RPS:           service.cfg.Token.RPS,
			Burst:         service.cfg.Token.Burst,

			TrustedProxies: service.cfg.Token.TrustedProxies,
		}),
		metrics: promhttp.Handler(),
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	// The token endpoint answers its own preflight.
	if r.URL.Path == "/api/token" {
		s.token.ServeHTTP(w, r)
		return
	}

	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"sessions": map[string]any{"status": "ok", "open": s.service.SessionCount()},
		}
		if s.service.HandoffEnabled() {
			checks["redis"] = map[string]any{"status": "ok"}
			if err := s.service.Ping(ctx); err != nil {
				status = "not_ready"
				statusCode = http.StatusServiceUnavailable
				checks["redis"] = map[string]any{
					"status": "error",
					"error":  err.Error(),
				}
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/metrics" {
		s.metrics.ServeHTTP(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/bridge" {
		s.handleBridge(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "documents" && parts[2] != "" {
		s.handleDocuments(w, r, parts[2], parts)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handleDocuments(w http.ResponseWriter, r *http.Request, documentID string, parts []string) {
	if len(parts) == 3 && r.Method == http.MethodGet {
		view, err := s.service.Document(documentID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
		return
	}

	if len(parts) == 4 && parts[3] == "content" && r.Method == http.MethodPut {
		var input SetContentInput
		if !s.decode(w, r, &input) {
			return
		}
		view, err := s.service.SetContent(r.Context(), documentID, input)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
		return
	}

	if len(parts) == 4 && parts[3] == "handoff" && r.Method == http.MethodPost {
		var input HandoffInput
		if !s.decode(w, r, &input) {
			return
		}
		if err := s.service.StageHandoff(r.Context(), documentID, input); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"ok": true, "documentId": documentID})
		return
	}

	if len(parts) >= 4 && parts[3] == "threads" {
		s.handleThreads(w, r, documentID, parts)
		return
	}

	if len(parts) >= 5 && parts[3] == "ai" {
		s.handleAI(w, r, documentID, parts)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handleThreads(w http.ResponseWriter, r *http.Request, documentID string, parts []string) {
	ctx := r.Context()

	if len(parts) == 4 && r.Method == http.MethodPost {
		var input CreateThreadInput
		if !s.decode(w, r, &input) {
			return
		}
		thread, err := s.service.CreateThread(ctx, documentID, input)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"thread": thread})
		return
	}

	if len(parts) < 5 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}
	threadID := parts[4]

	if len(parts) == 5 && r.Method == http.MethodPatch {
		var input UpdateThreadInput
		if !s.decode(w, r, &input) {
			return
		}
		thread, err := s.service.UpdateThread(ctx, documentID, threadID, input)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"thread": thread})
		return
	}

	if len(parts) == 5 && r.Method == http.MethodDelete {
		if err := s.service.RemoveThread(ctx, documentID, threadID); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if len(parts) == 6 && parts[5] == "comments" && r.Method == http.MethodPost {
		var input AddCommentInput
		if !s.decode(w, r, &input) {
			return
		}
		thread, err := s.service.AddComment(ctx, documentID, threadID, input)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"thread": thread})
		return
	}

	if len(parts) == 7 && parts[5] == "comments" && r.Method == http.MethodPut {
		var input UpdateCommentInput
		if !s.decode(w, r, &input) {
			return
		}
		thread, err := s.service.UpdateComment(ctx, documentID, threadID, parts[6], input)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"thread": thread})
		return
	}

	if len(parts) == 7 && parts[5] == "comments" && r.Method == http.MethodDelete {
		thread, err := s.service.RemoveComment(ctx, documentID, threadID, parts[6])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"thread": thread})
		return
	}

	if len(parts) == 6 && parts[5] == "resolve" && r.Method == http.MethodPost {
		thread, err := s.service.ResolveThread(ctx, documentID, threadID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"thread": thread})
		return
	}

	if len(parts) == 6 && parts[5] == "reopen" && r.Method == http.MethodPost {
		thread, err := s.service.ReopenThread(ctx, documentID, threadID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"thread": thread})
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handleAI(w http.ResponseWriter, r *http.Request, documentID string, parts []string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	ctx := r.Context()

	switch {
	case len(parts) == 6 && parts[4] == "fix":
		prompt, err := s.service.FixThread(ctx, documentID, parts[5])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"prompt": prompt})

	case len(parts) == 5 && parts[4] == "solve-all":
		prompt, err := s.service.SolveAll(ctx, documentID)
		if errors.Is(err, aichat.ErrNoOpenComments) {
			writeJSON(w, http.StatusOK, map[string]any{"notice": "No open comments found to solve."})
			return
		}
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"prompt": prompt})

	case len(parts) == 5 && parts[4] == "prompt":
		var input PromptInput
		if !s.decode(w, r, &input) {
			return
		}
		sent, err := s.service.SubmitPrompt(ctx, documentID, input)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"prompt": sent})

	case len(parts) == 5 && parts[4] == "clicks":
		var click aichat.Click
		if !s.decode(w, r, &click) {
			return
		}
		apply, err := s.service.ReportClick(documentID, click)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"apply": apply})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

func (s *HTTPServer) fail(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		log.Error().Err(err).Str("code", code).Msg("request failed")
	} else if errors.Unwrap(err) != nil {
		log.Debug().Err(err).Str("code", code).Msg("request rejected")
	}
	writeError(w, status, code, message, details)
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

		next.ServeHTTP(writer, r)

		log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("http request")
	})
}

type requestIDKey struct{}

// RequestID returns the id the middleware assigned to the request.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the WebSocket upgrade take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hijacker.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, bridge.ErrNotReady):
		return http.StatusServiceUnavailable, "EDITOR_NOT_READY", "Editor is not ready", nil
	case errors.Is(err, editor.ErrAnchorNotFound):
		return http.StatusUnprocessableEntity, "ANCHOR_NOT_FOUND", "Anchor text not found in document", nil
	case errors.Is(err, aichat.ErrThreadNotFound):
		return http.StatusNotFound, "THREAD_NOT_FOUND", "Comment thread not found", nil
	case errors.Is(err, aichat.ErrNoReadable):
		return http.StatusUnprocessableEntity, "NO_READABLE_COMMENTS", "Comment thread has no readable comments", nil
	case errors.Is(err, aichat.ErrPanelUnavailable):
		return http.StatusServiceUnavailable, "AI_UNAVAILABLE", "AI chat panel is not available", nil
	case errors.Is(err, aichat.ErrComposerNotFound),
		errors.Is(err, aichat.ErrSendNotFound),
		errors.Is(err, aichat.ErrSendDisabled):
		return http.StatusBadGateway, "AI_PANEL_ERROR", err.Error(), nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
