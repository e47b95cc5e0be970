package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"missionsync/internal/auth"
	"missionsync/internal/mission"
	"missionsync/internal/registry"
	"missionsync/internal/store"
)

type HTTPServer struct {
	service    *Service
	jwtSecret  []byte
	corsOrigin string
}

func NewHTTPServer(service *Service, jwtSecret, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, jwtSecret: []byte(jwtSecret), corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
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
			"store": map[string]any{"status": "ok"},
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
		return
	}

	actor, ok := s.requireActor(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/missions" {
		payload, err := s.service.CreateMission(r.Context(), actor)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/invitations/redeem" {
		var body struct {
			Code string `json:"code"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		binding, err := s.service.RedeemInvitation(r.Context(), actor, body.Code)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"binding": binding})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/binding" {
		binding, err := s.service.GetConversationBinding(r.Context(), actor)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"binding": binding})
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "mission" {
		s.handleMission(w, r, actor, parts[2:])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// handleMission serves /api/mission/...; the mission is the one the caller's
// conversation is bound to.
func (s *HTTPServer) handleMission(w http.ResponseWriter, r *http.Request, actor Actor, parts []string) {
	if len(parts) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	ctx := r.Context()

	switch parts[0] {
	case "briefing":
		if len(parts) != 1 {
			break
		}
		switch r.Method {
		case http.MethodGet:
			respond(w, http.StatusOK)(s.service.GetBriefing(ctx, actor))
		case http.MethodPost, http.MethodPut:
			var body struct {
				Name        string `json:"name"`
				Description string `json:"description"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			respond(w, http.StatusOK)(s.service.CreateBriefing(ctx, actor, body.Name, body.Description))
		default:
			writeMethodNotAllowed(w)
		}
		return

	case "goals":
		switch {
		case len(parts) == 1 && r.Method == http.MethodPost:
			var body GoalInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			respond(w, http.StatusCreated)(s.service.AddGoal(ctx, actor, body))
			return
		case len(parts) == 3 && parts[2] == "criteria" && r.Method == http.MethodPost:
			var body struct {
				Description string `json:"description"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			respond(w, http.StatusCreated)(s.service.AddSuccessCriterion(ctx, actor, parts[1], body.Description))
			return
		case len(parts) == 5 && parts[2] == "criteria" && parts[4] == "complete" && r.Method == http.MethodPost:
			respond(w, http.StatusOK)(s.service.MarkCriterionCompleted(ctx, actor, parts[1], parts[3]))
			return
		}

	case "kb":
		if len(parts) != 1 {
			break
		}
		switch r.Method {
		case http.MethodGet:
			sections, err := s.service.GetKnowledgeBase(ctx, actor)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"sections": sections})
		case http.MethodPost:
			var body KBSectionInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			respond(w, http.StatusCreated)(s.service.AddKBSection(ctx, actor, body))
		default:
			writeMethodNotAllowed(w)
		}
		return

	case "status":
		if len(parts) != 1 {
			break
		}
		switch r.Method {
		case http.MethodGet:
			respond(w, http.StatusOK)(s.service.GetStatus(ctx, actor))
		case http.MethodPost:
			var body StatusUpdate
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			respond(w, http.StatusOK)(s.service.UpdateStatus(ctx, actor, body))
		default:
			writeMethodNotAllowed(w)
		}
		return

	case "ready":
		if len(parts) == 1 && r.Method == http.MethodPost {
			respond(w, http.StatusOK)(s.service.MarkReadyForField(ctx, actor))
			return
		}

	case "complete":
		if len(parts) == 1 && r.Method == http.MethodPost {
			var body struct {
				Summary string `json:"summary"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			respond(w, http.StatusOK)(s.service.ReportCompletion(ctx, actor, body.Summary))
			return
		}

	case "abort":
		if len(parts) == 1 && r.Method == http.MethodPost {
			var body struct {
				Reason string `json:"reason"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			respond(w, http.StatusOK)(s.service.AbortMission(ctx, actor, body.Reason))
			return
		}

	case "requests":
		s.handleRequests(w, r, actor, parts[1:])
		return

	case "invitations":
		s.handleInvitations(w, r, actor, parts[1:])
		return

	case "join-code":
		if len(parts) == 1 && r.Method == http.MethodGet {
			code, err := s.service.GetJoinCode(ctx, actor)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"code": code})
			return
		}

	case "log":
		if len(parts) == 1 && r.Method == http.MethodGet {
			filter := LogFilter{}
			for _, raw := range r.URL.Query()["type"] {
				filter.Types = append(filter.Types, mission.EntryType(strings.ToUpper(strings.TrimSpace(raw))))
			}
			limit, err := queryInt(r, "limit", 0)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
				return
			}
			filter.Limit = limit
			entries, err := s.service.GetLog(ctx, actor, filter)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
			return
		}

	case "search":
		if len(parts) == 1 && r.Method == http.MethodGet {
			limit, err := queryInt(r, "limit", 20)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
				return
			}
			offset, err := queryInt(r, "offset", 0)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
				return
			}
			q := strings.TrimSpace(r.URL.Query().Get("q"))
			filterType := strings.TrimSpace(r.URL.Query().Get("type"))
			respond(w, http.StatusOK)(s.service.Search(ctx, actor, q, filterType, limit, offset))
			return
		}

	case "reindex":
		if len(parts) == 1 && r.Method == http.MethodPost {
			if err := s.service.Reindex(ctx, actor); err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
			return
		}

	case "ledger":
		if len(parts) == 2 && parts[1] == "verify" && r.Method == http.MethodGet {
			report, err := s.service.VerifyLedger(ctx, actor)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": report.OK(), "report": report})
			return
		}
		if len(parts) == 2 && parts[1] == "history" && r.Method == http.MethodGet {
			limit, err := queryInt(r, "limit", 50)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
				return
			}
			commits, err := s.service.LedgerHistory(ctx, actor, limit)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"commits": commits})
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleRequests(w http.ResponseWriter, r *http.Request, actor Actor, parts []string) {
	ctx := r.Context()
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		items, err := s.service.ListFieldRequests(ctx, actor, r.URL.Query().Get("status"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"requests": items})

	case len(parts) == 0 && r.Method == http.MethodPost:
		var body FieldRequestInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		respond(w, http.StatusCreated)(s.service.CreateFieldRequest(ctx, actor, body))

	case len(parts) == 1 && r.Method == http.MethodGet:
		respond(w, http.StatusOK)(s.service.GetFieldRequest(ctx, actor, parts[0]))

	case len(parts) == 2 && parts[1] == "updates" && r.Method == http.MethodPost:
		var body struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		respond(w, http.StatusOK)(s.service.UpdateFieldRequest(ctx, actor, parts[0], body.Status, body.Message))

	case len(parts) == 2 && parts[1] == "resolve" && r.Method == http.MethodPost:
		var body struct {
			Resolution string `json:"resolution"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		request, err := s.service.ResolveFieldRequest(ctx, actor, parts[0], body.Resolution)
		alreadyResolved := errors.Is(err, ErrAlreadyResolved)
		if err != nil && !alreadyResolved {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"request": request, "alreadyResolved": alreadyResolved})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleInvitations(w http.ResponseWriter, r *http.Request, actor Actor, parts []string) {
	ctx := r.Context()
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		items, err := s.service.ListInvitations(ctx, actor)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"invitations": items})

	case len(parts) == 0 && r.Method == http.MethodPost:
		var body struct {
			TargetUsername string `json:"targetUsername"`
			TTL            string `json:"ttl"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		input := InvitationInput{TargetUsername: body.TargetUsername}
		if raw := strings.TrimSpace(body.TTL); raw != "" {
			ttl, err := time.ParseDuration(raw)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "ttl must be a duration such as 48h", nil)
				return
			}
			input.TTL = ttl
		}
		respond(w, http.StatusCreated)(s.service.CreateInvitation(ctx, actor, input))

	case len(parts) == 2 && parts[1] == "revoke" && r.Method == http.MethodPost:
		respond(w, http.StatusOK)(s.service.RevokeInvitation(ctx, actor, parts[0]))

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

// requireActor authenticates the bearer token and returns who is calling.
func (s *HTTPServer) requireActor(w http.ResponseWriter, r *http.Request) (Actor, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Actor{}, false
	}
	claims, err := auth.ParseToken(s.jwtSecret, token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Actor{}, false
	}
	actor := Actor{UserID: claims.Subject, ConversationID: claims.ConversationID}
	s.service.RememberParticipant(r.Context(), actor, claims.Name)
	return actor, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

// respond adapts a (value, error) service result into a JSON response.
func respond(w http.ResponseWriter, status int) func(any, error) {
	return func(payload any, err error) {
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, status, payload)
	}
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

func writeServiceError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		log.Printf("http: server error: %v", err)
	}
	writeError(w, status, code, message, details)
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) || errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return parsed, nil
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrStale) {
		return http.StatusConflict, "STALE", "Record changed concurrently; re-fetch and retry", nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, registry.ErrUnbound) {
		return ErrUnbound.Status, ErrUnbound.Code, ErrUnbound.Message, nil
	}
	if errors.Is(err, registry.ErrAlreadyBound) {
		return ErrConversationAlreadyBound.Status, ErrConversationAlreadyBound.Code, ErrConversationAlreadyBound.Message, nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
