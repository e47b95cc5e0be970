package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"missionsync/internal/auth"
	"missionsync/internal/registry"
	"missionsync/internal/store"
)

const testJWTSecret = "test-secret"

type httpClient struct {
	t      *testing.T
	server *HTTPServer
}

func newTestHTTP(t *testing.T) (*httpClient, *testEnv) {
	t.Helper()
	env := newTestEnv(t)
	return &httpClient{t: t, server: NewHTTPServer(env.svc, testJWTSecret, "*")}, env
}

func (c *httpClient) token(userID, name, conversationID string) string {
	c.t.Helper()
	token, err := auth.IssueToken([]byte(testJWTSecret), userID, name, conversationID, time.Hour)
	if err != nil {
		c.t.Fatalf("issue token: %v", err)
	}
	return token
}

func (c *httpClient) do(method, path, token string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			c.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &payload)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	c.server.Handler().ServeHTTP(rr, req)
	return rr
}

func (c *httpClient) expect(rr *httptest.ResponseRecorder, status int, target any) {
	c.t.Helper()
	if rr.Code != status {
		c.t.Fatalf("expected status %d, got %d body=%s", status, rr.Code, rr.Body.String())
	}
	if target != nil {
		if err := json.Unmarshal(rr.Body.Bytes(), target); err != nil {
			c.t.Fatalf("decode response: %v body=%s", err, rr.Body.String())
		}
	}
}

func TestHealthEndpoint(t *testing.T) {
	client, _ := newTestHTTP(t)

	var response map[string]any
	client.expect(client.do(http.MethodGet, "/api/health", "", nil), http.StatusOK, &response)
	if response["ok"] != true {
		t.Fatalf("expected ok=true, got %v", response["ok"])
	}

	var ready map[string]any
	client.expect(client.do(http.MethodGet, "/api/ready", "", nil), http.StatusOK, &ready)
	if ready["status"] != "ready" {
		t.Fatalf("expected ready, got %v", ready["status"])
	}
}

func TestRequestsWithoutTokenAreUnauthorized(t *testing.T) {
	client, _ := newTestHTTP(t)

	client.expect(client.do(http.MethodPost, "/api/missions", "", nil), http.StatusUnauthorized, nil)
	client.expect(client.do(http.MethodGet, "/api/mission/status", "garbage", nil), http.StatusUnauthorized, nil)

	expired, err := auth.IssueToken([]byte(testJWTSecret), "u-1", "Ann", "conv-1", -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	client.expect(client.do(http.MethodGet, "/api/mission/status", expired, nil), http.StatusUnauthorized, nil)
}

func TestUnboundConversationGetsUnbound(t *testing.T) {
	client, _ := newTestHTTP(t)
	token := client.token("u-1", "Ann", "conv-1")

	var response struct {
		Code string `json:"code"`
	}
	client.expect(client.do(http.MethodGet, "/api/mission/status", token, nil), http.StatusForbidden, &response)
	if response.Code != "UNBOUND" {
		t.Fatalf("expected UNBOUND, got %s", response.Code)
	}
}

func TestMissionFlowOverHTTP(t *testing.T) {
	client, env := newTestHTTP(t)
	hq := client.token("u-hq", "Harriet", "conv-hq")
	field := client.token("u-field", "Rita", "conv-field")

	var created struct {
		MissionID string `json:"missionId"`
		JoinCode  string `json:"joinCode"`
	}
	client.expect(client.do(http.MethodPost, "/api/missions", hq, nil), http.StatusCreated, &created)
	if created.MissionID == "" || created.JoinCode == "" {
		t.Fatalf("unexpected create response %+v", created)
	}

	client.expect(client.do(http.MethodPost, "/api/mission/briefing", hq, map[string]any{
		"name":        "Op Lighthouse",
		"description": "Restore the coastal relay",
	}), http.StatusOK, nil)

	var goal struct {
		ID              string `json:"id"`
		SuccessCriteria []struct {
			ID string `json:"id"`
		} `json:"success_criteria"`
	}
	client.expect(client.do(http.MethodPost, "/api/mission/goals", hq, map[string]any{
		"name":     "Restore power",
		"priority": "high",
		"criteria": []string{"Generator online"},
	}), http.StatusCreated, &goal)
	client.expect(client.do(http.MethodPost, "/api/mission/kb", hq, map[string]any{
		"title":   "Site map",
		"content": "North gate",
	}), http.StatusCreated, nil)

	var denied struct {
		Code string `json:"code"`
	}
	client.expect(client.do(http.MethodPost, "/api/invitations/redeem", field, map[string]any{"code": created.JoinCode}), http.StatusOK, nil)
	client.expect(client.do(http.MethodPost, "/api/mission/ready", field, nil), http.StatusForbidden, &denied)
	if denied.Code != "ROLE_NOT_AUTHORIZED" {
		t.Fatalf("expected ROLE_NOT_AUTHORIZED, got %s", denied.Code)
	}

	var status struct {
		State string `json:"state"`
	}
	client.expect(client.do(http.MethodPost, "/api/mission/ready", hq, nil), http.StatusOK, &status)
	if status.State != "ready_for_field" {
		t.Fatalf("expected ready_for_field, got %s", status.State)
	}

	var request struct {
		ID string `json:"id"`
	}
	client.expect(client.do(http.MethodPost, "/api/mission/requests", field, map[string]any{
		"title":    "Fuel contaminated",
		"priority": "critical",
	}), http.StatusCreated, &request)

	var resolved struct {
		Request struct {
			Status string `json:"status"`
		} `json:"request"`
		AlreadyResolved bool `json:"alreadyResolved"`
	}
	path := "/api/mission/requests/" + request.ID + "/resolve"
	client.expect(client.do(http.MethodPost, path, hq, map[string]any{"resolution": "New drum sent"}), http.StatusOK, &resolved)
	if resolved.Request.Status != "resolved" || resolved.AlreadyResolved {
		t.Fatalf("unexpected first resolve %+v", resolved)
	}
	client.expect(client.do(http.MethodPost, path, hq, map[string]any{"resolution": "again"}), http.StatusOK, &resolved)
	if !resolved.AlreadyResolved || resolved.Request.Status != "resolved" {
		t.Fatalf("expected alreadyResolved on the second call, got %+v", resolved)
	}

	completePath := "/api/mission/goals/" + goal.ID + "/criteria/" + goal.SuccessCriteria[0].ID + "/complete"
	var result struct {
		AllComplete bool `json:"allComplete"`
	}
	client.expect(client.do(http.MethodPost, completePath, field, nil), http.StatusOK, &result)
	if !result.AllComplete {
		t.Fatal("expected allComplete after the only criterion")
	}
	client.expect(client.do(http.MethodPost, "/api/mission/complete", field, map[string]any{"summary": "Relay restored"}), http.StatusOK, &status)
	if status.State != "completed" {
		t.Fatalf("expected completed, got %s", status.State)
	}

	var log struct {
		Entries []struct {
			EntryType string `json:"entry_type"`
		} `json:"entries"`
	}
	client.expect(client.do(http.MethodGet, "/api/mission/log?type=MISSION_COMPLETED", hq, nil), http.StatusOK, &log)
	if len(log.Entries) != 1 {
		t.Fatalf("expected one MISSION_COMPLETED entry, got %+v", log.Entries)
	}

	if env.notices.count("conv-field") == 0 {
		t.Fatal("expected the field conversation to be notified of HQ changes")
	}
}

func TestInvitationEndpoints(t *testing.T) {
	client, _ := newTestHTTP(t)
	hq := client.token("u-hq", "Harriet", "conv-hq")
	client.expect(client.do(http.MethodPost, "/api/missions", hq, nil), http.StatusCreated, nil)

	client.expect(client.do(http.MethodPost, "/api/mission/invitations", hq, map[string]any{"ttl": "soon"}), http.StatusUnprocessableEntity, nil)

	var issued struct {
		Code       string `json:"code"`
		Invitation struct {
			ID string `json:"invitationId"`
		} `json:"invitation"`
	}
	client.expect(client.do(http.MethodPost, "/api/mission/invitations", hq, map[string]any{
		"targetUsername": "Sam",
		"ttl":            "48h",
	}), http.StatusCreated, &issued)

	rita := client.token("u-rita", "Rita", "conv-rita")
	var mismatch struct {
		Code string `json:"code"`
	}
	client.expect(client.do(http.MethodPost, "/api/invitations/redeem", rita, map[string]any{"code": issued.Code}), http.StatusForbidden, &mismatch)
	if mismatch.Code != "USERNAME_MISMATCH" {
		t.Fatalf("expected USERNAME_MISMATCH, got %s", mismatch.Code)
	}

	client.expect(client.do(http.MethodPost, "/api/mission/invitations/"+issued.Invitation.ID+"/revoke", hq, nil), http.StatusOK, nil)
	sam := client.token("u-sam", "Sam", "conv-sam")
	client.expect(client.do(http.MethodPost, "/api/invitations/redeem", sam, map[string]any{"code": issued.Code}), http.StatusGone, nil)

	var listed struct {
		Invitations []struct {
			Status string `json:"status"`
		} `json:"invitations"`
	}
	client.expect(client.do(http.MethodGet, "/api/mission/invitations", hq, nil), http.StatusOK, &listed)
	if len(listed.Invitations) != 2 {
		t.Fatalf("expected the join code and one invitation, got %+v", listed.Invitations)
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"domain", fail(ErrCriteriaIncomplete, "2 remaining", nil), http.StatusConflict, "CRITERIA_INCOMPLETE"},
		{"stale", store.ErrStale, http.StatusConflict, "STALE"},
		{"wrapped stale", errors.Join(errors.New("append"), store.ErrStale), http.StatusConflict, "STALE"},
		{"store not found", store.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{"auth", auth.ErrExpiredToken, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"already resolved", ErrAlreadyResolved, http.StatusOK, "ALREADY_RESOLVED"},
		{"already accepted", ErrAlreadyAccepted, http.StatusConflict, "ALREADY_ACCEPTED"},
		{"registry unbound", fmt.Errorf("lookup: %w", registry.ErrUnbound), http.StatusForbidden, "UNBOUND"},
		{"registry already bound", registry.ErrAlreadyBound, http.StatusConflict, "CONVERSATION_ALREADY_BOUND"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "SERVER_ERROR"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, code, _, _ := mapError(tc.err)
			if status != tc.status || code != tc.code {
				t.Fatalf("expected %d %s, got %d %s", tc.status, tc.code, status, code)
			}
		})
	}
}

func TestUnknownRoute(t *testing.T) {
	client, _ := newTestHTTP(t)
	hq := client.token("u-hq", "Harriet", "conv-hq")
	client.expect(client.do(http.MethodGet, "/api/nowhere", hq, nil), http.StatusNotFound, nil)
	client.expect(client.do(http.MethodDelete, "/api/mission/status", hq, nil), http.StatusMethodNotAllowed, nil)
}
