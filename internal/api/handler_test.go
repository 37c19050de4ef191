package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiemessiah/pulse-remit-channel/internal/client"
	"github.com/eddiemessiah/pulse-remit-channel/internal/config"
)

const gatewaySecret = "gateway-secret"

func newTestRouter(t *testing.T) (*Router, *TokenService) {
	t.Helper()

	cfg := &config.Config{
		Relay: config.RelayConfig{
			Endpoint:       "ws://relay.test/ws",
			Protocol:       "pulse-remit.v1",
			RequestTimeout: time.Second,
		},
		Channel: config.ChannelConfig{
			Quorum:          2,
			ChallengePeriod: time.Hour,
			CreateTimeout:   time.Second,
			ResyncTimeout:   time.Second,
		},
	}

	signer := func(ctx context.Context, message string) (string, error) {
		return "0xsig", nil
	}
	ch := client.New(cfg, "0xalice", signer, nil, nil)
	t.Cleanup(func() { ch.Close() })

	tokens := NewTokenService("token-secret", "test", time.Hour)
	handler := NewHandler(ch, nil, tokens, gatewaySecret, nil)
	return NewRouter(handler), tokens
}

func doRequest(r *Router, method, path, body, token string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doRequest(r, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestIssueToken(t *testing.T) {
	r, tokens := newTestRouter(t)

	w := doRequest(r, http.MethodPost, "/api/v1/auth/token", `{"secret":"wrong"}`, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(r, http.MethodPost, "/api/v1/auth/token", `{"secret":"`+gatewaySecret+`"}`, "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	claims, err := tokens.ValidateToken(resp.Token)
	require.NoError(t, err)
	assert.Equal(t, "dashboard", claims.Subject)
}

func TestStatusSnapshot(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doRequest(r, http.MethodGet, "/api/v1/status", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var status struct {
		Connected bool   `json:"connected"`
		Address   string `json:"address"`
		Sessions  int    `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.False(t, status.Connected)
	assert.Equal(t, "0xalice", status.Address)
	assert.Equal(t, 0, status.Sessions)
}

func TestMutatingRoutesRequireToken(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doRequest(r, http.MethodPost, "/api/v1/sessions", `{}`, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", strings.NewReader("{}"))
	req.Header.Set("Authorization", "Token abc")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(r, http.MethodPost, "/api/v1/sessions", `{}`, "bogus-token")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateSessionValidation(t *testing.T) {
	r, tokens := newTestRouter(t)
	token, err := tokens.GenerateToken("dashboard")
	require.NoError(t, err)

	w := doRequest(r, http.MethodPost, "/api/v1/sessions", `{}`, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(r, http.MethodPost, "/api/v1/sessions",
		`{"deposit":"not-a-number","participants":["0xalice","0xbob"]}`, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(r, http.MethodPost, "/api/v1/sessions",
		`{"deposit":"-5","participants":["0xalice","0xbob"]}`, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// The funding wallet must lead the participant list.
	w = doRequest(r, http.MethodPost, "/api/v1/sessions",
		`{"deposit":"100","participants":["0xbob","0xalice"]}`, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListSessionsEmpty(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doRequest(r, http.MethodGet, "/api/v1/sessions", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"sessions":[]}`, w.Body.String())
}

func TestGetSessionNotFound(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doRequest(r, http.MethodGet, "/api/v1/sessions/missing", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetStateNotFound(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doRequest(r, http.MethodGet, "/api/v1/sessions/missing/state", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHistoryWithoutLedger(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doRequest(r, http.MethodGet, "/api/v1/history", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"settlements":[]}`, w.Body.String())
}

func TestTransferValidation(t *testing.T) {
	r, tokens := newTestRouter(t)
	token, err := tokens.GenerateToken("dashboard")
	require.NoError(t, err)

	w := doRequest(r, http.MethodPost, "/api/v1/sessions/missing/transfers",
		`{"to":"0xbob","amount":"10"}`, token)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doRequest(r, http.MethodPost, "/api/v1/sessions/missing/transfers", `{}`, token)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCORSPreflights(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/status", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
