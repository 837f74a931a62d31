package http

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/bifrost/adapters/store"
	"github.com/layer-3/bifrost/adapters/tokenizer"
	"github.com/layer-3/bifrost/adapters/wallet"
	"github.com/layer-3/bifrost/core"
	"github.com/layer-3/bifrost/service"
)

func newTestServer(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return SetupRouter(service.NewAuthService(
		tokenizer.NewJWTTokenizer(key), store.NewMemoryStore()))
}

func postJSON(t *testing.T, router *gin.Engine, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var decoded map[string]any
	if len(w.Body.Bytes()) > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	}
	return w, decoded
}

// completeHandshake drives challenge -> sign -> verify over HTTP and returns
// the minted session token.
func completeHandshake(t *testing.T, router *gin.Engine, signer *wallet.LocalWallet) string {
	t.Helper()
	w, body := postJSON(t, router, "/auth/challenge", gin.H{
		"address": signer.Address(),
		"chainId": 1,
		"mode":    "live",
	})
	require.Equal(t, http.StatusOK, w.Code)
	message, _ := body["message"].(string)
	require.NotEmpty(t, message)

	signature, err := signer.PersonalSign(context.Background(), message, signer.Address())
	require.NoError(t, err)

	w, body = postJSON(t, router, "/auth/verify", gin.H{
		"message":   message,
		"signature": signature,
		"mode":      "live",
	})
	require.Equal(t, http.StatusOK, w.Code)
	token, _ := body["sessionToken"].(string)
	require.NotEmpty(t, token)
	return token
}

func TestHandshakeOverHTTP(t *testing.T) {
	router := newTestServer(t)
	signer, err := wallet.NewLocalWallet(1)
	require.NoError(t, err)

	token := completeHandshake(t, router, signer)

	w, body := postJSON(t, router, "/auth/session/validate", gin.H{"token": token})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, signer.Address(), body["address"])
}

func TestChallengeRequiresAddress(t *testing.T) {
	router := newTestServer(t)

	w, _ := postJSON(t, router, "/auth/challenge", gin.H{"chainId": 1})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	router := newTestServer(t)
	signer, err := wallet.NewLocalWallet(1)
	require.NoError(t, err)
	impostor, err := wallet.NewLocalWallet(1)
	require.NoError(t, err)

	w, body := postJSON(t, router, "/auth/challenge", gin.H{
		"address": signer.Address(),
		"chainId": 1,
	})
	require.Equal(t, http.StatusOK, w.Code)
	message := body["message"].(string)

	signature, err := impostor.PersonalSign(context.Background(), message, impostor.Address())
	require.NoError(t, err)

	w, _ = postJSON(t, router, "/auth/verify", gin.H{
		"message":   message,
		"signature": signature,
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestVerifyRejectsFreeFormMessage(t *testing.T) {
	router := newTestServer(t)

	w, _ := postJSON(t, router, "/auth/verify", gin.H{
		"message":   "not a challenge",
		"signature": "0xdeadbeef",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogoutInvalidatesSession(t *testing.T) {
	router := newTestServer(t)
	signer, err := wallet.NewLocalWallet(1)
	require.NoError(t, err)

	token := completeHandshake(t, router, signer)

	w, _ := postJSON(t, router, "/auth/logout", gin.H{"token": token})
	require.Equal(t, http.StatusOK, w.Code)

	w, body := postJSON(t, router, "/auth/session/validate", gin.H{"token": token})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["valid"])
}

func TestMeRequiresBearerToken(t *testing.T) {
	router := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMeReturnsSessionFacts(t *testing.T) {
	router := newTestServer(t)
	signer, err := wallet.NewLocalWallet(1)
	require.NoError(t, err)

	token := completeHandshake(t, router, signer)

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, signer.Address(), body["address"])
	assert.Equal(t, string(core.ModeLive), body["mode"])
}
