package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/layer-3/bifrost/core"
	"github.com/layer-3/bifrost/service"
)

// AuthHandlers contains HTTP handlers for the verifier endpoints
type AuthHandlers struct {
	authService *service.AuthService
}

// NewAuthHandlers creates new auth handlers
func NewAuthHandlers(authService *service.AuthService) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
	}
}

// Challenge handles a challenge request
func (h *AuthHandlers) Challenge(c *gin.Context) {
	var req struct {
		Address string           `json:"address" binding:"required"`
		ChainID uint64           `json:"chainId"`
		Mode    core.AccountMode `json:"mode"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if req.Mode == "" {
		req.Mode = core.ModeLive
	}

	message, nonce, err := h.authService.CreateChallenge(req.Address, req.ChainID, req.Mode)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create challenge"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": message, "nonce": nonce})
}

// Verify handles signature verification and session issuance
func (h *AuthHandlers) Verify(c *gin.Context) {
	var req struct {
		Message   string           `json:"message" binding:"required"`
		Signature string           `json:"signature" binding:"required"`
		Mode      core.AccountMode `json:"mode"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	token, session, err := h.authService.Verify(c.Request.Context(), req.Message, req.Signature, req.Mode)
	if err != nil {
		statusCode := http.StatusInternalServerError
		errorMsg := "Authentication failed"

		switch {
		case errors.Is(err, core.ErrInvalidChallenge), errors.Is(err, core.ErrInvalidToken):
			statusCode = http.StatusBadRequest
			errorMsg = "Invalid challenge"
		case errors.Is(err, core.ErrTokenExpired):
			statusCode = http.StatusBadRequest
			errorMsg = "Challenge expired"
		case errors.Is(err, core.ErrInvalidSignature):
			statusCode = http.StatusUnauthorized
			errorMsg = "Invalid signature"
		}

		c.JSON(statusCode, gin.H{"error": errorMsg})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessionToken": token,
		"userId":       session.ID,
		"address":      session.Address,
	})
}

// ValidateSession reports whether a session token is still good
func (h *AuthHandlers) ValidateSession(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	session, err := h.authService.ValidateSession(c.Request.Context(), req.Token)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{"valid": true, "address": session.Address})
}

// Logout invalidates a session token
func (h *AuthHandlers) Logout(c *gin.Context) {
	var req struct {
		Token string `json:"token" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := h.authService.Logout(c.Request.Context(), req.Token); err != nil {
		statusCode := http.StatusInternalServerError
		errorMsg := "Failed to log out"

		if errors.Is(err, core.ErrInvalidToken) {
			statusCode = http.StatusBadRequest
			errorMsg = "Invalid session token"
		}

		c.JSON(statusCode, gin.H{"error": errorMsg})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}
