package api

import (
	"errors"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/MultiSigWallet/internal/identity"
)

// AuthHandler exchanges signed challenges for owner tokens.
type AuthHandler struct {
	challenges *identity.ChallengeStore
	tokens     *identity.TokenIssuer
	isOwner    func(common.Address) bool
	logger     *zap.Logger
}

// NewAuthHandler creates an AuthHandler. Only addresses accepted by isOwner
// may obtain a challenge.
func NewAuthHandler(challenges *identity.ChallengeStore, tokens *identity.TokenIssuer, isOwner func(common.Address) bool, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{challenges: challenges, tokens: tokens, isOwner: isOwner, logger: logger}
}

// Register mounts the auth routes on the given router group.
func (h *AuthHandler) Register(rg *gin.RouterGroup) {
	a := rg.Group("/auth")
	{
		a.POST("/challenge", h.Challenge)
		a.POST("/token", h.Token)
		a.GET("/key", h.PublicKey)
	}
}

// Challenge handles POST /auth/challenge. Issues a one-time login message.
func (h *AuthHandler) Challenge(c *gin.Context) {
	var req challengeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if !common.IsHexAddress(req.Owner) {
		badRequest(c, "owner must be a hex address")
		return
	}
	owner := common.HexToAddress(req.Owner)
	if !h.isOwner(owner) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a wallet owner", "code": "unauthorized"})
		return
	}

	ch, err := h.challenges.Issue(owner)
	if err != nil {
		h.logger.Error("issue challenge", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue challenge", "code": "internal"})
		return
	}
	c.JSON(http.StatusOK, ch)
}

// Token handles POST /auth/token. Verifies the signed challenge and
// returns a Bearer token.
func (h *AuthHandler) Token(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if !common.IsHexAddress(req.Owner) {
		badRequest(c, "owner must be a hex address")
		return
	}
	owner := common.HexToAddress(req.Owner)

	if err := h.challenges.Redeem(owner, req.Signature); err != nil {
		code := "bad_signature"
		if errors.Is(err, identity.ErrNoChallenge) {
			code = "no_challenge"
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error(), "code": code})
		return
	}

	token, err := h.tokens.Issue(owner)
	if err != nil {
		h.logger.Error("issue owner token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to issue token", "code": "internal"})
		return
	}
	h.logger.Info("owner authenticated", zap.String("owner", owner.Hex()))
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"token_type": "Bearer",
		"expires_in": int(h.tokens.TTL().Seconds()),
	})
}

// PublicKey handles GET /auth/key. Returns the token verification key.
func (h *AuthHandler) PublicKey(c *gin.Context) {
	pemStr, err := h.tokens.PublicKeyPEM()
	if err != nil {
		h.logger.Error("encode public key", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode key", "code": "internal"})
		return
	}
	c.Data(http.StatusOK, "application/x-pem-file", []byte(pemStr))
}
