package api

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"taleBook/internal/account"
	"taleBook/internal/api/middleware"
	"taleBook/internal/auth"
)

const resetFlowTTL = 15 * time.Minute

// AuthHandler 处理注册、登录与密码重置。
type AuthHandler struct {
	accounts *account.Service
	tokens   *auth.TokenService
	logger   *slog.Logger

	mu    sync.Mutex
	flows map[string]*resetSession
	now   func() time.Time
}

type resetSession struct {
	flow      *account.ResetFlow
	expiresAt time.Time
}

// NewAuthHandler 构造认证处理器。
func NewAuthHandler(accounts *account.Service, tokens *auth.TokenService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		accounts: accounts,
		tokens:   tokens,
		logger:   logger,
		flows:    make(map[string]*resetSession),
		now:      time.Now,
	}
}

type registerRequest struct {
	Username             string `json:"username" binding:"required,max=64"`
	Password             string `json:"password" binding:"required"`
	Email                string `json:"email" binding:"required"`
	Sex                  string `json:"sex" binding:"required"`
	Age                  int    `json:"age" binding:"required,gt=0"`
	CharacterDescription string `json:"character_description"`
}

// Register 创建新账号，可同时创建同名角色。
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	logger := middleware.LoggerFromContext(c).With(slog.String("username", req.Username))

	ok, err := h.accounts.Register(c.Request.Context(), account.Registration{
		Username:             req.Username,
		Password:             req.Password,
		Email:                req.Email,
		Sex:                  req.Sex,
		Age:                  req.Age,
		CharacterDescription: req.CharacterDescription,
	})
	switch {
	case errors.Is(err, account.ErrInvalidRegistration):
		BadRequest(c, err.Error())
		return
	case err != nil && !syncPending(logger, err):
		logger.Error("register failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	case !ok:
		Conflict(c, "username or email already taken")
		return
	}

	c.JSON(http.StatusCreated, gin.H{"username": req.Username})
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Login 校验口令并返回访问令牌。
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	logger := middleware.LoggerFromContext(c).With(slog.String("username", req.Username))

	if !h.accounts.Authenticate(req.Username, req.Password) {
		logger.Info("login rejected")
		Unauthorized(c)
		return
	}

	token, err := h.tokens.Issue(req.Username)
	if err != nil {
		logger.Error("issue token failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}

	c.JSON(http.StatusOK, tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int(h.tokens.TTL().Seconds()),
	})
}

type resetRequest struct {
	Email string `json:"email" binding:"required"`
}

// RequestReset 发送重置码并开启一个重置会话。
func (h *AuthHandler) RequestReset(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	logger := middleware.LoggerFromContext(c)

	flow, found, err := h.accounts.RequestReset(c.Request.Context(), req.Email)
	if err != nil && !syncPending(logger, err) {
		logger.Error("request reset failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	if !found {
		NotFound(c, "no account with this email")
		return
	}

	flowID := uuid.NewString()
	h.mu.Lock()
	h.pruneLocked()
	h.flows[flowID] = &resetSession{flow: flow, expiresAt: h.now().Add(resetFlowTTL)}
	h.mu.Unlock()

	c.JSON(http.StatusAccepted, gin.H{"flow_id": flowID, "step": flow.Step()})
}

type verifyRequest struct {
	FlowID string `json:"flow_id" binding:"required"`
	Code   string `json:"code" binding:"required"`
}

// VerifyResetCode 校验重置码。
func (h *AuthHandler) VerifyResetCode(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	session, ok := h.sessionLocked(req.FlowID)
	if !ok {
		NotFound(c, "reset flow not found")
		return
	}
	if session.flow.Step() != account.StepCodeSent {
		Conflict(c, "reset code already validated")
		return
	}
	if !h.accounts.ValidateCode(session.flow.EmailDigest(), req.Code) {
		BadRequest(c, "invalid reset code")
		return
	}
	if err := session.flow.Validated(); err != nil {
		Conflict(c, err.Error())
		return
	}

	c.JSON(http.StatusOK, gin.H{"flow_id": req.FlowID, "step": session.flow.Step()})
}

type completeRequest struct {
	FlowID          string `json:"flow_id" binding:"required"`
	Password        string `json:"password" binding:"required"`
	ConfirmPassword string `json:"confirm_password" binding:"required"`
}

// CompleteReset 设置新密码并结束重置会话。
func (h *AuthHandler) CompleteReset(c *gin.Context) {
	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	if req.Password != req.ConfirmPassword {
		BadRequest(c, "passwords do not match")
		return
	}

	logger := middleware.LoggerFromContext(c)

	h.mu.Lock()
	defer h.mu.Unlock()

	session, ok := h.sessionLocked(req.FlowID)
	if !ok {
		NotFound(c, "reset flow not found")
		return
	}
	if session.flow.Step() != account.StepCodeValidated {
		Conflict(c, "reset code not validated")
		return
	}

	reset, err := h.accounts.ResetPassword(c.Request.Context(), session.flow.EmailDigest(), req.Password)
	if err != nil && !syncPending(logger, err) {
		logger.Error("reset password failed", slog.Any("error", err))
		Internal(c, "internal error")
		return
	}
	if !reset {
		NotFound(c, "no account with this email")
		return
	}

	if err := session.flow.Completed(); err == nil {
		_ = session.flow.Restart()
	}
	delete(h.flows, req.FlowID)

	c.JSON(http.StatusOK, gin.H{"step": session.flow.Step()})
}

func (h *AuthHandler) sessionLocked(id string) (*resetSession, bool) {
	session, ok := h.flows[id]
	if !ok {
		return nil, false
	}
	if h.now().After(session.expiresAt) {
		delete(h.flows, id)
		return nil, false
	}
	return session, true
}

func (h *AuthHandler) pruneLocked() {
	now := h.now()
	for id, session := range h.flows {
		if now.After(session.expiresAt) {
			delete(h.flows, id)
		}
	}
}
