package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"civicreport_backend/internal/auth/service"
	"civicreport_backend/internal/auth/transport"
	"civicreport_backend/platform/httpkit"
	"civicreport_backend/platform/validator"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

type Handler struct {
	svc *service.Service
}

func New(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/signup", h.SignUp)
	rg.POST("/signin", h.SignIn)
	rg.POST("/refresh", h.Refresh)
	rg.POST("/signout", h.SignOut)
	rg.POST("/forgot-password", h.ForgotPassword)
	rg.POST("/reset-password", h.ResetPassword)
	rg.POST("/verify-email", h.VerifyEmail)
}

func (h *Handler) SignUp(c *gin.Context) {
	var req transport.SignUpRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.svc.SignUp(c.Request.Context(), req.Email, req.Password, req.DisplayName); httpkit.HandleError(c, err) {
		return
	}

	c.Status(http.StatusCreated)
}

func (h *Handler) SignIn(c *gin.Context) {
	var req transport.SignInRequest
	if !bindAndValidate(c, &req) {
		return
	}

	access, refresh, err := h.svc.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.authError(c, err)
		return
	}

	httpkit.OK(c, transport.TokenPairResponse{AccessToken: access, RefreshToken: refresh})
}

func (h *Handler) Refresh(c *gin.Context) {
	var req transport.RefreshRequest
	if !bindAndValidate(c, &req) {
		return
	}

	access, refresh, err := h.svc.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.authError(c, err)
		return
	}

	httpkit.OK(c, transport.TokenPairResponse{AccessToken: access, RefreshToken: refresh})
}

func (h *Handler) SignOut(c *gin.Context) {
	var req transport.RefreshRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.svc.SignOut(c.Request.Context(), req.RefreshToken); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) ForgotPassword(c *gin.Context) {
	var req transport.ForgotPasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.svc.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		httpkit.Error(c, http.StatusInternalServerError, "could not process request", nil)
		return
	}

	// same response whether or not the address exists
	c.Status(http.StatusAccepted)
}

func (h *Handler) ResetPassword(c *gin.Context) {
	var req transport.ResetPasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.svc.ResetPassword(c.Request.Context(), req.Token, req.NewPassword); err != nil {
		h.authError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) VerifyEmail(c *gin.Context) {
	var req transport.VerifyEmailRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.svc.VerifyEmail(c.Request.Context(), req.Token); err != nil {
		h.authError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) GetMe(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}

	profile, err := h.svc.GetMe(c.Request.Context(), id.UserID())
	if err != nil {
		httpkit.Error(c, http.StatusNotFound, "user not found", nil)
		return
	}

	httpkit.OK(c, profile)
}

func (h *Handler) UpdateMe(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}

	var req transport.UpdateMeRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.svc.UpdateDisplayName(c.Request.Context(), id.UserID(), req.DisplayName); httpkit.HandleError(c, err) {
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) ChangePassword(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}

	var req transport.ChangePasswordRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.svc.ChangePassword(c.Request.Context(), id.UserID(), req.CurrentPassword, req.NewPassword); err != nil {
		h.authError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) ListUsers(c *gin.Context) {
	users, err := h.svc.ListUsers(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, users)
}

func (h *Handler) SetUserRole(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	var req transport.SetRoleRequest
	if !bindAndValidate(c, &req) {
		return
	}

	if err := h.svc.SetUserRole(c.Request.Context(), userID, req.Role); httpkit.HandleError(c, err) {
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) authError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		httpkit.Error(c, http.StatusUnauthorized, "invalid credentials", nil)
	case errors.Is(err, service.ErrEmailNotVerified):
		httpkit.Error(c, http.StatusForbidden, "email not verified", nil)
	case errors.Is(err, service.ErrTokenExpired):
		httpkit.Error(c, http.StatusUnauthorized, "token expired", nil)
	case errors.Is(err, service.ErrTokenInvalid):
		httpkit.Error(c, http.StatusUnauthorized, "token invalid", nil)
	default:
		httpkit.HandleError(c, err)
	}
}

func bindAndValidate(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return false
	}
	if err := validator.Validate.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return false
	}
	return true
}
