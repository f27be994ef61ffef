package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"civicreport_backend/internal/reports/domain"
	"civicreport_backend/internal/reports/repository"
	"civicreport_backend/internal/reports/service"
	"civicreport_backend/internal/reports/transport"
	"civicreport_backend/platform/httpkit"
	"civicreport_backend/platform/validator"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

var staffRoles = []string{
	string(domain.RoleOfficer),
	string(domain.RoleTechnician),
	string(domain.RoleExternalMaintainer),
	string(domain.RoleAdmin),
}

type Handler struct {
	svc *service.Service
}

func New(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("", httpkit.RequireRole(string(domain.RoleCitizen)), h.Submit)
	rg.GET("/mine", httpkit.RequireRole(string(domain.RoleCitizen)), h.ListOwn)
	rg.GET("/pending", httpkit.RequireRole(string(domain.RoleOfficer), string(domain.RoleAdmin)), h.ListPending)
	rg.GET("/queue", httpkit.RequireRole(string(domain.RoleTechnician), string(domain.RoleExternalMaintainer)), h.ListQueue)
	rg.GET("/:id", h.GetByID)
	rg.GET("/:id/rejection", h.GetRejection)

	rg.POST("/:id/approve", httpkit.RequireRole(string(domain.RoleOfficer)), h.Approve)
	rg.POST("/:id/reject", httpkit.RequireRole(string(domain.RoleOfficer)), h.Reject)
	rg.POST("/:id/start", httpkit.RequireRole(string(domain.RoleTechnician), string(domain.RoleExternalMaintainer)), h.StartWork)
	rg.POST("/:id/suspend", httpkit.RequireRole(string(domain.RoleTechnician), string(domain.RoleExternalMaintainer)), h.Suspend)
	rg.POST("/:id/resume", httpkit.RequireRole(string(domain.RoleTechnician), string(domain.RoleExternalMaintainer)), h.Resume)
	rg.POST("/:id/resolve", httpkit.RequireRole(string(domain.RoleTechnician), string(domain.RoleExternalMaintainer)), h.Resolve)
	rg.PUT("/:id/office", httpkit.RequireRole(string(domain.RoleOfficer), string(domain.RoleTechnician)), h.AssignOffice)

	rg.GET("/:id/messages", h.ListMessages)
	rg.POST("/:id/messages", h.PostMessage)
	rg.GET("/:id/comments", httpkit.RequireRole(staffRoles...), h.ListInternalComments)
	rg.POST("/:id/comments", httpkit.RequireRole(staffRoles...), h.PostInternalComment)
}

func (h *Handler) Submit(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}

	var req transport.SubmitReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := validator.Validate.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	rep, err := h.svc.Submit(c.Request.Context(), service.SubmitInput{
		Title:        req.Title,
		Description:  req.Description,
		Category:     domain.Category(req.Category),
		Address:      req.Address,
		Latitude:     req.Latitude,
		Longitude:    req.Longitude,
		Anonymous:    req.Anonymous,
		ReporterID:   id.UserID(),
		ContactPhone: req.ContactPhone,
		PhotoRefs:    req.PhotoRefs,
	})
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.Created(c, transport.NewReportResponse(rep))
}

func (h *Handler) GetByID(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}
	reportID, ok := parseReportID(c)
	if !ok {
		return
	}

	rep, err := h.svc.Get(c.Request.Context(), reportID)
	if httpkit.HandleError(c, err) {
		return
	}
	// citizens only see their own reports
	if actorRole(id) == domain.RoleCitizen && rep.ReporterID != id.UserID() {
		httpkit.Error(c, http.StatusNotFound, "report not found", nil)
		return
	}

	httpkit.OK(c, transport.NewReportResponse(rep))
}

func (h *Handler) GetRejection(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}
	reportID, ok := parseReportID(c)
	if !ok {
		return
	}

	if actorRole(id) == domain.RoleCitizen {
		rep, err := h.svc.Get(c.Request.Context(), reportID)
		if httpkit.HandleError(c, err) {
			return
		}
		if rep.ReporterID != id.UserID() {
			httpkit.Error(c, http.StatusNotFound, "report not found", nil)
			return
		}
	}

	rec, err := h.svc.GetRejection(c.Request.Context(), reportID)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, transport.NewRejectionResponse(rec))
}

func (h *Handler) Approve(c *gin.Context) {
	h.transition(c, h.svc.Approve)
}

func (h *Handler) StartWork(c *gin.Context) {
	h.transition(c, h.svc.StartWork)
}

func (h *Handler) Suspend(c *gin.Context) {
	h.transition(c, h.svc.Suspend)
}

func (h *Handler) Resume(c *gin.Context) {
	h.transition(c, h.svc.Resume)
}

func (h *Handler) Resolve(c *gin.Context) {
	h.transition(c, h.svc.Resolve)
}

type transitionFunc func(ctx context.Context, reportID, actorID uuid.UUID, role domain.Role) (domain.Report, error)

func (h *Handler) transition(c *gin.Context, fn transitionFunc) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}
	reportID, ok := parseReportID(c)
	if !ok {
		return
	}

	rep, err := fn(c.Request.Context(), reportID, id.UserID(), actorRole(id))
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, transport.NewReportResponse(rep))
}

func (h *Handler) Reject(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}
	reportID, ok := parseReportID(c)
	if !ok {
		return
	}

	var req transport.RejectReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := validator.Validate.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	rep, err := h.svc.Reject(c.Request.Context(), reportID, id.UserID(), actorRole(id), req.Motivation)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, transport.NewReportResponse(rep))
}

func (h *Handler) AssignOffice(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}
	reportID, ok := parseReportID(c)
	if !ok {
		return
	}

	var req transport.AssignOfficeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	rep, err := h.svc.AssignExternalOffice(c.Request.Context(), reportID, req.OfficeID, actorRole(id))
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, transport.NewReportResponse(rep))
}

func (h *Handler) ListOwn(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}
	params, ok := listParams(c)
	if !ok {
		return
	}

	items, total, err := h.svc.ListOwn(c.Request.Context(), id.UserID(), params.repo)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, transport.NewReportListResponse(items, total, params.page, params.pageSize))
}

func (h *Handler) ListPending(c *gin.Context) {
	params, ok := listParams(c)
	if !ok {
		return
	}

	items, total, err := h.svc.ListPending(c.Request.Context(), params.repo)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, transport.NewReportListResponse(items, total, params.page, params.pageSize))
}

func (h *Handler) ListQueue(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}
	params, ok := listParams(c)
	if !ok {
		return
	}

	items, total, err := h.svc.ListQueue(c.Request.Context(), id.UserID(), params.repo)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, transport.NewReportListResponse(items, total, params.page, params.pageSize))
}

func (h *Handler) ListMessages(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}
	reportID, ok := parseReportID(c)
	if !ok {
		return
	}

	msgs, err := h.svc.ListMessages(c.Request.Context(), reportID, id.UserID(), actorRole(id))
	if httpkit.HandleError(c, err) {
		return
	}

	out := make([]transport.MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, transport.NewMessageResponse(m))
	}
	httpkit.OK(c, out)
}

func (h *Handler) PostMessage(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}
	reportID, ok := parseReportID(c)
	if !ok {
		return
	}

	var req transport.PostMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := validator.Validate.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	msg, err := h.svc.PostPublicMessage(c.Request.Context(), reportID, id.UserID(), actorRole(id), req.Body)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.Created(c, transport.NewMessageResponse(msg))
}

func (h *Handler) ListInternalComments(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}
	reportID, ok := parseReportID(c)
	if !ok {
		return
	}

	comments, err := h.svc.ListInternalComments(c.Request.Context(), reportID, actorRole(id))
	if httpkit.HandleError(c, err) {
		return
	}

	out := make([]transport.InternalCommentResponse, 0, len(comments))
	for _, cm := range comments {
		out = append(out, transport.NewInternalCommentResponse(cm))
	}
	httpkit.OK(c, out)
}

func (h *Handler) PostInternalComment(c *gin.Context) {
	id := httpkit.MustGetIdentity(c)
	if id == nil {
		return
	}
	reportID, ok := parseReportID(c)
	if !ok {
		return
	}

	var req transport.PostInternalCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := validator.Validate.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	cm, err := h.svc.PostInternalComment(c.Request.Context(), reportID, id.UserID(), actorRole(id), req.Body)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.Created(c, transport.NewInternalCommentResponse(cm))
}

type pagedParams struct {
	page     int
	pageSize int
	repo     repository.ListParams
}

func listParams(c *gin.Context) (pagedParams, bool) {
	var req transport.ListReportsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return pagedParams{}, false
	}
	if req.Page < 1 {
		req.Page = 1
	}
	if req.PageSize < 1 || req.PageSize > 100 {
		req.PageSize = 20
	}
	return pagedParams{
		page:     req.Page,
		pageSize: req.PageSize,
		repo: repository.ListParams{
			Limit:  req.PageSize,
			Offset: (req.Page - 1) * req.PageSize,
		},
	}, true
}

func parseReportID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return uuid.Nil, false
	}
	return id, true
}

// actorRole picks the domain role carried in the access token. Tokens hold
// exactly one role; citizen is the floor when the claim is missing.
func actorRole(id httpkit.Identity) domain.Role {
	for _, r := range id.Roles() {
		role := domain.Role(r)
		if role.Valid() {
			return role
		}
	}
	return domain.RoleCitizen
}
