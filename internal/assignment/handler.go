package assignment

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"civicreport_backend/internal/reports/domain"
	"civicreport_backend/platform/httpkit"
	"civicreport_backend/platform/validator"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/technicians/:id/categories", h.GetTechnicianCategories)
	rg.PUT("/technicians/:id/categories", h.SetTechnicianCategories)

	rg.GET("/offices", h.ListOffices)
	rg.POST("/offices", h.CreateOffice)
	rg.GET("/offices/:id", h.GetOffice)
	rg.PUT("/offices/:id", h.UpdateOffice)
	rg.GET("/offices/:id/members", h.ListOfficeMembers)
	rg.POST("/offices/:id/members", h.AddOfficeMember)
	rg.DELETE("/offices/:id/members/:userId", h.RemoveOfficeMember)
}

type setCategoriesRequest struct {
	Categories []string `json:"categories" validate:"required,dive,oneof=roads lighting waste water parks signage other"`
}

type officeRequest struct {
	Name       string   `json:"name" validate:"required,min=1,max=200"`
	Categories []string `json:"categories" validate:"omitempty,dive,oneof=roads lighting waste water parks signage other"`
}

type addMemberRequest struct {
	UserID uuid.UUID `json:"userId" validate:"required"`
}

func (h *Handler) GetTechnicianCategories(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	categories, err := h.svc.CategoriesFor(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	if categories == nil {
		categories = []domain.Category{}
	}

	httpkit.OK(c, gin.H{"technicianId": id, "categories": categories})
}

func (h *Handler) SetTechnicianCategories(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req setCategoriesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := validator.Validate.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	if err := h.svc.SetTechnicianCategories(c.Request.Context(), id, toCategories(req.Categories)); httpkit.HandleError(c, err) {
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) ListOffices(c *gin.Context) {
	offices, err := h.svc.ListOffices(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	if offices == nil {
		offices = []ExternalOffice{}
	}
	httpkit.OK(c, offices)
}

func (h *Handler) CreateOffice(c *gin.Context) {
	var req officeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := validator.Validate.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	office, err := h.svc.CreateOffice(c.Request.Context(), req.Name, toCategories(req.Categories))
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.Created(c, office)
}

func (h *Handler) GetOffice(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	office, err := h.svc.GetOffice(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, office)
}

func (h *Handler) UpdateOffice(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req officeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := validator.Validate.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	office, err := h.svc.UpdateOffice(c.Request.Context(), id, req.Name, toCategories(req.Categories))
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, office)
}

func (h *Handler) ListOfficeMembers(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	members, err := h.svc.ListOfficeMembers(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	if members == nil {
		members = []uuid.UUID{}
	}

	httpkit.OK(c, gin.H{"officeId": id, "members": members})
}

func (h *Handler) AddOfficeMember(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	var req addMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := validator.Validate.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	if err := h.svc.AddOfficeMember(c.Request.Context(), id, req.UserID); httpkit.HandleError(c, err) {
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) RemoveOfficeMember(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	userID, ok := parseID(c, "userId")
	if !ok {
		return
	}

	if err := h.svc.RemoveOfficeMember(c.Request.Context(), id, userID); httpkit.HandleError(c, err) {
		return
	}

	c.Status(http.StatusNoContent)
}

func parseID(c *gin.Context, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(param))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return uuid.Nil, false
	}
	return id, true
}

func toCategories(in []string) []domain.Category {
	out := make([]domain.Category, 0, len(in))
	for _, c := range in {
		out = append(out, domain.Category(c))
	}
	return out
}
