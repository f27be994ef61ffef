package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"civicreport_backend/internal/reports/domain"
	"civicreport_backend/internal/reports/photos"
	"civicreport_backend/platform/httpkit"
)

// PhotoHandler serves photo intake for report submission. Photos are
// uploaded first; the returned references go into the submit payload.
type PhotoHandler struct {
	svc *photos.Service
}

func NewPhotoHandler(svc *photos.Service) *PhotoHandler {
	return &PhotoHandler{svc: svc}
}

func (h *PhotoHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("", httpkit.RequireRole(string(domain.RoleCitizen)), h.Upload)
	rg.GET("/:ref/url", h.DownloadURL)
}

type photoUploadResponse struct {
	PhotoRef  string   `json:"photoRef"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

func (h *PhotoHandler) Upload(c *gin.Context) {
	if httpkit.MustGetIdentity(c) == nil {
		return
	}

	file, err := c.FormFile("photo")
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, "photo file missing", nil)
		return
	}

	src, err := file.Open()
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	defer src.Close()

	result, err := h.svc.Upload(c.Request.Context(), file.Header.Get("Content-Type"), src, file.Size)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.Created(c, photoUploadResponse{
		PhotoRef:  result.Ref,
		Latitude:  result.Latitude,
		Longitude: result.Longitude,
	})
}

func (h *PhotoHandler) DownloadURL(c *gin.Context) {
	if httpkit.MustGetIdentity(c) == nil {
		return
	}

	ref := "photos/" + c.Param("ref")
	url, err := h.svc.DownloadURL(c.Request.Context(), ref)
	if err != nil {
		httpkit.Error(c, http.StatusNotFound, "photo not found", nil)
		return
	}

	httpkit.OK(c, gin.H{"url": url})
}
