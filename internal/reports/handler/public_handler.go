package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	qrcode "github.com/skip2/go-qrcode"

	"civicreport_backend/internal/reports/service"
	"civicreport_backend/internal/reports/transport"
	"civicreport_backend/platform/httpkit"
)

// PublicHandler serves the unauthenticated tracking endpoints. Anyone
// holding a tracking token can follow a report's progress without an
// account.
type PublicHandler struct {
	svc        *service.Service
	appBaseURL string
}

func NewPublicHandler(svc *service.Service, appBaseURL string) *PublicHandler {
	return &PublicHandler{svc: svc, appBaseURL: strings.TrimRight(appBaseURL, "/")}
}

func (h *PublicHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/:token", h.Track)
	rg.GET("/:token/qr", h.TrackQR)
}

// Track returns the public view of a report. Contact details never appear
// here and anonymous reports carry no reporter reference.
func (h *PublicHandler) Track(c *gin.Context) {
	token := c.Param("token")
	rep, err := h.svc.GetByTrackingToken(c.Request.Context(), token)
	if err != nil {
		httpkit.Error(c, http.StatusNotFound, "tracking link invalid", nil)
		return
	}

	httpkit.OK(c, transport.NewPublicReportResponse(rep))
}

// TrackQR renders the tracking link as a PNG QR code, sized for print on
// paper notices.
func (h *PublicHandler) TrackQR(c *gin.Context) {
	token := c.Param("token")
	if _, err := h.svc.GetByTrackingToken(c.Request.Context(), token); err != nil {
		httpkit.Error(c, http.StatusNotFound, "tracking link invalid", nil)
		return
	}

	link := fmt.Sprintf("%s/track/%s", h.appBaseURL, token)
	png, err := qrcode.Encode(link, qrcode.Medium, 256)
	if err != nil {
		httpkit.Error(c, http.StatusInternalServerError, "qr generation failed", nil)
		return
	}

	c.Data(http.StatusOK, "image/png", png)
}
