package transport

import (
	"time"

	"github.com/google/uuid"

	"civicreport_backend/internal/reports/domain"
)

// Request DTOs
type SubmitReportRequest struct {
	Title        string   `json:"title" validate:"required,min=1,max=200"`
	Description  string   `json:"description" validate:"required,min=1,max=4000"`
	Category     string   `json:"category" validate:"required,oneof=roads lighting waste water parks signage other"`
	Address      string   `json:"address" validate:"required,min=1,max=300"`
	Latitude     float64  `json:"latitude" validate:"min=-90,max=90"`
	Longitude    float64  `json:"longitude" validate:"min=-180,max=180"`
	Anonymous    bool     `json:"anonymous"`
	ContactPhone string   `json:"contactPhone,omitempty" validate:"omitempty,min=5,max=20"`
	PhotoRefs    []string `json:"photoRefs" validate:"required,min=1,max=10,dive,min=1,max=500"`
}

type RejectReportRequest struct {
	Motivation string `json:"motivation" validate:"required,min=10,max=2000"`
}

type AssignOfficeRequest struct {
	OfficeID *uuid.UUID `json:"officeId" validate:"omitempty"`
}

type PostMessageRequest struct {
	Body string `json:"body" validate:"required,min=1,max=2000"`
}

type PostInternalCommentRequest struct {
	Body string `json:"body" validate:"required,min=1,max=2000"`
}

type ListReportsRequest struct {
	Page     int `form:"page" validate:"omitempty,min=1"`
	PageSize int `form:"pageSize" validate:"omitempty,min=1,max=100"`
}

// Response DTOs
type ReportResponse struct {
	ID               uuid.UUID       `json:"id"`
	Title            string          `json:"title"`
	Description      string          `json:"description"`
	Category         domain.Category `json:"category"`
	Address          string          `json:"address"`
	Latitude         float64         `json:"latitude"`
	Longitude        float64         `json:"longitude"`
	Anonymous        bool            `json:"anonymous"`
	ReporterID       uuid.UUID       `json:"reporterId"`
	ContactPhone     string          `json:"contactPhone,omitempty"`
	PhotoRefs        []string        `json:"photoRefs"`
	Status           domain.Status   `json:"status"`
	ExternalOfficeID *uuid.UUID      `json:"externalOfficeId,omitempty"`
	TrackingToken    string          `json:"trackingToken,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// PublicReportResponse is the unauthenticated tracking view. It carries no
// contact details and omits the reporter entirely for anonymous reports.
type PublicReportResponse struct {
	Title      string          `json:"title"`
	Category   domain.Category `json:"category"`
	Address    string          `json:"address"`
	Status     domain.Status   `json:"status"`
	ReporterID *uuid.UUID      `json:"reporterId,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

type MessageResponse struct {
	ID        uuid.UUID `json:"id"`
	ReportID  uuid.UUID `json:"reportId"`
	SenderID  uuid.UUID `json:"senderId"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

type InternalCommentResponse struct {
	ID        uuid.UUID `json:"id"`
	ReportID  uuid.UUID `json:"reportId"`
	SenderID  uuid.UUID `json:"senderId"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

type RejectionResponse struct {
	ReportID   uuid.UUID `json:"reportId"`
	OfficerID  uuid.UUID `json:"officerId"`
	Motivation string    `json:"motivation"`
	CreatedAt  time.Time `json:"createdAt"`
}

type ReportListResponse struct {
	Items      []ReportResponse `json:"items"`
	Total      int              `json:"total"`
	Page       int              `json:"page"`
	PageSize   int              `json:"pageSize"`
	TotalPages int              `json:"totalPages"`
}

func NewReportResponse(r domain.Report) ReportResponse {
	return ReportResponse{
		ID:               r.ID,
		Title:            r.Title,
		Description:      r.Description,
		Category:         r.Category,
		Address:          r.Address,
		Latitude:         r.Latitude,
		Longitude:        r.Longitude,
		Anonymous:        r.Anonymous,
		ReporterID:       r.ReporterID,
		ContactPhone:     r.ContactPhone,
		PhotoRefs:        r.PhotoRefs,
		Status:           r.Status,
		ExternalOfficeID: r.ExternalOfficeID,
		TrackingToken:    r.TrackingToken,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

func NewPublicReportResponse(r domain.Report) PublicReportResponse {
	resp := PublicReportResponse{
		Title:     r.Title,
		Category:  r.Category,
		Address:   r.Address,
		Status:    r.Status,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if !r.Anonymous {
		reporterID := r.ReporterID
		resp.ReporterID = &reporterID
	}
	return resp
}

func NewReportListResponse(items []domain.Report, total, page, pageSize int) ReportListResponse {
	resp := ReportListResponse{
		Items:    make([]ReportResponse, 0, len(items)),
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}
	for _, r := range items {
		resp.Items = append(resp.Items, NewReportResponse(r))
	}
	if pageSize > 0 {
		resp.TotalPages = (total + pageSize - 1) / pageSize
	}
	return resp
}

func NewMessageResponse(m domain.Message) MessageResponse {
	return MessageResponse{ID: m.ID, ReportID: m.ReportID, SenderID: m.SenderID, Body: m.Body, CreatedAt: m.CreatedAt}
}

func NewInternalCommentResponse(c domain.InternalComment) InternalCommentResponse {
	return InternalCommentResponse{ID: c.ID, ReportID: c.ReportID, SenderID: c.SenderID, Body: c.Body, CreatedAt: c.CreatedAt}
}

func NewRejectionResponse(rec domain.RejectionRecord) RejectionResponse {
	return RejectionResponse{ReportID: rec.ReportID, OfficerID: rec.OfficerID, Motivation: rec.Motivation, CreatedAt: rec.CreatedAt}
}
