package api

import "github.com/starford/annostore/internal/models"

// AddAnnotationRequest is the request body for adding an annotation. Either
// Line is a complete annotation line, or Prefix and Rest describe one whose
// id is allocated by the server.
type AddAnnotationRequest struct {
	Line   string `json:"line,omitempty" example:"T3\tProtein 20 24\tBRCA"`
	Prefix string `json:"prefix,omitempty" example:"T"`
	Rest   string `json:"rest,omitempty" example:"Protein 20 24\tBRCA"`
}

// DocumentListResponse wraps document listings.
type DocumentListResponse struct {
	Documents []models.DocumentMetadata `json:"documents" validate:"required"`
}

// DeleteResponse lists every change a deletion made.
type DeleteResponse struct {
	Changes []models.Change `json:"changes" validate:"required"`
}

// NewIDResponse carries a fresh, unreserved id.
type NewIDResponse struct {
	ID string `json:"id" example:"T4" validate:"required"`
}

// HistoryResponse wraps journaled changes, newest first.
type HistoryResponse struct {
	Changes []models.Change `json:"changes" validate:"required"`
}

// DependentsResponse is returned when a deletion is blocked.
type DependentsResponse struct {
	Error      string   `json:"error" validate:"required"`
	Code       string   `json:"code" example:"depending"`
	Target     string   `json:"target" example:"T1"`
	Dependents []string `json:"dependents" example:"E1"`
}
