package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/annostore/internal/checksum"
	"github.com/starford/annostore/internal/docservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *docservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *docservice.Service) *Handler {
	return &Handler{svc: svc}
}

// docRef extracts the document reference from the trailing wildcard.
// Supports encoded slashes from OpenAPI clients (e.g. corpus%2Fdoc1).
func docRef(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

func ifMatch(r *http.Request) string {
	return checksum.FromETag(r.Header.Get("If-Match"))
}

// ListDocuments handles GET /api/documents.
//
//	@Summary		List documents in the data area
//	@Tags			documents
//	@Produce		json
//	@Success		200	{object}	DocumentListResponse
//	@Security		BearerAuth
//	@Router			/documents [get]
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.svc.ListDocuments(r.Context())
	if err != nil {
		writeError(w, "list documents", "", err)
		return
	}
	writeJSON(w, http.StatusOK, DocumentListResponse{Documents: docs})
}

// GetDocument handles GET /api/documents/*.
//
//	@Summary		Get every annotation of a document
//	@Tags			documents
//	@Produce		json
//	@Param			doc	path		string	true	"Document reference"
//	@Success		200	{object}	models.Document
//	@Failure		404	{object}	errResponse
//	@Failure		503	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/documents/{doc} [get]
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc := docRef(r)
	if doc == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("document is required"))
		return
	}
	d, err := h.svc.GetDocument(r.Context(), doc)
	if err != nil {
		writeError(w, "get document", doc, err)
		return
	}
	w.Header().Set("ETag", checksum.ETag(d.Checksum))
	writeJSON(w, http.StatusOK, d)
}

// AddAnnotation handles POST /api/annotations/*.
//
//	@Summary		Add an annotation to a document
//	@Tags			annotations
//	@Accept			json
//	@Produce		json
//	@Param			doc			path		string					true	"Document reference"
//	@Param			If-Match	header		string					false	"Document checksum for optimistic concurrency"
//	@Param			body		body		AddAnnotationRequest	true	"Annotation line, or prefix and rest"
//	@Success		201			{object}	models.Annotation
//	@Failure		400			{object}	errResponse
//	@Failure		403			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Failure		412			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/annotations/{doc} [post]
func (h *Handler) AddAnnotation(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	doc := docRef(r)
	if doc == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("document is required"))
		return
	}
	var req AddAnnotationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	var (
		err    error
		result any
	)
	switch {
	case req.Line != "" && req.Prefix == "":
		result, err = h.svc.AddAnnotation(r.Context(), doc, req.Line, ifMatch(r))
	case req.Line == "" && req.Prefix != "" && req.Rest != "":
		result, err = h.svc.CreateAnnotation(r.Context(), doc, req.Prefix, req.Rest, ifMatch(r))
	default:
		writeJSON(w, http.StatusBadRequest, errorBody("either line or prefix and rest are required"))
		return
	}
	if err != nil {
		writeError(w, "add annotation", doc, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// GetAnnotation handles GET /api/annotation/{id}/*.
//
//	@Summary		Get one annotation by id
//	@Tags			annotations
//	@Produce		json
//	@Param			id	path		string	true	"Annotation id"
//	@Param			doc	path		string	true	"Document reference"
//	@Success		200	{object}	models.Annotation
//	@Failure		400	{object}	errResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/annotation/{id}/{doc} [get]
func (h *Handler) GetAnnotation(w http.ResponseWriter, r *http.Request) {
	doc := docRef(r)
	a, err := h.svc.GetAnnotation(r.Context(), doc, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get annotation", doc, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// DeleteAnnotation handles DELETE /api/annotation/{id}/*.
//
//	@Summary		Delete an annotation and whatever only qualifies it
//	@Tags			annotations
//	@Produce		json
//	@Param			id			path		string	true	"Annotation id"
//	@Param			doc			path		string	true	"Document reference"
//	@Param			If-Match	header		string	false	"Document checksum for optimistic concurrency"
//	@Success		200			{object}	DeleteResponse
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	DependentsResponse
//	@Security		BearerAuth
//	@Router			/annotation/{id}/{doc} [delete]
func (h *Handler) DeleteAnnotation(w http.ResponseWriter, r *http.Request) {
	doc := docRef(r)
	changes, err := h.svc.DeleteAnnotation(r.Context(), doc, chi.URLParam(r, "id"), ifMatch(r))
	if err != nil {
		writeError(w, "delete annotation", doc, err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{Changes: changes})
}

// NewID handles GET /api/new-id/{prefix}/*.
//
//	@Summary		Get the next unused id for a prefix
//	@Tags			annotations
//	@Produce		json
//	@Param			prefix	path		string	true	"Id prefix"	Enums(T, E, M, A, #)
//	@Param			doc		path		string	true	"Document reference"
//	@Success		200		{object}	NewIDResponse
//	@Security		BearerAuth
//	@Router			/new-id/{prefix}/{doc} [get]
func (h *Handler) NewID(w http.ResponseWriter, r *http.Request) {
	doc := docRef(r)
	prefix, err := url.PathUnescape(chi.URLParam(r, "prefix"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid prefix"))
		return
	}
	id, err := h.svc.NewID(r.Context(), doc, prefix)
	if err != nil {
		writeError(w, "new id", doc, err)
		return
	}
	writeJSON(w, http.StatusOK, NewIDResponse{ID: id})
}

// History handles GET /api/history/*.
//
//	@Summary		List journaled changes of a document
//	@Tags			documents
//	@Produce		json
//	@Param			doc		path		string	true	"Document reference"
//	@Param			limit	query		int		false	"Max changes"
//	@Success		200		{object}	HistoryResponse
//	@Security		BearerAuth
//	@Router			/history/{doc} [get]
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	doc := docRef(r)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	changes, err := h.svc.History(r.Context(), doc, limit)
	if err != nil {
		writeError(w, "history", doc, err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Changes: changes})
}
