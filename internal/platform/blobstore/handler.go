package blobstore

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hospital/hms/internal/platform/auth"
)

// BlobHandler provides Echo HTTP handlers for document operations.
type BlobHandler struct {
	store     BlobStore
	urlPrefix string
	logger    zerolog.Logger
}

// NewBlobHandler creates a new BlobHandler. urlPrefix is prepended to blob
// IDs to build the URL returned on upload, which clients store on records as
// documentUrl or imageUrls.
func NewBlobHandler(store BlobStore, urlPrefix string, logger zerolog.Logger) *BlobHandler {
	if urlPrefix == "" {
		urlPrefix = "/api/v1/documents/"
	}
	return &BlobHandler{store: store, urlPrefix: urlPrefix, logger: logger}
}

// RegisterRoutes mounts document routes on the supplied Echo group.
func (h *BlobHandler) RegisterRoutes(g *echo.Group) {
	docs := g.Group("/documents", auth.RequireRole(auth.RoleDoctor, auth.RolePatient))
	docs.POST("", h.handleUpload)
	docs.GET("/:id", h.handleDownload)
	docs.GET("/:id/metadata", h.handleGetMetadata)
	docs.DELETE("/:id", h.handleDelete)
}

func (h *BlobHandler) handleUpload(c echo.Context) error {
	ctx := c.Request().Context()
	userID := auth.UserIDFromContext(ctx)

	patientID := c.FormValue("patient_id")
	if auth.HasRole(ctx, auth.RolePatient) && !auth.HasRole(ctx, auth.RoleDoctor) && !auth.HasRole(ctx, auth.RoleAdmin) {
		if patientID == "" {
			patientID = userID
		}
		if patientID != userID {
			return echo.NewHTTPError(http.StatusForbidden, "patients may only upload their own documents")
		}
	}
	if _, err := uuid.Parse(patientID); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id must be a valid UUID")
	}

	file, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	src, err := file.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to open uploaded file")
	}
	defer src.Close()

	meta := BlobMetadata{
		FileName:    file.Filename,
		ContentType: file.Header.Get("Content-Type"),
		PatientID:   patientID,
		Category:    c.FormValue("category"),
		CreatedBy:   userID,
	}

	result, err := h.store.Upload(ctx, meta, src)
	if err != nil {
		return mapError(err)
	}
	result.URL = h.urlPrefix + result.ID

	h.logger.Info().
		Str("blob_id", result.ID).
		Str("patient_id", result.PatientID).
		Str("user_id", userID).
		Int64("size", result.Size).
		Msg("document uploaded")

	return c.JSON(http.StatusCreated, result)
}

func (h *BlobHandler) handleDownload(c echo.Context) error {
	ctx := c.Request().Context()

	rc, meta, err := h.store.Download(ctx, c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	defer rc.Close()

	if !canRead(c, meta) {
		return echo.NewHTTPError(http.StatusNotFound, ErrBlobNotFound.Error())
	}

	c.Response().Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, meta.FileName))
	return c.Stream(http.StatusOK, meta.ContentType, rc)
}

func (h *BlobHandler) handleGetMetadata(c echo.Context) error {
	meta, err := h.store.GetMetadata(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	if !canRead(c, meta) {
		return echo.NewHTTPError(http.StatusNotFound, ErrBlobNotFound.Error())
	}
	meta.URL = h.urlPrefix + meta.ID
	return c.JSON(http.StatusOK, meta)
}

func (h *BlobHandler) handleDelete(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	meta, err := h.store.GetMetadata(ctx, id)
	if err != nil {
		return mapError(err)
	}
	if meta.CreatedBy != auth.UserIDFromContext(ctx) && !auth.HasRole(ctx, auth.RoleAdmin) {
		return echo.NewHTTPError(http.StatusForbidden, "only the uploader may delete a document")
	}
	if err := h.store.Delete(ctx, id); err != nil {
		return mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// canRead allows the uploader, the patient the document belongs to, and
// admins. Everyone else gets a 404 so document IDs cannot be probed.
func canRead(c echo.Context, meta *BlobMetadata) bool {
	ctx := c.Request().Context()
	uid := auth.UserIDFromContext(ctx)
	return uid == meta.CreatedBy || uid == meta.PatientID || auth.HasRole(ctx, auth.RoleAdmin)
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ErrBlobNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrFileTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, ErrMissingFileName), errors.Is(err, ErrInvalidCategory):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInvalidContentType):
		return echo.NewHTTPError(http.StatusUnsupportedMediaType, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "document storage failed")
	}
}
