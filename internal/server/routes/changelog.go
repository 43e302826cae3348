package routes

import (
	"net/http"
	"time"

	"github.com/loreforge/loreforge/backend/internal/server/middleware"
	"github.com/loreforge/loreforge/backend/internal/storage"
	"github.com/loreforge/loreforge/backend/internal/util"
	"github.com/loreforge/loreforge/backend/pkg/common"
	"github.com/loreforge/loreforge/backend/pkg/graph"
	"github.com/loreforge/loreforge/backend/pkg/logger"
	"github.com/loreforge/loreforge/backend/pkg/store"

	"github.com/labstack/echo/v4"
)

// RecordDeltaHandler appends one session delta to the changelog. The base
// graph is untouched; the delta shows through the overlay until the next
// rebuild folds it in.
func RecordDeltaHandler(c echo.Context) error {
	type recordBody struct {
		CampaignID  int64                   `param:"campaign_id" validate:"required,numeric"`
		SessionID   *int64                  `json:"session_id"`
		Payload     common.ChangelogPayload `json:"payload" validate:"required"`
		ImpactScore float64                 `json:"impact_score"`
		Timestamp   time.Time               `json:"timestamp"`
	}

	type recordResponse struct {
		Message string                 `json:"message"`
		Entry   *common.ChangelogEntry `json:"entry,omitempty"`
	}

	data := new(recordBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, recordResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, recordResponse{Message: "Invalid request body"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	engine := c.(*middleware.AppContext).App.Engine

	entry, err := engine.RecordDelta(ctx, graph.RecordDeltaParams{
		CampaignID:  data.CampaignID,
		SessionID:   data.SessionID,
		Payload:     data.Payload,
		ImpactScore: data.ImpactScore,
		Timestamp:   data.Timestamp,
	})
	if err != nil {
		logger.Error("Failed to record changelog delta", "campaign_id", data.CampaignID, "err", err)
		return c.JSON(http.StatusBadRequest, recordResponse{Message: "Invalid changelog payload"})
	}

	return c.JSON(http.StatusOK, recordResponse{
		Message: "Delta recorded successfully",
		Entry:   entry,
	})
}

// ListChangelogHandler lists the campaign's live changelog entries in
// fold order.
func ListChangelogHandler(c echo.Context) error {
	type listParams struct {
		CampaignID    int64  `param:"campaign_id" validate:"required,numeric"`
		SessionID     *int64 `query:"session_id"`
		UnappliedOnly bool   `query:"unapplied"`
		Limit         int    `query:"limit"`
	}

	type listResponse struct {
		Message string                  `json:"message"`
		Entries []common.ChangelogEntry `json:"entries,omitempty"`
	}

	params := new(listParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, listResponse{Message: "Invalid request"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, listResponse{Message: "Invalid request"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	engine := c.(*middleware.AppContext).App.Engine

	entries, err := engine.ListChangelog(ctx, params.CampaignID, params.SessionID, params.UnappliedOnly, params.Limit)
	if err != nil {
		logger.Error("Failed to list changelog", "campaign_id", params.CampaignID, "err", err)
		return c.JSON(http.StatusInternalServerError, listResponse{Message: "Internal server error"})
	}

	return c.JSON(http.StatusOK, listResponse{
		Message: "OK",
		Entries: entries,
	})
}

// ListArchivesHandler lists archive metadata, optionally restricted to a
// session or timestamp range.
func ListArchivesHandler(c echo.Context) error {
	type listParams struct {
		CampaignID   int64      `param:"campaign_id" validate:"required,numeric"`
		SessionMin   *int64     `query:"session_min"`
		SessionMax   *int64     `query:"session_max"`
		TimestampMin *time.Time `query:"timestamp_min"`
		TimestampMax *time.Time `query:"timestamp_max"`
	}

	type listResponse struct {
		Message  string                   `json:"message"`
		Archives []common.ArchiveMetadata `json:"archives,omitempty"`
	}

	params := new(listParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, listResponse{Message: "Invalid request"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, listResponse{Message: "Invalid request"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	engine := c.(*middleware.AppContext).App.Engine

	archives, err := engine.ListArchives(ctx, params.CampaignID, store.ArchiveFilter{
		SessionMin:   params.SessionMin,
		SessionMax:   params.SessionMax,
		TimestampMin: params.TimestampMin,
		TimestampMax: params.TimestampMax,
	})
	if err != nil {
		logger.Error("Failed to list archives", "campaign_id", params.CampaignID, "err", err)
		return c.JSON(http.StatusInternalServerError, listResponse{Message: "Internal server error"})
	}

	return c.JSON(http.StatusOK, listResponse{
		Message:  "OK",
		Archives: archives,
	})
}

// ReadArchiveHandler fetches an archived changelog segment back from blob
// storage, verified against its metadata.
func ReadArchiveHandler(c echo.Context) error {
	type readParams struct {
		CampaignID int64  `param:"campaign_id" validate:"required,numeric"`
		ArchiveKey string `query:"key" validate:"required"`
	}

	type readResponse struct {
		Message string                  `json:"message"`
		Entries []common.ChangelogEntry `json:"entries,omitempty"`
	}

	params := new(readParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, readResponse{Message: "Invalid request"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, readResponse{Message: "Invalid request"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	engine := c.(*middleware.AppContext).App.Engine

	entries, err := engine.ReadArchive(ctx, params.CampaignID, params.ArchiveKey)
	if err != nil {
		logger.Error("Failed to read archive", "archive_key", params.ArchiveKey, "err", err)
		return c.JSON(http.StatusNotFound, readResponse{Message: "Archive not found"})
	}

	return c.JSON(http.StatusOK, readResponse{
		Message: "OK",
		Entries: entries,
	})
}

// ArchiveDownloadLinkHandler presigns a direct download URL for one
// archive blob.
func ArchiveDownloadLinkHandler(c echo.Context) error {
	type linkParams struct {
		CampaignID int64  `param:"campaign_id" validate:"required,numeric"`
		ArchiveKey string `query:"key" validate:"required"`
	}

	type linkResponse struct {
		Message string `json:"message"`
		URL     string `json:"url,omitempty"`
	}

	params := new(linkParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, linkResponse{Message: "Invalid request"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, linkResponse{Message: "Invalid request"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	app := c.(*middleware.AppContext).App

	// Confirm the archive belongs to this campaign before signing.
	archives, err := app.Engine.ListArchives(ctx, params.CampaignID, store.ArchiveFilter{})
	if err != nil {
		logger.Error("Failed to verify archive access", "campaign_id", params.CampaignID, "err", err)
		return c.JSON(http.StatusInternalServerError, linkResponse{Message: "Internal server error"})
	}
	found := false
	for _, a := range archives {
		if a.ArchiveKey == params.ArchiveKey {
			found = true
			break
		}
	}
	if !found {
		return c.JSON(http.StatusNotFound, linkResponse{Message: "Archive not found"})
	}

	bucket := util.GetEnv("AWS_ARCHIVE_BUCKET")
	url, err := storage.GenerateDownloadLink(ctx, app.S3, bucket, params.ArchiveKey)
	if err != nil {
		logger.Error("Failed to generate download link", "archive_key", params.ArchiveKey, "err", err)
		return c.JSON(http.StatusInternalServerError, linkResponse{Message: "Internal server error"})
	}

	return c.JSON(http.StatusOK, linkResponse{
		Message: "OK",
		URL:     url,
	})
}
