package routes

import (
	"errors"
	"net/http"

	"github.com/loreforge/loreforge/backend/internal/server/middleware"
	"github.com/loreforge/loreforge/backend/pkg/common"
	"github.com/loreforge/loreforge/backend/pkg/graph"
	"github.com/loreforge/loreforge/backend/pkg/logger"

	"github.com/labstack/echo/v4"
)

// ListDedupEntriesHandler lists a campaign's deduplication entries,
// pending ones by default.
func ListDedupEntriesHandler(c echo.Context) error {
	type listParams struct {
		CampaignID int64  `param:"campaign_id" validate:"required,numeric"`
		Status     string `query:"status" validate:"omitempty,oneof=pending merged rejected confirmed_unique"`
	}

	type listResponse struct {
		Message string                      `json:"message"`
		Entries []common.DeduplicationEntry `json:"entries,omitempty"`
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

	entries, err := engine.ListDedupEntries(ctx, params.CampaignID, common.DedupStatus(params.Status))
	if err != nil {
		logger.Error("Failed to list dedup entries", "campaign_id", params.CampaignID, "err", err)
		return c.JSON(http.StatusInternalServerError, listResponse{Message: "Internal server error"})
	}

	return c.JSON(http.StatusOK, listResponse{
		Message: "OK",
		Entries: entries,
	})
}

// EvaluateEntityDedupHandler runs the duplicate check for one entity and
// returns the pending entry when candidates clear the threshold.
func EvaluateEntityDedupHandler(c echo.Context) error {
	type evaluateParams struct {
		CampaignID int64  `param:"campaign_id" validate:"required,numeric"`
		EntityID   string `param:"entity_id" validate:"required"`
	}

	type evaluateResponse struct {
		Message string                     `json:"message"`
		Entry   *common.DeduplicationEntry `json:"entry,omitempty"`
	}

	params := new(evaluateParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, evaluateResponse{Message: "Invalid request"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, evaluateResponse{Message: "Invalid request"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	engine := c.(*middleware.AppContext).App.Engine

	entity, err := engine.GetBaseEntity(ctx, params.CampaignID, params.EntityID)
	if err != nil {
		if errors.Is(err, graph.ErrEntityNotFound) {
			return c.JSON(http.StatusNotFound, evaluateResponse{Message: "Entity not found"})
		}
		logger.Error("Failed to load entity for dedup", "entity_id", params.EntityID, "err", err)
		return c.JSON(http.StatusInternalServerError, evaluateResponse{Message: "Internal server error"})
	}

	entry, err := engine.EvaluateEntity(ctx, params.CampaignID, entity.ID, entity.EntityType)
	if err != nil {
		logger.Error("Failed to evaluate entity for duplicates", "entity_id", params.EntityID, "err", err)
		return c.JSON(http.StatusInternalServerError, evaluateResponse{Message: "Internal server error"})
	}

	if entry == nil {
		return c.JSON(http.StatusOK, evaluateResponse{Message: "No duplicate candidates found"})
	}
	return c.JSON(http.StatusOK, evaluateResponse{
		Message: "Duplicate candidates found",
		Entry:   entry,
	})
}

// ResolveDedupEntryHandler resolves a pending entry exactly once. A
// merged resolution folds the new entity into the chosen candidate.
func ResolveDedupEntryHandler(c echo.Context) error {
	type resolveBody struct {
		CampaignID   int64  `param:"campaign_id" validate:"required,numeric"`
		EntryID      int64  `param:"entry_id" validate:"required,numeric"`
		Status       string `json:"status" validate:"required,oneof=merged rejected confirmed_unique"`
		UserDecision string `json:"user_decision"`
	}

	type resolveResponse struct {
		Message string                     `json:"message"`
		Entry   *common.DeduplicationEntry `json:"entry,omitempty"`
	}

	data := new(resolveBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, resolveResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, resolveResponse{Message: "Invalid request body"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	engine := c.(*middleware.AppContext).App.Engine

	entry, err := engine.ResolvePendingEntry(ctx, data.CampaignID, data.EntryID, common.DedupStatus(data.Status), data.UserDecision)
	if err != nil {
		if errors.Is(err, graph.ErrDedupResolved) {
			return c.JSON(http.StatusConflict, resolveResponse{Message: "Entry is already resolved"})
		}
		logger.Error("Failed to resolve dedup entry", "entry_id", data.EntryID, "err", err)
		return c.JSON(http.StatusInternalServerError, resolveResponse{Message: "Internal server error"})
	}

	return c.JSON(http.StatusOK, resolveResponse{
		Message: "Entry resolved successfully",
		Entry:   entry,
	})
}
