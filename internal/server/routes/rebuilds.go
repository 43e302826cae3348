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

// TriggerRebuildHandler requests a graph rebuild. When the campaign
// already has an active rebuild the existing job is returned instead of
// creating a second one.
func TriggerRebuildHandler(c echo.Context) error {
	type triggerBody struct {
		CampaignID        int64    `param:"campaign_id" validate:"required,numeric"`
		Type              string   `json:"type" validate:"omitempty,oneof=full partial"`
		AffectedEntityIDs []string `json:"affected_entity_ids"`
	}

	type triggerResponse struct {
		Message string          `json:"message"`
		Rebuild *common.Rebuild `json:"rebuild,omitempty"`
		Created bool            `json:"created"`
	}

	data := new(triggerBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, triggerResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, triggerResponse{Message: "Invalid request body"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	rebuildType := common.RebuildType(data.Type)
	if rebuildType == "" {
		rebuildType = common.RebuildFull
	}

	ctx := c.Request().Context()
	engine := c.(*middleware.AppContext).App.Engine

	rebuild, created, err := engine.TriggerRebuild(ctx, data.CampaignID, rebuildType, data.AffectedEntityIDs)
	if err != nil {
		logger.Error("Failed to trigger rebuild", "campaign_id", data.CampaignID, "err", err)
		return c.JSON(http.StatusInternalServerError, triggerResponse{Message: "Internal server error"})
	}

	status := http.StatusAccepted
	message := "Rebuild triggered"
	if !created {
		status = http.StatusOK
		message = "Rebuild already active"
	}
	return c.JSON(status, triggerResponse{
		Message: message,
		Rebuild: rebuild,
		Created: created,
	})
}

// GetRebuildHandler returns one rebuild job record.
func GetRebuildHandler(c echo.Context) error {
	type getParams struct {
		CampaignID int64  `param:"campaign_id" validate:"required,numeric"`
		RebuildID  string `param:"rebuild_id" validate:"required"`
	}

	type getResponse struct {
		Message string          `json:"message"`
		Rebuild *common.Rebuild `json:"rebuild,omitempty"`
	}

	params := new(getParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, getResponse{Message: "Invalid request"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, getResponse{Message: "Invalid request"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	engine := c.(*middleware.AppContext).App.Engine

	rebuild, err := engine.GetRebuild(ctx, params.RebuildID)
	if err != nil {
		return c.JSON(http.StatusNotFound, getResponse{Message: "Rebuild not found"})
	}
	if rebuild.CampaignID != params.CampaignID {
		return c.JSON(http.StatusNotFound, getResponse{Message: "Rebuild not found"})
	}

	return c.JSON(http.StatusOK, getResponse{
		Message: "OK",
		Rebuild: rebuild,
	})
}

// ActiveRebuildHandler returns the campaign's pending or in-progress
// rebuild, if any.
func ActiveRebuildHandler(c echo.Context) error {
	type activeParams struct {
		CampaignID int64 `param:"campaign_id" validate:"required,numeric"`
	}

	type activeResponse struct {
		Message string          `json:"message"`
		Rebuild *common.Rebuild `json:"rebuild,omitempty"`
	}

	params := new(activeParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, activeResponse{Message: "Invalid request"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, activeResponse{Message: "Invalid request"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	engine := c.(*middleware.AppContext).App.Engine

	rebuild, err := engine.GetActiveRebuild(ctx, params.CampaignID)
	if err != nil {
		logger.Error("Failed to get active rebuild", "campaign_id", params.CampaignID, "err", err)
		return c.JSON(http.StatusInternalServerError, activeResponse{Message: "Internal server error"})
	}

	if rebuild == nil {
		return c.JSON(http.StatusOK, activeResponse{Message: "No active rebuild"})
	}
	return c.JSON(http.StatusOK, activeResponse{
		Message: "OK",
		Rebuild: rebuild,
	})
}

// ListRebuildsHandler returns a campaign's rebuild history, newest first.
func ListRebuildsHandler(c echo.Context) error {
	type listParams struct {
		CampaignID int64 `param:"campaign_id" validate:"required,numeric"`
		Limit      int   `query:"limit"`
		Offset     int   `query:"offset"`
	}

	type listResponse struct {
		Message  string           `json:"message"`
		Rebuilds []common.Rebuild `json:"rebuilds,omitempty"`
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

	rebuilds, err := engine.ListRebuilds(ctx, params.CampaignID, params.Limit, params.Offset)
	if err != nil {
		logger.Error("Failed to list rebuilds", "campaign_id", params.CampaignID, "err", err)
		return c.JSON(http.StatusInternalServerError, listResponse{Message: "Internal server error"})
	}

	return c.JSON(http.StatusOK, listResponse{
		Message:  "OK",
		Rebuilds: rebuilds,
	})
}

// CancelRebuildHandler requests cancellation of a pending or in-progress
// rebuild. An in-progress one stops at its next phase boundary.
func CancelRebuildHandler(c echo.Context) error {
	type cancelParams struct {
		CampaignID int64  `param:"campaign_id" validate:"required,numeric"`
		RebuildID  string `param:"rebuild_id" validate:"required"`
	}

	params := new(cancelParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	engine := c.(*middleware.AppContext).App.Engine

	if err := engine.CancelRebuild(ctx, params.RebuildID); err != nil {
		if errors.Is(err, graph.ErrRebuildTerminal) {
			return c.JSON(http.StatusConflict, map[string]string{"error": "Rebuild is already in a terminal state"})
		}
		logger.Error("Failed to cancel rebuild", "rebuild_id", params.RebuildID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	return c.JSON(http.StatusOK, map[string]string{"message": "Rebuild cancelled"})
}
