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

// GetImportanceHandler returns an entity's importance record, computing
// it on demand when recalculate=true or no cached score exists.
func GetImportanceHandler(c echo.Context) error {
	type importanceParams struct {
		CampaignID  int64  `param:"campaign_id" validate:"required,numeric"`
		EntityID    string `param:"entity_id" validate:"required"`
		Recalculate bool   `query:"recalculate"`
	}

	type importanceResponse struct {
		Message    string                   `json:"message"`
		Importance *common.EntityImportance `json:"importance,omitempty"`
	}

	params := new(importanceParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, importanceResponse{Message: "Invalid request"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, importanceResponse{Message: "Invalid request"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	engine := c.(*middleware.AppContext).App.Engine

	importance, err := engine.CalculateCombinedImportance(ctx, params.CampaignID, params.EntityID, params.Recalculate)
	if err != nil {
		if errors.Is(err, graph.ErrEntityNotFound) {
			return c.JSON(http.StatusNotFound, importanceResponse{Message: "Entity not found"})
		}
		logger.Error("Failed to calculate importance", "entity_id", params.EntityID, "err", err)
		return c.JSON(http.StatusInternalServerError, importanceResponse{Message: "Internal server error"})
	}

	return c.JSON(http.StatusOK, importanceResponse{
		Message:    "OK",
		Importance: importance,
	})
}

// TopImportanceHandler returns the campaign's highest-scoring entities.
func TopImportanceHandler(c echo.Context) error {
	type topParams struct {
		CampaignID int64   `param:"campaign_id" validate:"required,numeric"`
		MinScore   float64 `query:"min_score"`
		Limit      int     `query:"limit"`
		Offset     int     `query:"offset"`
	}

	type topResponse struct {
		Message string                    `json:"message"`
		Scores  []common.EntityImportance `json:"scores,omitempty"`
	}

	params := new(topParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, topResponse{Message: "Invalid request"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, topResponse{Message: "Invalid request"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	engine := c.(*middleware.AppContext).App.Engine

	scores, err := engine.TopImportance(ctx, params.CampaignID, params.MinScore, params.Limit, params.Offset)
	if err != nil {
		logger.Error("Failed to list top importance", "campaign_id", params.CampaignID, "err", err)
		return c.JSON(http.StatusInternalServerError, topResponse{Message: "Internal server error"})
	}

	return c.JSON(http.StatusOK, topResponse{
		Message: "OK",
		Scores:  scores,
	})
}

// SetImportanceOverrideHandler pins an entity's displayed importance to a
// band (high, medium, low); an empty override restores the computed score.
func SetImportanceOverrideHandler(c echo.Context) error {
	type overrideBody struct {
		CampaignID int64  `param:"campaign_id" validate:"required,numeric"`
		EntityID   string `param:"entity_id" validate:"required"`
		Override   string `json:"override" validate:"omitempty,oneof=high medium low"`
	}

	type overrideResponse struct {
		Message string         `json:"message"`
		Entity  *common.Entity `json:"entity,omitempty"`
	}

	data := new(overrideBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, overrideResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, overrideResponse{Message: "Invalid request body"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	engine := c.(*middleware.AppContext).App.Engine

	entity, err := engine.UpdateEntity(ctx, data.CampaignID, data.EntityID, map[string]any{
		"importance_override": data.Override,
	})
	if err != nil {
		if errors.Is(err, graph.ErrEntityNotFound) {
			return c.JSON(http.StatusNotFound, overrideResponse{Message: "Entity not found"})
		}
		logger.Error("Failed to set importance override", "entity_id", data.EntityID, "err", err)
		return c.JSON(http.StatusInternalServerError, overrideResponse{Message: "Internal server error"})
	}

	return c.JSON(http.StatusOK, overrideResponse{
		Message: "Importance override updated",
		Entity:  entity,
	})
}

// RecomputeImportanceHandler recomputes importance for the whole campaign
// graph, or only the listed entities when entity_ids is given.
func RecomputeImportanceHandler(c echo.Context) error {
	type recomputeBody struct {
		CampaignID int64    `param:"campaign_id" validate:"required,numeric"`
		EntityIDs  []string `json:"entity_ids"`
	}

	data := new(recomputeBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	engine := c.(*middleware.AppContext).App.Engine

	if err := engine.RecomputeImportance(ctx, data.CampaignID, data.EntityIDs); err != nil {
		logger.Error("Failed to recompute importance", "campaign_id", data.CampaignID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	return c.JSON(http.StatusOK, map[string]string{"message": "Importance recomputed"})
}
