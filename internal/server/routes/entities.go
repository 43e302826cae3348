package routes

import (
	"errors"
	"net/http"

	"github.com/loreforge/loreforge/backend/internal/server/middleware"
	"github.com/loreforge/loreforge/backend/pkg/common"
	"github.com/loreforge/loreforge/backend/pkg/graph"
	"github.com/loreforge/loreforge/backend/pkg/logger"
	"github.com/loreforge/loreforge/backend/pkg/store"

	"github.com/labstack/echo/v4"
)

// ListEntitiesHandler lists a campaign's entities with optional filters.
func ListEntitiesHandler(c echo.Context) error {
	type listEntitiesParams struct {
		CampaignID     int64  `param:"campaign_id" validate:"required,numeric"`
		EntityType     string `query:"entity_type"`
		ApprovalStatus string `query:"approval_status"`
		IncludeStubs   bool   `query:"include_stubs"`
		Limit          int    `query:"limit"`
		Offset         int    `query:"offset"`
	}

	type listEntitiesResponse struct {
		Message  string          `json:"message"`
		Entities []common.Entity `json:"entities,omitempty"`
	}

	params := new(listEntitiesParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, listEntitiesResponse{Message: "Invalid request"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, listEntitiesResponse{Message: "Invalid request"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	engine := c.(*middleware.AppContext).App.Engine

	entities, err := engine.ListEntities(ctx, params.CampaignID, store.EntityFilter{
		EntityType:     params.EntityType,
		ApprovalStatus: common.ApprovalStatus(params.ApprovalStatus),
		IncludeStubs:   params.IncludeStubs,
		Limit:          params.Limit,
		Offset:         params.Offset,
	})
	if err != nil {
		logger.Error("Failed to list entities", "campaign_id", params.CampaignID, "err", err)
		return c.JSON(http.StatusInternalServerError, listEntitiesResponse{Message: "Internal server error"})
	}

	return c.JSON(http.StatusOK, listEntitiesResponse{
		Message:  "OK",
		Entities: entities,
	})
}

// CreateEntityHandler creates a new entity in staging.
func CreateEntityHandler(c echo.Context) error {
	type createEntityBody struct {
		CampaignID    int64          `param:"campaign_id" validate:"required,numeric"`
		EntityType    string         `json:"entity_type" validate:"required"`
		Name          string         `json:"name" validate:"required"`
		Content       map[string]any `json:"content"`
		Confidence    float64        `json:"confidence"`
		SourceType    string         `json:"source_type"`
		SourceID      string         `json:"source_id"`
		EvaluateDedup bool           `json:"evaluate_dedup"`
	}

	type createEntityResponse struct {
		Message string         `json:"message"`
		Entity  *common.Entity `json:"entity,omitempty"`
	}

	data := new(createEntityBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, createEntityResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, createEntityResponse{Message: "Invalid request body"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	engine := c.(*middleware.AppContext).App.Engine

	entity, err := engine.CreateEntity(ctx, graph.CreateEntityParams{
		CampaignID:    data.CampaignID,
		EntityType:    data.EntityType,
		Name:          data.Name,
		Content:       data.Content,
		Provenance:    common.ProvenanceManual,
		Confidence:    data.Confidence,
		SourceType:    data.SourceType,
		SourceID:      data.SourceID,
		EvaluateDedup: data.EvaluateDedup,
	})
	if err != nil {
		logger.Error("Failed to create entity", "campaign_id", data.CampaignID, "err", err)
		return c.JSON(http.StatusInternalServerError, createEntityResponse{Message: "Internal server error"})
	}

	return c.JSON(http.StatusOK, createEntityResponse{
		Message: "Entity created successfully",
		Entity:  entity,
	})
}

// GetEntityHandler returns one entity with live changelog deltas applied.
func GetEntityHandler(c echo.Context) error {
	type getEntityParams struct {
		CampaignID int64  `param:"campaign_id" validate:"required,numeric"`
		EntityID   string `param:"entity_id" validate:"required"`
	}

	type getEntityResponse struct {
		Message string         `json:"message"`
		Entity  *common.Entity `json:"entity,omitempty"`
	}

	params := new(getEntityParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, getEntityResponse{Message: "Invalid request"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, getEntityResponse{Message: "Invalid request"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	engine := c.(*middleware.AppContext).App.Engine

	entity, err := engine.GetEntity(ctx, params.CampaignID, params.EntityID)
	if err != nil {
		if errors.Is(err, graph.ErrEntityNotFound) {
			return c.JSON(http.StatusNotFound, getEntityResponse{Message: "Entity not found"})
		}
		logger.Error("Failed to get entity", "entity_id", params.EntityID, "err", err)
		return c.JSON(http.StatusInternalServerError, getEntityResponse{Message: "Internal server error"})
	}

	return c.JSON(http.StatusOK, getEntityResponse{
		Message: "OK",
		Entity:  entity,
	})
}

// EditEntityHandler applies a partial update. Content patches merge with
// the stored content; send content_replace to overwrite it wholesale.
func EditEntityHandler(c echo.Context) error {
	type editEntityBody struct {
		CampaignID int64          `param:"campaign_id" validate:"required,numeric"`
		EntityID   string         `param:"entity_id" validate:"required"`
		Fields     map[string]any `json:"fields" validate:"required"`
	}

	type editEntityResponse struct {
		Message string         `json:"message"`
		Entity  *common.Entity `json:"entity,omitempty"`
	}

	data := new(editEntityBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, editEntityResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, editEntityResponse{Message: "Invalid request body"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	engine := c.(*middleware.AppContext).App.Engine

	entity, err := engine.UpdateEntity(ctx, data.CampaignID, data.EntityID, data.Fields)
	if err != nil {
		if errors.Is(err, graph.ErrEntityNotFound) {
			return c.JSON(http.StatusNotFound, editEntityResponse{Message: "Entity not found"})
		}
		logger.Error("Failed to update entity", "entity_id", data.EntityID, "err", err)
		return c.JSON(http.StatusBadRequest, editEntityResponse{Message: "Invalid update"})
	}

	return c.JSON(http.StatusOK, editEntityResponse{
		Message: "Entity updated successfully",
		Entity:  entity,
	})
}

// DeleteEntityHandler removes an entity and every edge touching it.
func DeleteEntityHandler(c echo.Context) error {
	type deleteEntityParams struct {
		CampaignID int64  `param:"campaign_id" validate:"required,numeric"`
		EntityID   string `param:"entity_id" validate:"required"`
	}

	params := new(deleteEntityParams)
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

	if err := engine.DeleteEntity(ctx, params.CampaignID, params.EntityID); err != nil {
		if errors.Is(err, graph.ErrEntityNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Entity not found"})
		}
		logger.Error("Failed to delete entity", "entity_id", params.EntityID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	return c.JSON(http.StatusOK, map[string]string{"message": "Entity deleted successfully"})
}

// SetApprovalStatusHandler transitions an entity's approval status.
func SetApprovalStatusHandler(c echo.Context) error {
	type approvalBody struct {
		CampaignID int64  `param:"campaign_id" validate:"required,numeric"`
		EntityID   string `param:"entity_id" validate:"required"`
		Status     string `json:"status" validate:"required,oneof=approved staging rejected deleted"`
	}

	type approvalResponse struct {
		Message string         `json:"message"`
		Entity  *common.Entity `json:"entity,omitempty"`
	}

	data := new(approvalBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, approvalResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, approvalResponse{Message: "Invalid request body"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	engine := c.(*middleware.AppContext).App.Engine

	entity, err := engine.SetApprovalStatus(ctx, data.CampaignID, data.EntityID, common.ApprovalStatus(data.Status))
	if err != nil {
		if errors.Is(err, graph.ErrEntityNotFound) {
			return c.JSON(http.StatusNotFound, approvalResponse{Message: "Entity not found"})
		}
		logger.Error("Failed to set approval status", "entity_id", data.EntityID, "err", err)
		return c.JSON(http.StatusInternalServerError, approvalResponse{Message: "Internal server error"})
	}

	return c.JSON(http.StatusOK, approvalResponse{
		Message: "Approval status updated",
		Entity:  entity,
	})
}

// SearchEntitiesHandler searches entities by name or content. With
// semantic=true the query is embedded and matched by vector similarity.
func SearchEntitiesHandler(c echo.Context) error {
	type searchParams struct {
		CampaignID int64   `param:"campaign_id" validate:"required,numeric"`
		Query      string  `query:"q" validate:"required"`
		Semantic   bool    `query:"semantic"`
		Limit      int     `query:"limit"`
		MinScore   float64 `query:"min_score"`
	}

	type searchResponse struct {
		Message  string              `json:"message"`
		Entities []common.Entity     `json:"entities,omitempty"`
		Matches  []store.EntityMatch `json:"matches,omitempty"`
	}

	params := new(searchParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, searchResponse{Message: "Invalid request"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, searchResponse{Message: "Invalid request"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	engine := c.(*middleware.AppContext).App.Engine

	if params.Semantic {
		matches, err := engine.SearchEntitiesSemantic(ctx, params.CampaignID, params.Query, params.Limit, params.MinScore)
		if err != nil {
			logger.Error("Failed to search entities", "campaign_id", params.CampaignID, "err", err)
			return c.JSON(http.StatusInternalServerError, searchResponse{Message: "Internal server error"})
		}
		return c.JSON(http.StatusOK, searchResponse{
			Message: "OK",
			Matches: matches,
		})
	}

	entities, err := engine.SearchEntities(ctx, params.CampaignID, params.Query, params.Limit)
	if err != nil {
		logger.Error("Failed to search entities", "campaign_id", params.CampaignID, "err", err)
		return c.JSON(http.StatusInternalServerError, searchResponse{Message: "Internal server error"})
	}

	return c.JSON(http.StatusOK, searchResponse{
		Message:  "OK",
		Entities: entities,
	})
}

// EntityContextHandler assembles the full presentation context for one
// entity: record, relationships, communities, summaries and importance.
func EntityContextHandler(c echo.Context) error {
	type contextParams struct {
		CampaignID int64  `param:"campaign_id" validate:"required,numeric"`
		EntityID   string `param:"entity_id" validate:"required"`
	}

	type contextResponse struct {
		Message string               `json:"message"`
		Context *graph.EntityContext `json:"context,omitempty"`
	}

	params := new(contextParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, contextResponse{Message: "Invalid request"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, contextResponse{Message: "Invalid request"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	engine := c.(*middleware.AppContext).App.Engine

	entityContext, err := engine.AssembleEntityContext(ctx, params.CampaignID, params.EntityID)
	if err != nil {
		if errors.Is(err, graph.ErrEntityNotFound) {
			return c.JSON(http.StatusNotFound, contextResponse{Message: "Entity not found"})
		}
		logger.Error("Failed to assemble entity context", "entity_id", params.EntityID, "err", err)
		return c.JSON(http.StatusInternalServerError, contextResponse{Message: "Internal server error"})
	}

	return c.JSON(http.StatusOK, contextResponse{
		Message: "OK",
		Context: entityContext,
	})
}
