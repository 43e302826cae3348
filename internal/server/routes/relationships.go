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

// UpsertRelationshipHandler asserts a directed, typed edge. Re-asserting
// an existing (from, to, type) triple refreshes it instead of duplicating.
func UpsertRelationshipHandler(c echo.Context) error {
	type upsertBody struct {
		CampaignID       int64          `param:"campaign_id" validate:"required,numeric"`
		FromEntityID     string         `json:"from_entity_id" validate:"required"`
		ToEntityID       string         `json:"to_entity_id" validate:"required"`
		RelationshipType string         `json:"relationship_type" validate:"required"`
		Strength         *float64       `json:"strength"`
		Metadata         map[string]any `json:"metadata"`
	}

	type upsertResponse struct {
		Message      string               `json:"message"`
		Relationship *common.Relationship `json:"relationship,omitempty"`
	}

	data := new(upsertBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, upsertResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, upsertResponse{Message: "Invalid request body"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	engine := c.(*middleware.AppContext).App.Engine

	rel, err := engine.UpsertEdge(ctx, graph.UpsertEdgeParams{
		CampaignID:       data.CampaignID,
		FromEntityID:     data.FromEntityID,
		ToEntityID:       data.ToEntityID,
		RelationshipType: data.RelationshipType,
		Strength:         data.Strength,
		Metadata:         data.Metadata,
	})
	if err != nil {
		var selfErr *graph.SelfReferentialRelationshipError
		if errors.As(err, &selfErr) {
			return c.JSON(http.StatusBadRequest, upsertResponse{Message: "Self-referential relationships are not allowed"})
		}
		var notFound *graph.EntityNotFoundError
		if errors.As(err, &notFound) {
			return c.JSON(http.StatusNotFound, upsertResponse{Message: "Entity not found: " + notFound.EntityID})
		}
		logger.Error("Failed to upsert relationship", "campaign_id", data.CampaignID, "err", err)
		return c.JSON(http.StatusInternalServerError, upsertResponse{Message: "Internal server error"})
	}

	return c.JSON(http.StatusOK, upsertResponse{
		Message:      "Relationship upserted successfully",
		Relationship: rel,
	})
}

// DeleteRelationshipHandler deletes one edge by id, or by its composite
// key when from/to/type query parameters are given instead.
func DeleteRelationshipHandler(c echo.Context) error {
	type deleteParams struct {
		CampaignID       int64  `param:"campaign_id" validate:"required,numeric"`
		RelationshipID   string `query:"id"`
		FromEntityID     string `query:"from"`
		ToEntityID       string `query:"to"`
		RelationshipType string `query:"type"`
	}

	params := new(deleteParams)
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

	var err error
	switch {
	case params.RelationshipID != "":
		err = engine.RemoveEdgeByID(ctx, params.CampaignID, params.RelationshipID)
	case params.FromEntityID != "" && params.ToEntityID != "" && params.RelationshipType != "":
		err = engine.RemoveEdgeByKey(ctx, params.CampaignID, params.FromEntityID, params.ToEntityID, params.RelationshipType)
	default:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Provide id or from, to and type"})
	}
	if err != nil {
		logger.Error("Failed to delete relationship", "campaign_id", params.CampaignID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	return c.JSON(http.StatusOK, map[string]string{"message": "Relationship deleted successfully"})
}

// EntityRelationshipsHandler lists every edge touching an entity, in
// either direction, optionally filtered by type.
func EntityRelationshipsHandler(c echo.Context) error {
	type relsParams struct {
		CampaignID int64  `param:"campaign_id" validate:"required,numeric"`
		EntityID   string `param:"entity_id" validate:"required"`
		Type       string `query:"type"`
	}

	type relsResponse struct {
		Message       string                `json:"message"`
		Relationships []common.Relationship `json:"relationships,omitempty"`
	}

	params := new(relsParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, relsResponse{Message: "Invalid request"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, relsResponse{Message: "Invalid request"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	engine := c.(*middleware.AppContext).App.Engine

	rels, err := engine.RelationshipsOf(ctx, params.CampaignID, params.EntityID, params.Type)
	if err != nil {
		logger.Error("Failed to list relationships", "entity_id", params.EntityID, "err", err)
		return c.JSON(http.StatusInternalServerError, relsResponse{Message: "Internal server error"})
	}

	return c.JSON(http.StatusOK, relsResponse{
		Message:       "OK",
		Relationships: rels,
	})
}

// NeighborhoodHandler expands breadth-first from an entity along forward
// edges, bounded by depth.
func NeighborhoodHandler(c echo.Context) error {
	type neighborhoodParams struct {
		CampaignID int64  `param:"campaign_id" validate:"required,numeric"`
		EntityID   string `param:"entity_id" validate:"required"`
		Depth      int    `query:"depth"`
		Type       string `query:"type"`
	}

	type neighborhoodResponse struct {
		Message   string           `json:"message"`
		Neighbors []graph.Neighbor `json:"neighbors,omitempty"`
	}

	params := new(neighborhoodParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, neighborhoodResponse{Message: "Invalid request"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, neighborhoodResponse{Message: "Invalid request"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	engine := c.(*middleware.AppContext).App.Engine

	neighbors, err := engine.Neighborhood(ctx, params.CampaignID, params.EntityID, params.Depth, params.Type)
	if err != nil {
		if errors.Is(err, graph.ErrEntityNotFound) {
			return c.JSON(http.StatusNotFound, neighborhoodResponse{Message: "Entity not found"})
		}
		logger.Error("Failed to expand neighborhood", "entity_id", params.EntityID, "err", err)
		return c.JSON(http.StatusInternalServerError, neighborhoodResponse{Message: "Internal server error"})
	}

	return c.JSON(http.StatusOK, neighborhoodResponse{
		Message:   "OK",
		Neighbors: neighbors,
	})
}
