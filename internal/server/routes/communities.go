package routes

import (
	"net/http"

	"github.com/loreforge/loreforge/backend/internal/server/middleware"
	"github.com/loreforge/loreforge/backend/pkg/common"
	"github.com/loreforge/loreforge/backend/pkg/graph"
	"github.com/loreforge/loreforge/backend/pkg/logger"

	"github.com/labstack/echo/v4"
)

// ListCommunitiesHandler lists the active generation's communities,
// optionally restricted to one hierarchy level.
func ListCommunitiesHandler(c echo.Context) error {
	type listParams struct {
		CampaignID int64 `param:"campaign_id" validate:"required,numeric"`
		Level      *int  `query:"level"`
	}

	type listResponse struct {
		Message     string             `json:"message"`
		Communities []common.Community `json:"communities,omitempty"`
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

	communities, err := engine.ListCommunities(ctx, params.CampaignID, params.Level)
	if err != nil {
		logger.Error("Failed to list communities", "campaign_id", params.CampaignID, "err", err)
		return c.JSON(http.StatusInternalServerError, listResponse{Message: "Internal server error"})
	}

	return c.JSON(http.StatusOK, listResponse{
		Message:     "OK",
		Communities: communities,
	})
}

// GetCommunityHandler returns one community with members and summary.
func GetCommunityHandler(c echo.Context) error {
	type getParams struct {
		CampaignID  int64 `param:"campaign_id" validate:"required,numeric"`
		CommunityID int64 `param:"community_id" validate:"required,numeric"`
	}

	type getResponse struct {
		Message   string                 `json:"message"`
		Community *graph.CommunityDetail `json:"community,omitempty"`
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

	detail, err := engine.GetCommunityDetail(ctx, params.CampaignID, params.CommunityID)
	if err != nil {
		logger.Error("Failed to get community", "community_id", params.CommunityID, "err", err)
		return c.JSON(http.StatusNotFound, getResponse{Message: "Community not found"})
	}

	return c.JSON(http.StatusOK, getResponse{
		Message:   "OK",
		Community: detail,
	})
}

// CommunityRelativesHandler returns a community's children, ancestors or
// descendants depending on the relation path parameter.
func CommunityRelativesHandler(c echo.Context) error {
	type relativesParams struct {
		CampaignID  int64  `param:"campaign_id" validate:"required,numeric"`
		CommunityID int64  `param:"community_id" validate:"required,numeric"`
		Relation    string `param:"relation" validate:"required,oneof=children ancestors descendants"`
	}

	type relativesResponse struct {
		Message     string             `json:"message"`
		Communities []common.Community `json:"communities,omitempty"`
	}

	params := new(relativesParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, relativesResponse{Message: "Invalid request"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, relativesResponse{Message: "Invalid request"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	engine := c.(*middleware.AppContext).App.Engine

	var (
		communities []common.Community
		err         error
	)
	switch params.Relation {
	case "children":
		communities, err = engine.ChildrenOf(ctx, params.CampaignID, params.CommunityID)
	case "ancestors":
		communities, err = engine.AncestorsOf(ctx, params.CampaignID, params.CommunityID)
	case "descendants":
		communities, err = engine.DescendantsOf(ctx, params.CampaignID, params.CommunityID)
	}
	if err != nil {
		logger.Error("Failed to walk community hierarchy",
			"community_id", params.CommunityID, "relation", params.Relation, "err", err)
		return c.JSON(http.StatusInternalServerError, relativesResponse{Message: "Internal server error"})
	}

	return c.JSON(http.StatusOK, relativesResponse{
		Message:     "OK",
		Communities: communities,
	})
}

// EntityCommunitiesHandler returns every active community containing the
// entity, one per hierarchy level.
func EntityCommunitiesHandler(c echo.Context) error {
	type entityCommunitiesParams struct {
		CampaignID int64  `param:"campaign_id" validate:"required,numeric"`
		EntityID   string `param:"entity_id" validate:"required"`
	}

	type entityCommunitiesResponse struct {
		Message     string             `json:"message"`
		Communities []common.Community `json:"communities,omitempty"`
	}

	params := new(entityCommunitiesParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, entityCommunitiesResponse{Message: "Invalid request"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, entityCommunitiesResponse{Message: "Invalid request"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	ctx := c.Request().Context()
	engine := c.(*middleware.AppContext).App.Engine

	communities, err := engine.ContainingEntity(ctx, params.CampaignID, params.EntityID)
	if err != nil {
		logger.Error("Failed to list entity communities", "entity_id", params.EntityID, "err", err)
		return c.JSON(http.StatusInternalServerError, entityCommunitiesResponse{Message: "Internal server error"})
	}

	return c.JSON(http.StatusOK, entityCommunitiesResponse{
		Message:     "OK",
		Communities: communities,
	})
}
