package server

import (
	"github.com/loreforge/loreforge/backend/internal/server/middleware"
	"github.com/loreforge/loreforge/backend/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)
	campaign := apiRoutes.Group("/campaigns/:campaign_id")

	// Entity routes
	campaign.GET("/entities", routes.ListEntitiesHandler)
	campaign.POST("/entities", routes.CreateEntityHandler, middleware.RequirePermission("entity.create"))
	campaign.GET("/entities/search", routes.SearchEntitiesHandler)
	campaign.GET("/entities/:entity_id", routes.GetEntityHandler)
	campaign.PATCH("/entities/:entity_id", routes.EditEntityHandler, middleware.RequirePermission("entity.update"))
	campaign.DELETE("/entities/:entity_id", routes.DeleteEntityHandler, middleware.RequirePermission("entity.delete"))
	campaign.PUT("/entities/:entity_id/approval", routes.SetApprovalStatusHandler, middleware.RequirePermission("entity.approve"))
	campaign.GET("/entities/:entity_id/context", routes.EntityContextHandler)

	// Relationship and traversal routes
	campaign.POST("/relationships", routes.UpsertRelationshipHandler, middleware.RequirePermission("relationship.create"))
	campaign.DELETE("/relationships", routes.DeleteRelationshipHandler, middleware.RequirePermission("relationship.delete"))
	campaign.GET("/entities/:entity_id/relationships", routes.EntityRelationshipsHandler)
	campaign.GET("/entities/:entity_id/neighborhood", routes.NeighborhoodHandler)

	// Community routes
	campaign.GET("/communities", routes.ListCommunitiesHandler)
	campaign.GET("/communities/:community_id", routes.GetCommunityHandler)
	campaign.GET("/communities/:community_id/:relation", routes.CommunityRelativesHandler)
	campaign.GET("/entities/:entity_id/communities", routes.EntityCommunitiesHandler)

	// Importance routes
	campaign.GET("/entities/:entity_id/importance", routes.GetImportanceHandler)
	campaign.PUT("/entities/:entity_id/importance-override", routes.SetImportanceOverrideHandler, middleware.RequirePermission("importance.override"))
	campaign.GET("/importance/top", routes.TopImportanceHandler)
	campaign.POST("/importance/recompute", routes.RecomputeImportanceHandler, middleware.RequirePermission("importance.override"))

	// Deduplication routes
	campaign.GET("/dedup", routes.ListDedupEntriesHandler)
	campaign.POST("/entities/:entity_id/dedup", routes.EvaluateEntityDedupHandler, middleware.RequirePermission("dedup.resolve"))
	campaign.POST("/dedup/:entry_id/resolve", routes.ResolveDedupEntryHandler, middleware.RequirePermission("dedup.resolve"))

	// Changelog and archive routes
	campaign.POST("/changelog", routes.RecordDeltaHandler, middleware.RequirePermission("changelog.record"))
	campaign.GET("/changelog", routes.ListChangelogHandler)
	campaign.GET("/archives", routes.ListArchivesHandler, middleware.RequirePermission("archive.view"))
	campaign.GET("/archives/entries", routes.ReadArchiveHandler, middleware.RequirePermission("archive.view"))
	campaign.GET("/archives/download", routes.ArchiveDownloadLinkHandler, middleware.RequirePermission("archive.view"))

	// Rebuild routes
	campaign.POST("/rebuilds", routes.TriggerRebuildHandler, middleware.RequirePermission("rebuild.trigger"))
	campaign.GET("/rebuilds", routes.ListRebuildsHandler)
	campaign.GET("/rebuilds/active", routes.ActiveRebuildHandler)
	campaign.GET("/rebuilds/:rebuild_id", routes.GetRebuildHandler)
	campaign.POST("/rebuilds/:rebuild_id/cancel", routes.CancelRebuildHandler, middleware.RequirePermission("rebuild.cancel"))

	// Ingestion routes
	campaign.POST("/ingest", routes.IngestDocumentHandler, middleware.RequirePermission("campaign.ingest"))
}
