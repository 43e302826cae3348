package routes

import (
	"net/http"

	"github.com/loreforge/loreforge/backend/internal/server/middleware"
	"github.com/loreforge/loreforge/backend/internal/util"
	"github.com/loreforge/loreforge/backend/pkg/graph"
	"github.com/loreforge/loreforge/backend/pkg/loader"
	ioloader "github.com/loreforge/loreforge/backend/pkg/loader/io"
	s3loader "github.com/loreforge/loreforge/backend/pkg/loader/s3"
	"github.com/loreforge/loreforge/backend/pkg/logger"

	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// IngestDocumentHandler runs entity and relationship extraction over one
// narrative document. Content arrives inline in the request body or is
// fetched from object storage by source_key.
func IngestDocumentHandler(c echo.Context) error {
	type ingestBody struct {
		CampaignID  int64    `param:"campaign_id" validate:"required,numeric"`
		Name        string   `json:"name" validate:"required"`
		Kind        string   `json:"kind" validate:"omitempty,oneof=session_transcript gm_notes worldbuilding"`
		Text        string   `json:"text"`
		SourceKey   string   `json:"source_key"`
		MaxTokens   int      `json:"max_tokens"`
		EntityTypes []string `json:"entity_types"`
	}

	type ingestResponse struct {
		Message string              `json:"message"`
		Result  *graph.IngestResult `json:"result,omitempty"`
	}

	data := new(ingestBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, ingestResponse{Message: "Invalid request body"})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, ingestResponse{Message: "Invalid request body"})
	}
	if data.Text == "" && data.SourceKey == "" {
		return c.JSON(http.StatusBadRequest, ingestResponse{Message: "Provide text or source_key"})
	}

	user := c.(*middleware.AppContext).User
	if user == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
	}

	kind := loader.DocumentKind(data.Kind)
	if kind == "" {
		kind = loader.DocumentKindNotes
	}

	docID, err := gonanoid.New()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, ingestResponse{Message: "Internal server error"})
	}

	app := c.(*middleware.AppContext).App

	var doc loader.Document
	if data.Text != "" {
		doc = loader.NewInlineDocument(loader.NewDocumentParams{
			ID:          docID,
			Kind:        kind,
			Name:        data.Name,
			MaxTokens:   data.MaxTokens,
			EntityTypes: data.EntityTypes,
		}, data.Text)
	} else {
		// Without a configured document bucket, source_key is read from
		// the local filesystem instead.
		bucket := util.GetEnv("AWS_DOCUMENT_BUCKET")
		var docLoader loader.DocumentLoader
		if bucket == "" || app.S3 == nil {
			docLoader = ioloader.NewIODocumentLoader()
		} else {
			docLoader = s3loader.NewS3DocumentLoaderWithClient(bucket, app.S3)
		}
		doc = loader.NewStoredDocument(loader.NewDocumentParams{
			ID:          docID,
			Kind:        kind,
			Name:        data.Name,
			SourceKey:   data.SourceKey,
			MaxTokens:   data.MaxTokens,
			EntityTypes: data.EntityTypes,
			Loader:      docLoader,
		})
	}

	ctx := c.Request().Context()
	result, err := app.Engine.IngestNarrative(ctx, data.CampaignID, doc)
	if err != nil {
		logger.Error("Failed to ingest document", "campaign_id", data.CampaignID, "document", data.Name, "err", err)
		return c.JSON(http.StatusInternalServerError, ingestResponse{Message: "Internal server error"})
	}

	return c.JSON(http.StatusOK, ingestResponse{
		Message: "Document ingested successfully",
		Result:  result,
	})
}
