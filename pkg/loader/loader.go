package loader

import (
	"context"
	"fmt"
)

// DocumentKind classifies the narrative content a document carries; it is
// recorded as entity provenance and steers the extraction prompt.
type DocumentKind string

const (
	DocumentKindTranscript    DocumentKind = "session_transcript"
	DocumentKindNotes         DocumentKind = "gm_notes"
	DocumentKindWorldbuilding DocumentKind = "worldbuilding"
)

// Document is one piece of narrative content to be ingested into a
// campaign's knowledge graph. Content either travels inline (Text set) or
// is fetched through the Loader (SourceKey set).
type Document struct {
	ID   string
	Kind DocumentKind
	// Name is a human-readable label shown to the extraction model.
	Name string
	// SourceKey locates the content for the Loader (file path or object key).
	SourceKey string
	// Text is inline content; when set the Loader is never consulted.
	Text string
	// MaxTokens caps each extraction unit's size; 0 uses the engine default.
	MaxTokens int
	// EntityTypes overrides the default extraction vocabulary.
	EntityTypes []string

	Loader DocumentLoader
}

// NewDocumentParams defines the input parameters for creating a Document.
type NewDocumentParams struct {
	ID          string
	Kind        DocumentKind
	Name        string
	SourceKey   string
	MaxTokens   int
	EntityTypes []string
	Loader      DocumentLoader
}

// NewInlineDocument creates a Document whose content is already in memory,
// typically a request body.
func NewInlineDocument(params NewDocumentParams, text string) Document {
	return Document{
		ID:          params.ID,
		Kind:        params.Kind,
		Name:        params.Name,
		Text:        text,
		MaxTokens:   params.MaxTokens,
		EntityTypes: params.EntityTypes,
	}
}

// NewStoredDocument creates a Document fetched through the given loader.
func NewStoredDocument(params NewDocumentParams) Document {
	return Document{
		ID:          params.ID,
		Kind:        params.Kind,
		Name:        params.Name,
		SourceKey:   params.SourceKey,
		MaxTokens:   params.MaxTokens,
		EntityTypes: params.EntityTypes,
		Loader:      params.Loader,
	}
}

// GetText retrieves the document's raw text, inline or via the Loader.
func (d *Document) GetText(ctx context.Context) ([]byte, error) {
	if d.Text != "" {
		return []byte(d.Text), nil
	}
	if d.Loader == nil {
		return nil, fmt.Errorf("document %q has no inline text and no loader", d.ID)
	}
	return d.Loader.GetDocumentText(ctx, *d)
}

// DocumentLoader fetches the contents of a Document. Implementations load
// from the local filesystem or object storage.
type DocumentLoader interface {
	GetDocumentText(ctx context.Context, doc Document) ([]byte, error)
}

// CacheKey identifies a document's content for loader-side caching.
func CacheKey(doc Document) string {
	return fmt.Sprintf("%s|%s", doc.ID, doc.SourceKey)
}
