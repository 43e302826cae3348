package graph

import (
	"errors"
	"fmt"

	"github.com/loreforge/loreforge/backend/pkg/store"
)

// Sentinel errors for callers that only need to branch on the class of
// failure. The typed errors below wrap these, so errors.Is works against
// either form. Not-found and connection failures originate in the storage
// layer and are re-exported here so callers only import one package.
var (
	ErrEntityNotFound     = store.ErrEntityNotFound
	ErrSelfRelation       = errors.New("self-referential relationship")
	ErrRelationshipUpsert = errors.New("relationship upsert returned no row")
	ErrDedupResolved      = errors.New("deduplication entry already resolved")
	ErrRebuildTerminal    = errors.New("rebuild is in a terminal state")
	ErrDatabaseConnection = store.ErrDatabaseConnection
)

// EntityNotFoundError reports a lookup or endpoint check that found no
// matching entity in the campaign.
type EntityNotFoundError struct {
	CampaignID int64
	EntityID   string
}

func (e *EntityNotFoundError) Error() string {
	return fmt.Sprintf("entity %q not found in campaign %d", e.EntityID, e.CampaignID)
}

func (e *EntityNotFoundError) Unwrap() error { return ErrEntityNotFound }

// SelfReferentialRelationshipError reports a rejected self-loop. Callers
// that genuinely want a self-edge must pass allowSelfRelation.
type SelfReferentialRelationshipError struct {
	EntityID string
}

func (e *SelfReferentialRelationshipError) Error() string {
	return fmt.Sprintf("relationship from %q to itself rejected", e.EntityID)
}

func (e *SelfReferentialRelationshipError) Unwrap() error { return ErrSelfRelation }

// RelationshipUpsertError reports a storage upsert that returned no row.
type RelationshipUpsertError struct {
	FromEntityID     string
	ToEntityID       string
	RelationshipType string
}

func (e *RelationshipUpsertError) Error() string {
	return fmt.Sprintf("upsert of edge %s -[%s]-> %s returned no row",
		e.FromEntityID, e.RelationshipType, e.ToEntityID)
}

func (e *RelationshipUpsertError) Unwrap() error { return ErrRelationshipUpsert }

// ImportanceCalculationError reports a scoring pipeline failure. StatusCode
// is optional and carries a collaborator HTTP status when one exists.
type ImportanceCalculationError struct {
	EntityID   string
	StatusCode int
	Err        error
}

func (e *ImportanceCalculationError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("importance calculation for %q failed (status %d): %v", e.EntityID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("importance calculation for %q failed: %v", e.EntityID, e.Err)
}

func (e *ImportanceCalculationError) Unwrap() error { return e.Err }

// EntityExtractionError surfaces an extraction collaborator failure. The
// engine does not retry these internally.
type EntityExtractionError struct {
	SourceID string
	Err      error
}

func (e *EntityExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for source %q: %v", e.SourceID, e.Err)
}

func (e *EntityExtractionError) Unwrap() error { return e.Err }

// EmbeddingGenerationError surfaces an embedding collaborator failure.
type EmbeddingGenerationError struct {
	EntityID string
	Err      error
}

func (e *EmbeddingGenerationError) Error() string {
	return fmt.Sprintf("embedding generation failed for %q: %v", e.EntityID, e.Err)
}

func (e *EmbeddingGenerationError) Unwrap() error { return e.Err }
