package store

import (
	"context"
	"time"

	"github.com/loreforge/loreforge/backend/pkg/common"
)

// EntityFilter narrows entity listings. Zero values mean "no filter",
// except that rejected and deleted entities are excluded unless
// IncludeHidden is set or ApprovalStatus names them explicitly.
type EntityFilter struct {
	EntityType     string
	ApprovalStatus common.ApprovalStatus
	IncludeStubs   bool
	IncludeHidden  bool
	Limit          int
	Offset         int
}

// EntityMatch pairs an entity id with a similarity score from the
// embedding index, ordered by descending score.
type EntityMatch struct {
	EntityID string
	Name     string
	Score    float64
}

// ChangelogFilter narrows changelog listings.
type ChangelogFilter struct {
	SessionID     *int64
	UnappliedOnly bool
	Limit         int
}

// ArchiveFilter narrows archive metadata queries by session number range
// or timestamp range. Nil bounds are open.
type ArchiveFilter struct {
	SessionMin   *int64
	SessionMax   *int64
	TimestampMin *time.Time
	TimestampMax *time.Time
}

// CommunityRecord is a community together with its member entity ids,
// used when a rebuild writes a whole new generation at once. ParentIdx
// indexes into the same record slice (-1 for none); the store resolves it
// to the parent's assigned id during insertion.
type CommunityRecord struct {
	Community common.Community
	MemberIDs []string
	ParentIdx int
}

// CampaignStorage is the persistence collaborator for the knowledge-graph
// engine. Implementations provide point lookups, campaign-scoped range
// scans, and atomic single-row upserts; no multi-table transaction is
// assumed across entity, relationship and community tables, every write
// path being retryable through idempotent upsert keys instead.
type CampaignStorage interface {
	// Entities.
	CreateEntity(ctx context.Context, entity *common.Entity) error
	GetEntity(ctx context.Context, campaignID int64, entityID string) (*common.Entity, error)
	UpdateEntity(ctx context.Context, campaignID int64, entityID string, fields map[string]any) (*common.Entity, error)
	ListEntities(ctx context.Context, campaignID int64, filter EntityFilter) ([]common.Entity, error)
	SearchEntitiesByText(ctx context.Context, campaignID int64, query string, limit int) ([]common.Entity, error)
	SearchEntitiesSemantic(ctx context.Context, campaignID int64, embedding []float32, topK int, minScore float64) ([]EntityMatch, error)
	// DeleteEntity removes the row and cascades deletion of every
	// relationship touching the entity.
	DeleteEntity(ctx context.Context, campaignID int64, entityID string) error
	FindSimilarEntities(ctx context.Context, campaignID int64, entityID string, entityType string, topK int, minScore float64) ([]EntityMatch, error)

	// Relationships. UpsertRelationship keys on the normalized
	// (from, to, type) triple within the campaign.
	UpsertRelationship(ctx context.Context, rel *common.Relationship) (*common.Relationship, error)
	DeleteRelationshipByID(ctx context.Context, campaignID int64, relationshipID string) error
	DeleteRelationshipByKey(ctx context.Context, campaignID int64, fromID, toID, relationshipType string) error
	RelationshipsOf(ctx context.Context, campaignID int64, entityID string, typeFilter string) ([]common.Relationship, error)
	OutgoingRelationships(ctx context.Context, campaignID int64, fromIDs []string, typeFilter string) ([]common.Relationship, error)
	ListRelationships(ctx context.Context, campaignID int64) ([]common.Relationship, error)
	RepointRelationships(ctx context.Context, campaignID int64, fromEntityID, toEntityID string) error

	// Deduplication entries. ResolveDedupEntry is a conditional update
	// guarded on status=pending; it reports whether a row transitioned.
	CreateDedupEntry(ctx context.Context, entry *common.DeduplicationEntry) error
	GetDedupEntry(ctx context.Context, campaignID int64, entryID int64) (*common.DeduplicationEntry, error)
	GetDedupEntryForEntity(ctx context.Context, campaignID int64, entityID string) (*common.DeduplicationEntry, error)
	ListDedupEntries(ctx context.Context, campaignID int64, status common.DedupStatus) ([]common.DeduplicationEntry, error)
	ResolveDedupEntry(ctx context.Context, campaignID int64, entryID int64, status common.DedupStatus, decision string) (bool, error)

	// Importance.
	UpsertImportance(ctx context.Context, imp *common.EntityImportance) error
	GetImportance(ctx context.Context, campaignID int64, entityID string) (*common.EntityImportance, error)
	TopImportance(ctx context.Context, campaignID int64, minScore float64, limit, offset int) ([]common.EntityImportance, error)

	// Communities. A rebuild writes a complete new generation and flips
	// the campaign's active generation pointer only on full success; all
	// read methods resolve against the active generation.
	InsertCommunityGeneration(ctx context.Context, campaignID int64, generation int64, records []CommunityRecord) (map[int]int64, error)
	SetActiveCommunityGeneration(ctx context.Context, campaignID int64, generation int64) error
	ActiveCommunityGeneration(ctx context.Context, campaignID int64) (int64, error)
	DropCommunityGeneration(ctx context.Context, campaignID int64, generation int64) error
	ListCommunities(ctx context.Context, campaignID int64, level *int) ([]common.Community, error)
	GetCommunity(ctx context.Context, campaignID int64, communityID int64) (*common.Community, error)
	ChildCommunities(ctx context.Context, campaignID int64, communityID int64) ([]common.Community, error)
	CommunityMembers(ctx context.Context, communityID int64) ([]string, error)
	CommunitiesContainingEntity(ctx context.Context, campaignID int64, entityID string) ([]common.Community, error)
	CommunitiesContainingEntities(ctx context.Context, campaignID int64, entityIDs []string) (map[string][]common.Community, error)
	UpsertCommunitySummary(ctx context.Context, summary *common.CommunitySummary) error
	GetCommunitySummary(ctx context.Context, communityID int64) (*common.CommunitySummary, error)
	SummariesByMembershipHash(ctx context.Context, campaignID int64) (map[string]common.CommunitySummary, error)

	// Changelog. Entries are append-only; MarkChangelogApplied flips
	// applied_to_graph false→true and never back.
	AppendChangelogEntry(ctx context.Context, entry *common.ChangelogEntry) error
	ListChangelog(ctx context.Context, campaignID int64, filter ChangelogFilter) ([]common.ChangelogEntry, error)
	MarkChangelogApplied(ctx context.Context, campaignID int64, entryIDs []int64) error
	DeleteChangelogEntries(ctx context.Context, campaignID int64, entryIDs []int64) error

	// Archive metadata.
	InsertArchiveMetadata(ctx context.Context, meta *common.ArchiveMetadata) error
	ListArchiveMetadata(ctx context.Context, campaignID int64, filter ArchiveFilter) ([]common.ArchiveMetadata, error)
	GetArchiveMetadataByKey(ctx context.Context, campaignID int64, archiveKey string) (*common.ArchiveMetadata, error)

	// Rebuilds. CreateRebuildIfNone is a single conditional insert keyed
	// on "one active rebuild per campaign"; when an active rebuild
	// already exists it returns that rebuild and created=false.
	CreateRebuildIfNone(ctx context.Context, rebuild *common.Rebuild) (*common.Rebuild, bool, error)
	GetRebuild(ctx context.Context, rebuildID string) (*common.Rebuild, error)
	GetActiveRebuildForCampaign(ctx context.Context, campaignID int64) (*common.Rebuild, error)
	ListRebuilds(ctx context.Context, campaignID int64, limit, offset int) ([]common.Rebuild, error)
	TransitionRebuild(ctx context.Context, rebuildID string, from []common.RebuildState, to common.RebuildState, errorMessage string) (bool, error)
	SetRebuildPhase(ctx context.Context, rebuildID string, phase string) error
}
