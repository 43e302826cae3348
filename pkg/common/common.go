package common

import "time"

// ApprovalStatus is the visibility tag on an entity. Entities are
// soft-removed by moving them to ApprovalDeleted rather than deleting
// the row, so provenance and history remain queryable.
type ApprovalStatus string

const (
	ApprovalStaging  ApprovalStatus = "staging"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalDeleted  ApprovalStatus = "deleted"
)

// Provenance records how an entity came to exist.
type Provenance string

const (
	ProvenanceExtracted  Provenance = "extracted"
	ProvenanceManual     Provenance = "manual"
	ProvenanceReferenced Provenance = "referenced"
)

// Entity represents a node in a campaign's knowledge graph: a character,
// place, faction, item, event, or any other narrative object.
//
// Content is an opaque structured payload describing the entity; its keys
// are merged (new values win) when the entity is re-extracted from
// overlapping narrative text.
type Entity struct {
	ID             string         `json:"id"`
	CampaignID     int64          `json:"campaign_id"`
	EntityType     string         `json:"entity_type"`
	Name           string         `json:"name"`
	Content        map[string]any `json:"content"`
	ApprovalStatus ApprovalStatus `json:"approval_status"`
	// ImportanceOverride is "high", "medium", "low" or empty. The computed
	// importance is retained alongside it so the override can be audited.
	ImportanceOverride string     `json:"importance_override,omitempty"`
	Provenance         Provenance `json:"provenance"`
	Confidence         float64    `json:"confidence"`
	SourceType         string     `json:"source_type,omitempty"`
	SourceID           string     `json:"source_id,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// IsStub reports whether the entity exists only because another entity's
// extraction named it. Stubs are excluded from search and visualization
// by predicate, not by a separate table.
func (e *Entity) IsStub() bool {
	return e.Provenance == ProvenanceReferenced && len(e.Content) == 0
}

// Relationship represents a directed, typed edge between two entities.
// The triple (FromEntityID, ToEntityID, RelationshipType) is unique per
// campaign; re-asserting the same typed edge upserts strength and
// metadata instead of duplicating the row.
type Relationship struct {
	ID               string         `json:"id"`
	CampaignID       int64          `json:"campaign_id"`
	FromEntityID     string         `json:"from_entity_id"`
	ToEntityID       string         `json:"to_entity_id"`
	RelationshipType string         `json:"relationship_type"`
	Strength         *float64       `json:"strength,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Community is a cluster of entities at one hierarchy level. Level 0 is the
// finest-grained partition; higher levels cluster communities of the level
// below, linked through ParentCommunityID. Communities are produced only by
// rebuilds and replaced wholesale on success (Generation identifies the
// rebuild pass that produced them).
type Community struct {
	ID                int64          `json:"id"`
	CampaignID        int64          `json:"campaign_id"`
	Level             int            `json:"level"`
	ParentCommunityID *int64         `json:"parent_community_id,omitempty"`
	Generation        int64          `json:"generation"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}

// CommunitySummary is generated prose for one community, with the entities
// that anchor it. MembershipHash identifies the exact member set the summary
// was generated for; summaries are regenerated only when the hash changes.
type CommunitySummary struct {
	CommunityID    int64     `json:"community_id"`
	Title          string    `json:"title"`
	SummaryText    string    `json:"summary_text"`
	KeyEntityIDs   []string  `json:"key_entity_ids"`
	MembershipHash string    `json:"membership_hash"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// EntityImportance is the cached per-entity score record, upserted on each
// rebuild or forced recompute.
type EntityImportance struct {
	EntityID              string    `json:"entity_id"`
	CampaignID            int64     `json:"campaign_id"`
	PageRank              float64   `json:"pagerank"`
	BetweennessCentrality float64   `json:"betweenness_centrality"`
	HierarchyLevel        int       `json:"hierarchy_level"`
	ImportanceScore       float64   `json:"importance_score"`
	ComputedAt            time.Time `json:"computed_at"`
}

// DedupStatus is the lifecycle of a deduplication entry. A resolved entry
// never changes status again.
type DedupStatus string

const (
	DedupPending         DedupStatus = "pending"
	DedupMerged          DedupStatus = "merged"
	DedupRejected        DedupStatus = "rejected"
	DedupConfirmedUnique DedupStatus = "confirmed_unique"
)

// DeduplicationEntry proposes that a newly created entity may duplicate one
// or more existing entities. CandidateIDs and Scores are parallel slices
// ordered by descending similarity.
type DeduplicationEntry struct {
	ID           int64       `json:"id"`
	CampaignID   int64       `json:"campaign_id"`
	NewEntityID  string      `json:"new_entity_id"`
	CandidateIDs []string    `json:"candidate_ids"`
	Scores       []float64   `json:"scores"`
	Status       DedupStatus `json:"status"`
	UserDecision string      `json:"user_decision,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	ResolvedAt   *time.Time  `json:"resolved_at,omitempty"`
}

// ChangelogPayload is the delta carried by one changelog entry. All three
// sections are optional; entity and relationship patches are shallow field
// maps keyed by the target's public id.
type ChangelogPayload struct {
	EntityUpdates       map[string]map[string]any `json:"entity_updates,omitempty"`
	RelationshipUpdates map[string]map[string]any `json:"relationship_updates,omitempty"`
	NewEntities         []Entity                  `json:"new_entities,omitempty"`
}

// ChangelogEntry is an immutable session-level delta. Entries are the event
// log; the base graph is the materialized view. AppliedToGraph flips from
// false to true exactly once, when a rebuild folds the entry in.
type ChangelogEntry struct {
	ID             int64            `json:"id"`
	CampaignID     int64            `json:"campaign_id"`
	SessionID      *int64           `json:"session_id,omitempty"`
	Timestamp      time.Time        `json:"timestamp"`
	Seq            int64            `json:"seq"`
	Payload        ChangelogPayload `json:"payload"`
	ImpactScore    float64          `json:"impact_score"`
	AppliedToGraph bool             `json:"applied_to_graph"`
}

// ArchiveMetadata describes a compacted range of changelog entries that a
// rebuild already folded into the graph. The live rows are deleted only
// after this record is durably written.
type ArchiveMetadata struct {
	ID           int64     `json:"id"`
	CampaignID   int64     `json:"campaign_id"`
	SessionMin   *int64    `json:"session_min,omitempty"`
	SessionMax   *int64    `json:"session_max,omitempty"`
	TimestampMin time.Time `json:"timestamp_min"`
	TimestampMax time.Time `json:"timestamp_max"`
	EntryCount   int       `json:"entry_count"`
	ArchiveKey   string    `json:"archive_key"`
	RebuildID    string    `json:"rebuild_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// RebuildType selects the scope of a rebuild pass.
type RebuildType string

const (
	RebuildFull    RebuildType = "full"
	RebuildPartial RebuildType = "partial"
)

// RebuildState is the job-lifecycle state of a rebuild:
// pending → in_progress → completed | failed | cancelled. Terminal states
// are immutable.
type RebuildState string

const (
	RebuildPending    RebuildState = "pending"
	RebuildInProgress RebuildState = "in_progress"
	RebuildCompleted  RebuildState = "completed"
	RebuildFailed     RebuildState = "failed"
	RebuildCancelled  RebuildState = "cancelled"
)

// IsTerminal reports whether the state permits no further transitions.
func (s RebuildState) IsTerminal() bool {
	return s == RebuildCompleted || s == RebuildFailed || s == RebuildCancelled
}

// Rebuild is the job record for one rebuild pass. At most one rebuild per
// campaign may be pending or in progress at a time.
type Rebuild struct {
	ID                string         `json:"id"`
	CampaignID        int64          `json:"campaign_id"`
	Type              RebuildType    `json:"rebuild_type"`
	Status            RebuildState   `json:"status"`
	AffectedEntityIDs []string       `json:"affected_entity_ids,omitempty"`
	Phase             string         `json:"phase,omitempty"`
	StartedAt         *time.Time     `json:"started_at,omitempty"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
	ErrorMessage      string         `json:"error_message,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
}
