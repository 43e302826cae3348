package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/loreforge/loreforge/backend/pkg/ai"
	"github.com/loreforge/loreforge/backend/pkg/common"
	"github.com/loreforge/loreforge/backend/pkg/store"
)

// fakeStore is an in-memory CampaignStorage used by the engine tests. It
// mirrors the contract of the pgx store: not-found entities return
// ErrEntityNotFound, optional lookups return (nil, nil) on miss, and the
// conditional writes (dedup resolution, rebuild creation and transition)
// are guarded the same way.
type fakeStore struct {
	entities    map[string]*common.Entity
	entityOrder []string

	relationships map[string]*common.Relationship
	relOrder      []string

	dedupEntries map[int64]*common.DeduplicationEntry
	nextDedupID  int64

	importance map[string]*common.EntityImportance

	communities     map[int64]*common.Community
	members         map[int64][]string
	summaries       map[int64]*common.CommunitySummary
	activeGen       map[int64]int64
	nextCommunityID int64

	changelog   []*common.ChangelogEntry
	nextEntryID int64
	nextSeq     int64

	archives map[string]*common.ArchiveMetadata
	nextArch int64

	rebuilds     map[string]*common.Rebuild
	rebuildOrder []string

	// similar configures FindSimilarEntities per source entity id;
	// semantic configures SearchEntitiesSemantic.
	similar  map[string][]store.EntityMatch
	semantic []store.EntityMatch
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		entities:      map[string]*common.Entity{},
		relationships: map[string]*common.Relationship{},
		dedupEntries:  map[int64]*common.DeduplicationEntry{},
		importance:    map[string]*common.EntityImportance{},
		communities:   map[int64]*common.Community{},
		members:       map[int64][]string{},
		summaries:     map[int64]*common.CommunitySummary{},
		activeGen:     map[int64]int64{},
		archives:      map[string]*common.ArchiveMetadata{},
		rebuilds:      map[string]*common.Rebuild{},
		similar:       map[string][]store.EntityMatch{},
	}
}

// addEntity seeds an approved, manually created entity with a fixed id so
// tests stay deterministic.
func (f *fakeStore) addEntity(campaignID int64, id, name, entityType string) *common.Entity {
	e := &common.Entity{
		ID:             id,
		CampaignID:     campaignID,
		EntityType:     entityType,
		Name:           name,
		Content:        map[string]any{},
		ApprovalStatus: common.ApprovalApproved,
		Provenance:     common.ProvenanceManual,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	f.entities[id] = e
	f.entityOrder = append(f.entityOrder, id)
	return e
}

func (f *fakeStore) addEdge(campaignID int64, from, to, relType string) *common.Relationship {
	id := fmt.Sprintf("rel-%s-%s-%s", from, to, relType)
	r := &common.Relationship{
		ID:               id,
		CampaignID:       campaignID,
		FromEntityID:     from,
		ToEntityID:       to,
		RelationshipType: relType,
	}
	f.relationships[id] = r
	f.relOrder = append(f.relOrder, id)
	return r
}

func impKey(campaignID int64, entityID string) string {
	return fmt.Sprintf("%d/%s", campaignID, entityID)
}

func relCompositeKey(campaignID int64, from, to, relType string) string {
	return fmt.Sprintf("%d/%s/%s/%s", campaignID, from, to, relType)
}

func copyEntity(e *common.Entity) *common.Entity {
	c := *e
	return &c
}

// Entities.

func (f *fakeStore) CreateEntity(ctx context.Context, entity *common.Entity) error {
	now := time.Now().UTC()
	entity.CreatedAt = now
	entity.UpdatedAt = now
	f.entities[entity.ID] = copyEntity(entity)
	f.entityOrder = append(f.entityOrder, entity.ID)
	return nil
}

func (f *fakeStore) GetEntity(ctx context.Context, campaignID int64, entityID string) (*common.Entity, error) {
	e, ok := f.entities[entityID]
	if !ok || e.CampaignID != campaignID {
		return nil, store.ErrEntityNotFound
	}
	return copyEntity(e), nil
}

func (f *fakeStore) UpdateEntity(ctx context.Context, campaignID int64, entityID string, fields map[string]any) (*common.Entity, error) {
	e, ok := f.entities[entityID]
	if !ok || e.CampaignID != campaignID {
		return nil, store.ErrEntityNotFound
	}
	for field, value := range fields {
		switch field {
		case "name":
			if s, ok := value.(string); ok {
				e.Name = s
			}
		case "entity_type":
			if s, ok := value.(string); ok {
				e.EntityType = s
			}
		case "content":
			if m, ok := value.(map[string]any); ok {
				e.Content = m
			}
		case "approval_status":
			switch v := value.(type) {
			case common.ApprovalStatus:
				e.ApprovalStatus = v
			case string:
				e.ApprovalStatus = common.ApprovalStatus(v)
			}
		case "importance_override":
			if s, ok := value.(string); ok {
				e.ImportanceOverride = s
			}
		case "provenance":
			switch v := value.(type) {
			case common.Provenance:
				e.Provenance = v
			case string:
				e.Provenance = common.Provenance(v)
			}
		case "confidence":
			if n, ok := toFloat(value); ok {
				e.Confidence = n
			}
		case "source_type":
			if s, ok := value.(string); ok {
				e.SourceType = s
			}
		case "source_id":
			if s, ok := value.(string); ok {
				e.SourceID = s
			}
		default:
			// Same whitelist the pgx store enforces.
			return nil, fmt.Errorf("unknown entity field %q", field)
		}
	}
	e.UpdatedAt = time.Now().UTC()
	return copyEntity(e), nil
}

func (f *fakeStore) ListEntities(ctx context.Context, campaignID int64, filter store.EntityFilter) ([]common.Entity, error) {
	var out []common.Entity
	skipped := 0
	for _, id := range f.entityOrder {
		e, ok := f.entities[id]
		if !ok || e.CampaignID != campaignID {
			continue
		}
		hidden := e.ApprovalStatus == common.ApprovalRejected || e.ApprovalStatus == common.ApprovalDeleted
		if hidden && !filter.IncludeHidden && filter.ApprovalStatus != e.ApprovalStatus {
			continue
		}
		if e.IsStub() && !filter.IncludeStubs {
			continue
		}
		if filter.EntityType != "" && e.EntityType != filter.EntityType {
			continue
		}
		if filter.ApprovalStatus != "" && e.ApprovalStatus != filter.ApprovalStatus {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		out = append(out, *copyEntity(e))
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) SearchEntitiesByText(ctx context.Context, campaignID int64, query string, limit int) ([]common.Entity, error) {
	needle := strings.ToLower(query)
	var out []common.Entity
	for _, id := range f.entityOrder {
		e, ok := f.entities[id]
		if !ok || e.CampaignID != campaignID {
			continue
		}
		if !strings.Contains(strings.ToLower(e.Name), needle) {
			continue
		}
		out = append(out, *copyEntity(e))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) SearchEntitiesSemantic(ctx context.Context, campaignID int64, embedding []float32, topK int, minScore float64) ([]store.EntityMatch, error) {
	var out []store.EntityMatch
	for _, m := range f.semantic {
		if m.Score < minScore {
			continue
		}
		out = append(out, m)
		if topK > 0 && len(out) >= topK {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteEntity(ctx context.Context, campaignID int64, entityID string) error {
	delete(f.entities, entityID)
	for i, id := range f.entityOrder {
		if id == entityID {
			f.entityOrder = append(f.entityOrder[:i], f.entityOrder[i+1:]...)
			break
		}
	}
	for _, id := range append([]string(nil), f.relOrder...) {
		r := f.relationships[id]
		if r != nil && (r.FromEntityID == entityID || r.ToEntityID == entityID) {
			f.removeRelationship(id)
		}
	}
	return nil
}

func (f *fakeStore) FindSimilarEntities(ctx context.Context, campaignID int64, entityID string, entityType string, topK int, minScore float64) ([]store.EntityMatch, error) {
	var out []store.EntityMatch
	for _, m := range f.similar[entityID] {
		if m.Score < minScore {
			continue
		}
		out = append(out, m)
		if topK > 0 && len(out) >= topK {
			break
		}
	}
	return out, nil
}

// Relationships.

func (f *fakeStore) UpsertRelationship(ctx context.Context, rel *common.Relationship) (*common.Relationship, error) {
	key := relCompositeKey(rel.CampaignID, rel.FromEntityID, rel.ToEntityID, rel.RelationshipType)
	for _, id := range f.relOrder {
		existing := f.relationships[id]
		if existing == nil {
			continue
		}
		if relCompositeKey(existing.CampaignID, existing.FromEntityID, existing.ToEntityID, existing.RelationshipType) != key {
			continue
		}
		existing.Strength = rel.Strength
		existing.Metadata = rel.Metadata
		existing.UpdatedAt = time.Now().UTC()
		c := *existing
		return &c, nil
	}

	now := time.Now().UTC()
	stored := *rel
	stored.CreatedAt = now
	stored.UpdatedAt = now
	f.relationships[stored.ID] = &stored
	f.relOrder = append(f.relOrder, stored.ID)
	c := stored
	return &c, nil
}

func (f *fakeStore) removeRelationship(id string) {
	delete(f.relationships, id)
	for i, rid := range f.relOrder {
		if rid == id {
			f.relOrder = append(f.relOrder[:i], f.relOrder[i+1:]...)
			return
		}
	}
}

func (f *fakeStore) DeleteRelationshipByID(ctx context.Context, campaignID int64, relationshipID string) error {
	f.removeRelationship(relationshipID)
	return nil
}

func (f *fakeStore) DeleteRelationshipByKey(ctx context.Context, campaignID int64, fromID, toID, relationshipType string) error {
	key := relCompositeKey(campaignID, fromID, toID, relationshipType)
	for _, id := range append([]string(nil), f.relOrder...) {
		r := f.relationships[id]
		if r != nil && relCompositeKey(r.CampaignID, r.FromEntityID, r.ToEntityID, r.RelationshipType) == key {
			f.removeRelationship(id)
		}
	}
	return nil
}

func (f *fakeStore) RelationshipsOf(ctx context.Context, campaignID int64, entityID string, typeFilter string) ([]common.Relationship, error) {
	var out []common.Relationship
	for _, id := range f.relOrder {
		r := f.relationships[id]
		if r == nil || r.CampaignID != campaignID {
			continue
		}
		if r.FromEntityID != entityID && r.ToEntityID != entityID {
			continue
		}
		if typeFilter != "" && r.RelationshipType != typeFilter {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

func (f *fakeStore) OutgoingRelationships(ctx context.Context, campaignID int64, fromIDs []string, typeFilter string) ([]common.Relationship, error) {
	from := map[string]bool{}
	for _, id := range fromIDs {
		from[id] = true
	}
	var out []common.Relationship
	for _, id := range f.relOrder {
		r := f.relationships[id]
		if r == nil || r.CampaignID != campaignID || !from[r.FromEntityID] {
			continue
		}
		if typeFilter != "" && r.RelationshipType != typeFilter {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

func (f *fakeStore) ListRelationships(ctx context.Context, campaignID int64) ([]common.Relationship, error) {
	var out []common.Relationship
	for _, id := range f.relOrder {
		r := f.relationships[id]
		if r != nil && r.CampaignID == campaignID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (f *fakeStore) RepointRelationships(ctx context.Context, campaignID int64, fromEntityID, toEntityID string) error {
	for _, id := range append([]string(nil), f.relOrder...) {
		r := f.relationships[id]
		if r == nil || r.CampaignID != campaignID {
			continue
		}
		if r.FromEntityID != fromEntityID && r.ToEntityID != fromEntityID {
			continue
		}
		next := *r
		if next.FromEntityID == fromEntityID {
			next.FromEntityID = toEntityID
		}
		if next.ToEntityID == fromEntityID {
			next.ToEntityID = toEntityID
		}
		f.removeRelationship(id)
		if next.FromEntityID == next.ToEntityID {
			continue
		}
		// Colliding edges collapse into the surviving row.
		if _, err := f.UpsertRelationship(ctx, &next); err != nil {
			return err
		}
	}
	return nil
}

// Deduplication.

func (f *fakeStore) CreateDedupEntry(ctx context.Context, entry *common.DeduplicationEntry) error {
	f.nextDedupID++
	entry.ID = f.nextDedupID
	entry.CreatedAt = time.Now().UTC()
	c := *entry
	f.dedupEntries[entry.ID] = &c
	return nil
}

func (f *fakeStore) GetDedupEntry(ctx context.Context, campaignID int64, entryID int64) (*common.DeduplicationEntry, error) {
	e, ok := f.dedupEntries[entryID]
	if !ok || e.CampaignID != campaignID {
		return nil, fmt.Errorf("dedup entry %d not found", entryID)
	}
	c := *e
	return &c, nil
}

func (f *fakeStore) GetDedupEntryForEntity(ctx context.Context, campaignID int64, entityID string) (*common.DeduplicationEntry, error) {
	var latest *common.DeduplicationEntry
	for _, e := range f.dedupEntries {
		if e.CampaignID != campaignID || e.NewEntityID != entityID {
			continue
		}
		if latest == nil || e.ID > latest.ID {
			latest = e
		}
	}
	if latest == nil {
		return nil, nil
	}
	c := *latest
	return &c, nil
}

func (f *fakeStore) ListDedupEntries(ctx context.Context, campaignID int64, status common.DedupStatus) ([]common.DeduplicationEntry, error) {
	var out []common.DeduplicationEntry
	for id := int64(1); id <= f.nextDedupID; id++ {
		e, ok := f.dedupEntries[id]
		if ok && e.CampaignID == campaignID && e.Status == status {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (f *fakeStore) ResolveDedupEntry(ctx context.Context, campaignID int64, entryID int64, status common.DedupStatus, decision string) (bool, error) {
	e, ok := f.dedupEntries[entryID]
	if !ok || e.CampaignID != campaignID || e.Status != common.DedupPending {
		return false, nil
	}
	now := time.Now().UTC()
	e.Status = status
	e.UserDecision = decision
	e.ResolvedAt = &now
	return true, nil
}

// Importance.

func (f *fakeStore) UpsertImportance(ctx context.Context, imp *common.EntityImportance) error {
	c := *imp
	c.ComputedAt = time.Now().UTC()
	f.importance[impKey(imp.CampaignID, imp.EntityID)] = &c
	return nil
}

func (f *fakeStore) GetImportance(ctx context.Context, campaignID int64, entityID string) (*common.EntityImportance, error) {
	imp, ok := f.importance[impKey(campaignID, entityID)]
	if !ok {
		return nil, nil
	}
	c := *imp
	return &c, nil
}

func (f *fakeStore) TopImportance(ctx context.Context, campaignID int64, minScore float64, limit, offset int) ([]common.EntityImportance, error) {
	var out []common.EntityImportance
	for _, imp := range f.importance {
		if imp.CampaignID == campaignID && imp.ImportanceScore >= minScore {
			out = append(out, *imp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ImportanceScore != out[j].ImportanceScore {
			return out[i].ImportanceScore > out[j].ImportanceScore
		}
		return out[i].EntityID < out[j].EntityID
	})
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Communities.

func (f *fakeStore) InsertCommunityGeneration(ctx context.Context, campaignID int64, generation int64, records []store.CommunityRecord) (map[int]int64, error) {
	assigned := make(map[int]int64, len(records))
	for idx := range records {
		f.nextCommunityID++
		assigned[idx] = f.nextCommunityID
	}
	for idx, rec := range records {
		c := rec.Community
		c.ID = assigned[idx]
		c.CampaignID = campaignID
		c.Generation = generation
		c.CreatedAt = time.Now().UTC()
		if rec.ParentIdx >= 0 {
			parentID := assigned[rec.ParentIdx]
			c.ParentCommunityID = &parentID
		}
		f.communities[c.ID] = &c
		f.members[c.ID] = append([]string(nil), rec.MemberIDs...)
	}
	return assigned, nil
}

func (f *fakeStore) SetActiveCommunityGeneration(ctx context.Context, campaignID int64, generation int64) error {
	f.activeGen[campaignID] = generation
	return nil
}

func (f *fakeStore) ActiveCommunityGeneration(ctx context.Context, campaignID int64) (int64, error) {
	return f.activeGen[campaignID], nil
}

func (f *fakeStore) DropCommunityGeneration(ctx context.Context, campaignID int64, generation int64) error {
	for id, c := range f.communities {
		if c.CampaignID == campaignID && c.Generation == generation {
			delete(f.communities, id)
			delete(f.members, id)
			delete(f.summaries, id)
		}
	}
	return nil
}

func (f *fakeStore) activeCommunities(campaignID int64) []*common.Community {
	gen := f.activeGen[campaignID]
	var out []*common.Community
	for _, c := range f.communities {
		if c.CampaignID == campaignID && c.Generation == gen {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *fakeStore) ListCommunities(ctx context.Context, campaignID int64, level *int) ([]common.Community, error) {
	var out []common.Community
	for _, c := range f.activeCommunities(campaignID) {
		if level != nil && c.Level != *level {
			continue
		}
		out = append(out, *c)
	}
	return out, nil
}

func (f *fakeStore) GetCommunity(ctx context.Context, campaignID int64, communityID int64) (*common.Community, error) {
	c, ok := f.communities[communityID]
	if !ok || c.CampaignID != campaignID {
		return nil, fmt.Errorf("community %d not found", communityID)
	}
	out := *c
	return &out, nil
}

func (f *fakeStore) ChildCommunities(ctx context.Context, campaignID int64, communityID int64) ([]common.Community, error) {
	var out []common.Community
	for _, c := range f.communities {
		if c.CampaignID != campaignID || c.ParentCommunityID == nil || *c.ParentCommunityID != communityID {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) CommunityMembers(ctx context.Context, communityID int64) ([]string, error) {
	return append([]string(nil), f.members[communityID]...), nil
}

func (f *fakeStore) CommunitiesContainingEntity(ctx context.Context, campaignID int64, entityID string) ([]common.Community, error) {
	var out []common.Community
	for _, c := range f.activeCommunities(campaignID) {
		for _, member := range f.members[c.ID] {
			if member == entityID {
				out = append(out, *c)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeStore) CommunitiesContainingEntities(ctx context.Context, campaignID int64, entityIDs []string) (map[string][]common.Community, error) {
	out := map[string][]common.Community{}
	for _, id := range entityIDs {
		communities, err := f.CommunitiesContainingEntity(ctx, campaignID, id)
		if err != nil {
			return nil, err
		}
		if len(communities) > 0 {
			out[id] = communities
		}
	}
	return out, nil
}

func (f *fakeStore) UpsertCommunitySummary(ctx context.Context, summary *common.CommunitySummary) error {
	c := *summary
	c.GeneratedAt = time.Now().UTC()
	f.summaries[summary.CommunityID] = &c
	return nil
}

func (f *fakeStore) GetCommunitySummary(ctx context.Context, communityID int64) (*common.CommunitySummary, error) {
	s, ok := f.summaries[communityID]
	if !ok {
		return nil, nil
	}
	c := *s
	return &c, nil
}

func (f *fakeStore) SummariesByMembershipHash(ctx context.Context, campaignID int64) (map[string]common.CommunitySummary, error) {
	out := map[string]common.CommunitySummary{}
	for _, s := range f.summaries {
		if s.MembershipHash != "" {
			out[s.MembershipHash] = *s
		}
	}
	return out, nil
}

// Changelog.

func (f *fakeStore) AppendChangelogEntry(ctx context.Context, entry *common.ChangelogEntry) error {
	f.nextEntryID++
	f.nextSeq++
	entry.ID = f.nextEntryID
	entry.Seq = f.nextSeq
	c := *entry
	f.changelog = append(f.changelog, &c)
	return nil
}

func (f *fakeStore) ListChangelog(ctx context.Context, campaignID int64, filter store.ChangelogFilter) ([]common.ChangelogEntry, error) {
	var out []common.ChangelogEntry
	for _, e := range f.changelog {
		if e.CampaignID != campaignID {
			continue
		}
		if filter.UnappliedOnly && e.AppliedToGraph {
			continue
		}
		if filter.SessionID != nil && (e.SessionID == nil || *e.SessionID != *filter.SessionID) {
			continue
		}
		out = append(out, *e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Seq < out[j].Seq
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (f *fakeStore) MarkChangelogApplied(ctx context.Context, campaignID int64, entryIDs []int64) error {
	ids := map[int64]bool{}
	for _, id := range entryIDs {
		ids[id] = true
	}
	for _, e := range f.changelog {
		if e.CampaignID == campaignID && ids[e.ID] {
			e.AppliedToGraph = true
		}
	}
	return nil
}

func (f *fakeStore) DeleteChangelogEntries(ctx context.Context, campaignID int64, entryIDs []int64) error {
	ids := map[int64]bool{}
	for _, id := range entryIDs {
		ids[id] = true
	}
	kept := f.changelog[:0]
	for _, e := range f.changelog {
		if e.CampaignID == campaignID && ids[e.ID] {
			continue
		}
		kept = append(kept, e)
	}
	f.changelog = kept
	return nil
}

// Archive metadata.

func (f *fakeStore) InsertArchiveMetadata(ctx context.Context, meta *common.ArchiveMetadata) error {
	f.nextArch++
	meta.ID = f.nextArch
	meta.CreatedAt = time.Now().UTC()
	c := *meta
	f.archives[meta.ArchiveKey] = &c
	return nil
}

func (f *fakeStore) ListArchiveMetadata(ctx context.Context, campaignID int64, filter store.ArchiveFilter) ([]common.ArchiveMetadata, error) {
	var out []common.ArchiveMetadata
	for _, m := range f.archives {
		if m.CampaignID != campaignID {
			continue
		}
		if filter.SessionMin != nil && (m.SessionMax == nil || *m.SessionMax < *filter.SessionMin) {
			continue
		}
		if filter.SessionMax != nil && (m.SessionMin == nil || *m.SessionMin > *filter.SessionMax) {
			continue
		}
		if filter.TimestampMin != nil && m.TimestampMax.Before(*filter.TimestampMin) {
			continue
		}
		if filter.TimestampMax != nil && m.TimestampMin.After(*filter.TimestampMax) {
			continue
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) GetArchiveMetadataByKey(ctx context.Context, campaignID int64, archiveKey string) (*common.ArchiveMetadata, error) {
	m, ok := f.archives[archiveKey]
	if !ok || m.CampaignID != campaignID {
		return nil, fmt.Errorf("archive %q not found", archiveKey)
	}
	c := *m
	return &c, nil
}

// Rebuilds.

func (f *fakeStore) CreateRebuildIfNone(ctx context.Context, rebuild *common.Rebuild) (*common.Rebuild, bool, error) {
	for _, id := range f.rebuildOrder {
		existing := f.rebuilds[id]
		if existing.CampaignID == rebuild.CampaignID && !existing.Status.IsTerminal() {
			c := *existing
			return &c, false, nil
		}
	}
	rebuild.CreatedAt = time.Now().UTC()
	c := *rebuild
	f.rebuilds[rebuild.ID] = &c
	f.rebuildOrder = append(f.rebuildOrder, rebuild.ID)
	out := c
	return &out, true, nil
}

func (f *fakeStore) GetRebuild(ctx context.Context, rebuildID string) (*common.Rebuild, error) {
	r, ok := f.rebuilds[rebuildID]
	if !ok {
		return nil, fmt.Errorf("rebuild %q not found", rebuildID)
	}
	c := *r
	return &c, nil
}

func (f *fakeStore) GetActiveRebuildForCampaign(ctx context.Context, campaignID int64) (*common.Rebuild, error) {
	for _, id := range f.rebuildOrder {
		r := f.rebuilds[id]
		if r.CampaignID == campaignID && !r.Status.IsTerminal() {
			c := *r
			return &c, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) ListRebuilds(ctx context.Context, campaignID int64, limit, offset int) ([]common.Rebuild, error) {
	var out []common.Rebuild
	for i := len(f.rebuildOrder) - 1; i >= 0; i-- {
		r := f.rebuilds[f.rebuildOrder[i]]
		if r.CampaignID == campaignID {
			out = append(out, *r)
		}
	}
	if offset > len(out) {
		offset = len(out)
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) TransitionRebuild(ctx context.Context, rebuildID string, from []common.RebuildState, to common.RebuildState, errorMessage string) (bool, error) {
	r, ok := f.rebuilds[rebuildID]
	if !ok {
		return false, fmt.Errorf("rebuild %q not found", rebuildID)
	}
	allowed := false
	for _, state := range from {
		if r.Status == state {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}
	now := time.Now().UTC()
	r.Status = to
	r.ErrorMessage = errorMessage
	if to == common.RebuildInProgress && r.StartedAt == nil {
		r.StartedAt = &now
	}
	if to.IsTerminal() {
		r.CompletedAt = &now
	}
	return true, nil
}

func (f *fakeStore) SetRebuildPhase(ctx context.Context, rebuildID string, phase string) error {
	r, ok := f.rebuilds[rebuildID]
	if !ok {
		return fmt.Errorf("rebuild %q not found", rebuildID)
	}
	r.Phase = phase
	return nil
}

// fakeAI satisfies ai.CampaignAIClient with canned responses. formatFn, when
// set, handles structured-output calls; otherwise community summary requests
// are filled with a fixed summary.
type fakeAI struct {
	completion  string
	embedFn     func(input []byte) ([]float32, error)
	formatFn    func(name, prompt string, out any) error
	formatErr   error
	formatCalls int
}

func (f *fakeAI) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	return f.completion, nil
}

func (f *fakeAI) GenerateCompletionWithFormat(ctx context.Context, name, description, prompt string, out any, opts ...ai.GenerateOption) error {
	f.formatCalls++
	if f.formatErr != nil {
		return f.formatErr
	}
	if f.formatFn != nil {
		return f.formatFn(name, prompt, out)
	}
	if res, ok := out.(*communitySummaryResponse); ok {
		res.Title = "Test Community"
		res.Summary = "A closely connected group of campaign entities."
	}
	return nil
}

func (f *fakeAI) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	if f.embedFn != nil {
		return f.embedFn(input)
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (f *fakeAI) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }

// fakeBlobStore keeps archive blobs in memory.
type fakeBlobStore struct {
	objects   map[string][]byte
	uploadErr error
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: map[string][]byte{}}
}

func (f *fakeBlobStore) Upload(ctx context.Context, key string, data []byte) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.objects[key] = append([]byte(nil), data...)
	return nil
}

func (f *fakeBlobStore) Download(ctx context.Context, key string) ([]byte, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("blob %q not found", key)
	}
	return append([]byte(nil), data...), nil
}

type fakeQueue struct {
	enqueued []string
}

func (f *fakeQueue) EnqueueRebuild(ctx context.Context, rebuildID string, campaignID int64) error {
	f.enqueued = append(f.enqueued, rebuildID)
	return nil
}

// testEnv bundles an engine with its fake collaborators.
type testEnv struct {
	store  *fakeStore
	ai     *fakeAI
	blobs  *fakeBlobStore
	queue  *fakeQueue
	engine *Engine
}

func newTestEnv() *testEnv {
	env := &testEnv{
		store: newFakeStore(),
		ai:    &fakeAI{},
		blobs: newFakeBlobStore(),
		queue: &fakeQueue{},
	}
	env.engine = NewEngine(NewEngineParams{
		Store: env.store,
		AI:    env.ai,
		Blobs: env.blobs,
		Queue: env.queue,
	})
	return env
}
