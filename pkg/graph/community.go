package graph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/loreforge/loreforge/backend/internal/util"
	"github.com/loreforge/loreforge/backend/pkg/ai"
	"github.com/loreforge/loreforge/backend/pkg/common"
	"github.com/loreforge/loreforge/backend/pkg/logger"
	"github.com/loreforge/loreforge/backend/pkg/store"
)

const labelPropagationMaxIterations = 20

// clusteredCommunity is one community produced by a clustering pass,
// before it is written to storage. ParentIdx indexes into the same slice
// and is -1 at the top of the hierarchy.
type clusteredCommunity struct {
	Level     int
	MemberIDs []string
	ParentIdx int
}

type communitySummaryResponse struct {
	Title       string   `json:"title" jsonschema_description:"Short title naming the community"`
	Summary     string   `json:"summary" jsonschema_description:"Encyclopedia-style summary of the community, 2-5 paragraphs"`
	KeyEntities []string `json:"key_entities" jsonschema_description:"Names of the most central entities, most central first"`
}

// RebuildCommunities clusters the campaign graph into a fresh community
// generation and writes it alongside the previous one. The caller (the
// rebuild orchestrator) flips the active-generation pointer only after the
// whole rebuild succeeds, so no partial community set is ever visible.
//
// Returns the storage ids of the new communities keyed by record index.
func (g *Engine) RebuildCommunities(
	ctx context.Context,
	campaignID int64,
	generation int64,
) (map[int]int64, []clusteredCommunity, error) {
	cg, err := g.loadCampaignGraph(ctx, campaignID)
	if err != nil {
		return nil, nil, err
	}

	clusters := clusterHierarchy(cg, g.communityLevelCap)
	if len(clusters) == 0 {
		return map[int]int64{}, nil, nil
	}

	records := make([]store.CommunityRecord, 0, len(clusters))
	for _, c := range clusters {
		records = append(records, store.CommunityRecord{
			Community: common.Community{
				CampaignID: campaignID,
				Level:      c.Level,
				Generation: generation,
			},
			MemberIDs: c.MemberIDs,
			ParentIdx: c.ParentIdx,
		})
	}

	ids, err := g.store.InsertCommunityGeneration(ctx, campaignID, generation, records)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to write community generation: %w", err)
	}

	logger.Info("[Community] Generation written",
		"campaign_id", campaignID,
		"generation", generation,
		"communities", len(clusters),
	)
	return ids, clusters, nil
}

// RegenerateSummaries produces summaries for a freshly written community
// generation. Communities whose membership hash matches an existing
// summary reuse it; only changed communities hit the summarization
// collaborator.
func (g *Engine) RegenerateSummaries(
	ctx context.Context,
	campaignID int64,
	communityIDs map[int]int64,
	clusters []clusteredCommunity,
) error {
	if len(clusters) == 0 {
		return nil
	}

	existing, err := g.store.SummariesByMembershipHash(ctx, campaignID)
	if err != nil {
		return err
	}

	reused, generated := 0, 0
	for idx, cluster := range clusters {
		communityID, ok := communityIDs[idx]
		if !ok {
			continue
		}
		hash := MembershipHash(cluster.MemberIDs)

		if prev, ok := existing[hash]; ok {
			prev.CommunityID = communityID
			if err := g.store.UpsertCommunitySummary(ctx, &prev); err != nil {
				return fmt.Errorf("failed to carry forward community summary: %w", err)
			}
			reused++
			continue
		}

		summary, err := g.summarizeCommunity(ctx, campaignID, communityID, cluster.MemberIDs)
		if err != nil {
			return err
		}
		summary.MembershipHash = hash
		if err := g.store.UpsertCommunitySummary(ctx, summary); err != nil {
			return fmt.Errorf("failed to save community summary: %w", err)
		}
		generated++
	}

	logger.Info("[Community] Summaries regenerated",
		"campaign_id", campaignID,
		"generated", generated,
		"reused", reused,
	)
	return nil
}

// MembershipHash identifies a community's exact member set, independent of
// member order.
func MembershipHash(memberIDs []string) string {
	sorted := make([]string, len(memberIDs))
	copy(sorted, memberIDs)
	sort.Strings(sorted)

	sum := sha256.Sum256([]byte(strings.Join(sorted, "\n")))
	return hex.EncodeToString(sum[:])
}

func (g *Engine) summarizeCommunity(
	ctx context.Context,
	campaignID int64,
	communityID int64,
	memberIDs []string,
) (*common.CommunitySummary, error) {
	var memberRoster strings.Builder
	nameToID := make(map[string]string, len(memberIDs))
	members := make(map[string]bool, len(memberIDs))
	for _, id := range memberIDs {
		members[id] = true
		entity, err := g.store.GetEntity(ctx, campaignID, id)
		if err != nil {
			continue
		}
		nameToID[entity.Name] = entity.ID
		fmt.Fprintf(&memberRoster, "- %s (%s)\n", entity.Name, entity.EntityType)
	}

	var relationRoster strings.Builder
	edges, err := g.store.OutgoingRelationships(ctx, campaignID, memberIDs, "")
	if err != nil {
		return nil, err
	}
	for _, edge := range edges {
		if !members[edge.ToEntityID] {
			continue
		}
		fmt.Fprintf(&relationRoster, "- %s -[%s]-> %s\n", edge.FromEntityID, edge.RelationshipType, edge.ToEntityID)
	}

	prompt := fmt.Sprintf(ai.SummaryPrompt, memberRoster.String(), relationRoster.String())

	var res communitySummaryResponse
	err = util.RetryErrWithContext(ctx, g.maxRetries, func(ctx context.Context) error {
		return g.ai.GenerateCompletionWithFormat(
			ctx,
			"summarize_community",
			"Summarize a community of connected campaign entities.",
			prompt,
			&res,
		)
	})
	if err != nil {
		return nil, fmt.Errorf("summary generation failed: %w", err)
	}

	keyIDs := make([]string, 0, len(res.KeyEntities))
	for _, name := range res.KeyEntities {
		if id, ok := nameToID[name]; ok {
			keyIDs = append(keyIDs, id)
		}
	}

	return &common.CommunitySummary{
		CommunityID:  communityID,
		Title:        res.Title,
		SummaryText:  res.Summary,
		KeyEntityIDs: keyIDs,
	}, nil
}

// ListCommunities lists the active generation's communities, optionally at
// one level.
func (g *Engine) ListCommunities(ctx context.Context, campaignID int64, level *int) ([]common.Community, error) {
	return g.store.ListCommunities(ctx, campaignID, level)
}

// ChildrenOf returns a community's direct children one level down.
func (g *Engine) ChildrenOf(ctx context.Context, campaignID int64, communityID int64) ([]common.Community, error) {
	return g.store.ChildCommunities(ctx, campaignID, communityID)
}

// ContainingEntity returns every active community the entity belongs to,
// one per level.
func (g *Engine) ContainingEntity(ctx context.Context, campaignID int64, entityID string) ([]common.Community, error) {
	return g.store.CommunitiesContainingEntity(ctx, campaignID, entityID)
}

// ContainingEntities is the batch form of ContainingEntity.
func (g *Engine) ContainingEntities(ctx context.Context, campaignID int64, entityIDs []string) (map[string][]common.Community, error) {
	return g.store.CommunitiesContainingEntities(ctx, campaignID, entityIDs)
}

// CommunityDetail is one community with its member set and, when one has
// been generated, its summary.
type CommunityDetail struct {
	Community common.Community         `json:"community"`
	MemberIDs []string                 `json:"member_ids"`
	Summary   *common.CommunitySummary `json:"summary,omitempty"`
}

// GetCommunityDetail fetches one community with members and summary. A
// community without a summary yields a nil Summary, not an error.
func (g *Engine) GetCommunityDetail(ctx context.Context, campaignID int64, communityID int64) (*CommunityDetail, error) {
	community, err := g.store.GetCommunity(ctx, campaignID, communityID)
	if err != nil {
		return nil, err
	}
	members, err := g.store.CommunityMembers(ctx, communityID)
	if err != nil {
		return nil, err
	}
	summary, err := g.store.GetCommunitySummary(ctx, communityID)
	if err != nil {
		return nil, err
	}
	return &CommunityDetail{
		Community: *community,
		MemberIDs: members,
		Summary:   summary,
	}, nil
}

// AncestorsOf walks parent links to the root. The hierarchy is constructed
// acyclic, so the walk is bounded by tree depth.
func (g *Engine) AncestorsOf(ctx context.Context, campaignID int64, communityID int64) ([]common.Community, error) {
	var ancestors []common.Community
	current, err := g.store.GetCommunity(ctx, campaignID, communityID)
	if err != nil {
		return nil, err
	}

	for current.ParentCommunityID != nil {
		parent, err := g.store.GetCommunity(ctx, campaignID, *current.ParentCommunityID)
		if err != nil {
			return nil, err
		}
		ancestors = append(ancestors, *parent)
		current = parent
	}
	return ancestors, nil
}

// DescendantsOf walks child links downward, breadth-first.
func (g *Engine) DescendantsOf(ctx context.Context, campaignID int64, communityID int64) ([]common.Community, error) {
	var descendants []common.Community
	frontier := []int64{communityID}

	for len(frontier) > 0 {
		var next []int64
		for _, id := range frontier {
			children, err := g.store.ChildCommunities(ctx, campaignID, id)
			if err != nil {
				return nil, err
			}
			for _, child := range children {
				descendants = append(descendants, child)
				next = append(next, child.ID)
			}
		}
		frontier = next
	}
	return descendants, nil
}

// clusterHierarchy partitions the graph with label propagation at level 0,
// then recursively clusters communities-of-communities until no further
// coarsening happens or the level cap is reached.
func clusterHierarchy(cg *campaignGraph, levelCap int) []clusteredCommunity {
	if len(cg.nodes) == 0 {
		return nil
	}

	// Undirected adjacency for clustering; edge direction carries meaning
	// for traversal but not for cohesion.
	adjacency := make([][]int, len(cg.nodes))
	for from, targets := range cg.out {
		for _, to := range targets {
			adjacency[from] = append(adjacency[from], to)
			adjacency[to] = append(adjacency[to], from)
		}
	}

	basePartition := labelPropagation(len(cg.nodes), adjacency)

	var out []clusteredCommunity
	levelStart := 0
	for _, group := range basePartition {
		members := make([]string, 0, len(group))
		for _, idx := range group {
			members = append(members, cg.nodes[idx])
		}
		sort.Strings(members)
		out = append(out, clusteredCommunity{Level: 0, MemberIDs: members, ParentIdx: -1})
	}

	// Coarsen: nodes of level L+1's graph are level L's communities.
	nodeToCluster := make([]int, len(cg.nodes))
	for clusterIdx, group := range basePartition {
		for _, idx := range group {
			nodeToCluster[idx] = clusterIdx
		}
	}

	levelCount := len(basePartition)
	for level := 1; level <= levelCap && levelCount > 1; level++ {
		coarse := make([][]int, levelCount)
		seen := make(map[[2]int]bool)
		for from, targets := range cg.out {
			for _, to := range targets {
				a, b := nodeToCluster[from], nodeToCluster[to]
				if a == b {
					continue
				}
				key := [2]int{a, b}
				if seen[key] {
					continue
				}
				seen[key] = true
				coarse[a] = append(coarse[a], b)
				coarse[b] = append(coarse[b], a)
			}
		}

		partition := labelPropagation(levelCount, coarse)
		if len(partition) >= levelCount {
			break
		}

		prevLevelStart := levelStart
		levelStart = len(out)
		clusterOfPrev := make([]int, levelCount)
		for clusterIdx, group := range partition {
			memberSet := make(map[string]bool)
			for _, prevIdx := range group {
				clusterOfPrev[prevIdx] = clusterIdx
				for _, m := range out[prevLevelStart+prevIdx].MemberIDs {
					memberSet[m] = true
				}
			}
			members := make([]string, 0, len(memberSet))
			for m := range memberSet {
				members = append(members, m)
			}
			sort.Strings(members)
			out = append(out, clusteredCommunity{Level: level, MemberIDs: members, ParentIdx: -1})
		}

		// Parent links point one level up.
		for prevIdx := 0; prevIdx < levelCount; prevIdx++ {
			out[prevLevelStart+prevIdx].ParentIdx = levelStart + clusterOfPrev[prevIdx]
		}

		for i := range nodeToCluster {
			nodeToCluster[i] = clusterOfPrev[nodeToCluster[i]]
		}
		levelCount = len(partition)
	}

	return out
}

// labelPropagation assigns every node the most frequent label among its
// neighbors, iterating in sorted node order until stable. Ties resolve to
// the smallest label so repeated runs over the same graph agree.
func labelPropagation(n int, adjacency [][]int) [][]int {
	labels := make([]int, n)
	for i := range labels {
		labels[i] = i
	}

	for iter := 0; iter < labelPropagationMaxIterations; iter++ {
		changed := false
		for node := 0; node < n; node++ {
			if len(adjacency[node]) == 0 {
				continue
			}
			counts := make(map[int]int)
			for _, neighbor := range adjacency[node] {
				counts[labels[neighbor]]++
			}
			best := labels[node]
			bestCount := counts[best]
			for label, count := range counts {
				if count > bestCount || (count == bestCount && label < best) {
					best = label
					bestCount = count
				}
			}
			if best != labels[node] {
				labels[node] = best
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	groups := make(map[int][]int)
	for node, label := range labels {
		groups[label] = append(groups[label], node)
	}

	labelsSorted := make([]int, 0, len(groups))
	for label := range groups {
		labelsSorted = append(labelsSorted, label)
	}
	sort.Ints(labelsSorted)

	out := make([][]int, 0, len(groups))
	for _, label := range labelsSorted {
		out = append(out, groups[label])
	}
	return out
}
