package graph

import (
	"context"
	"fmt"

	"github.com/loreforge/loreforge/backend/pkg/common"
	"github.com/loreforge/loreforge/backend/pkg/logger"
	"github.com/loreforge/loreforge/backend/pkg/store"
)

const (
	pagerankDamping    = 0.85
	pagerankIterations = 50
	pagerankEpsilon    = 1e-6

	// betweennessSampleSize bounds the Brandes source set; exact
	// betweenness is quadratic and campaigns routinely hold thousands of
	// entities.
	betweennessSampleSize = 64

	importanceWeightPagerank    = 0.5
	importanceWeightBetweenness = 0.3
	importanceWeightHierarchy   = 0.2
)

// Override bands. The computed score is retained alongside the override so
// the override can be audited and reversed.
const (
	OverrideScoreHigh   = 0.9
	OverrideScoreMedium = 0.6
	OverrideScoreLow    = 0.3
)

// campaignGraph is the in-memory adjacency view importance scoring runs
// over: approved and staging entities, forward edges.
type campaignGraph struct {
	nodes []string
	index map[string]int
	out   [][]int
}

// CalculateCombinedImportance returns the entity's importance record,
// computing it when forceRecalculate is set or no cached row exists.
// Computation is campaign-global (centrality is meaningless per-node) and
// caches every entity's score as a side effect.
func (g *Engine) CalculateCombinedImportance(
	ctx context.Context,
	campaignID int64,
	entityID string,
	forceRecalculate bool,
) (*common.EntityImportance, error) {
	if !forceRecalculate {
		cached, err := g.store.GetImportance(ctx, campaignID, entityID)
		if err != nil {
			return nil, err
		}
		if cached != nil {
			return cached, nil
		}
	}

	if err := g.RecomputeImportance(ctx, campaignID, nil); err != nil {
		return nil, err
	}

	imp, err := g.store.GetImportance(ctx, campaignID, entityID)
	if err != nil {
		return nil, err
	}
	if imp == nil {
		return nil, &ImportanceCalculationError{
			EntityID: entityID,
			Err:      fmt.Errorf("entity absent from campaign graph"),
		}
	}
	return imp, nil
}

// RecomputeImportance recomputes and caches importance for the campaign.
// When restrictTo is non-empty only those entities' rows are upserted,
// which is how partial rebuilds bound their write volume; the underlying
// centrality pass still runs over the whole graph.
func (g *Engine) RecomputeImportance(ctx context.Context, campaignID int64, restrictTo []string) error {
	cg, err := g.loadCampaignGraph(ctx, campaignID)
	if err != nil {
		return &ImportanceCalculationError{Err: err}
	}
	if len(cg.nodes) == 0 {
		return nil
	}

	pagerank := computePagerank(cg)
	betweenness := computeSampledBetweenness(cg)

	levels, err := g.hierarchyLevels(ctx, campaignID, cg.nodes)
	if err != nil {
		return &ImportanceCalculationError{Err: err}
	}

	prMax := maxValue(pagerank)
	bcMax := maxValue(betweenness)

	restrict := map[string]bool{}
	for _, id := range restrictTo {
		restrict[id] = true
	}

	written := 0
	for i, id := range cg.nodes {
		if len(restrict) > 0 && !restrict[id] {
			continue
		}

		prNorm := 0.0
		if prMax > 0 {
			prNorm = pagerank[i] / prMax
		}
		bcNorm := 0.0
		if bcMax > 0 {
			bcNorm = betweenness[i] / bcMax
		}
		level := levels[id]
		levelSignal := float64(level) / float64(g.communityLevelCap)
		if levelSignal > 1 {
			levelSignal = 1
		}

		score := importanceWeightPagerank*prNorm +
			importanceWeightBetweenness*bcNorm +
			importanceWeightHierarchy*levelSignal

		err := g.store.UpsertImportance(ctx, &common.EntityImportance{
			EntityID:              id,
			CampaignID:            campaignID,
			PageRank:              pagerank[i],
			BetweennessCentrality: betweenness[i],
			HierarchyLevel:        level,
			ImportanceScore:       score,
		})
		if err != nil {
			return &ImportanceCalculationError{EntityID: id, Err: err}
		}
		written++
	}

	logger.Info("[Importance] Scores recomputed",
		"campaign_id", campaignID,
		"entities", len(cg.nodes),
		"written", written,
	)
	return nil
}

// DisplayImportance is the score shown to callers: the override band when
// an override is set, the computed score otherwise.
func DisplayImportance(entity *common.Entity, computed float64) float64 {
	switch entity.ImportanceOverride {
	case "high":
		return OverrideScoreHigh
	case "medium":
		return OverrideScoreMedium
	case "low":
		return OverrideScoreLow
	default:
		return computed
	}
}

// TopImportance returns the campaign's highest-scoring entities, filtered
// by a minimum score, with pagination.
func (g *Engine) TopImportance(ctx context.Context, campaignID int64, minScore float64, limit, offset int) ([]common.EntityImportance, error) {
	if limit <= 0 {
		limit = 20
	}
	return g.store.TopImportance(ctx, campaignID, minScore, limit, offset)
}

func (g *Engine) loadCampaignGraph(ctx context.Context, campaignID int64) (*campaignGraph, error) {
	entities, err := g.listGraphEntities(ctx, campaignID)
	if err != nil {
		return nil, err
	}

	cg := &campaignGraph{
		nodes: make([]string, 0, len(entities)),
		index: make(map[string]int, len(entities)),
	}
	for _, e := range entities {
		cg.index[e.ID] = len(cg.nodes)
		cg.nodes = append(cg.nodes, e.ID)
	}
	cg.out = make([][]int, len(cg.nodes))

	relations, err := g.store.ListRelationships(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	for _, rel := range relations {
		from, okF := cg.index[rel.FromEntityID]
		to, okT := cg.index[rel.ToEntityID]
		if !okF || !okT || from == to {
			continue
		}
		cg.out[from] = append(cg.out[from], to)
	}

	return cg, nil
}

// listGraphEntities pages through the campaign's visible entities. Stubs
// and rejected/deleted entities carry no structural weight.
func (g *Engine) listGraphEntities(ctx context.Context, campaignID int64) ([]common.Entity, error) {
	const pageSize = 500
	var all []common.Entity
	for offset := 0; ; offset += pageSize {
		page, err := g.store.ListEntities(ctx, campaignID, listPageFilter(pageSize, offset))
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < pageSize {
			return all, nil
		}
	}
}

func computePagerank(cg *campaignGraph) []float64 {
	n := len(cg.nodes)
	rank := make([]float64, n)
	next := make([]float64, n)
	for i := range rank {
		rank[i] = 1.0 / float64(n)
	}

	for iter := 0; iter < pagerankIterations; iter++ {
		base := (1.0 - pagerankDamping) / float64(n)
		for i := range next {
			next[i] = base
		}

		// Dangling mass is redistributed uniformly.
		dangling := 0.0
		for i := range cg.nodes {
			if len(cg.out[i]) == 0 {
				dangling += rank[i]
			}
		}
		danglingShare := pagerankDamping * dangling / float64(n)
		for i := range next {
			next[i] += danglingShare
		}

		for i := range cg.nodes {
			if len(cg.out[i]) == 0 {
				continue
			}
			share := pagerankDamping * rank[i] / float64(len(cg.out[i]))
			for _, j := range cg.out[i] {
				next[j] += share
			}
		}

		delta := 0.0
		for i := range rank {
			d := next[i] - rank[i]
			if d < 0 {
				d = -d
			}
			delta += d
		}
		rank, next = next, rank
		if delta < pagerankEpsilon {
			break
		}
	}
	return rank
}

// computeSampledBetweenness runs Brandes' accumulation from a bounded,
// deterministic sample of source nodes over unweighted forward edges.
func computeSampledBetweenness(cg *campaignGraph) []float64 {
	n := len(cg.nodes)
	bc := make([]float64, n)
	if n < 3 {
		return bc
	}

	sources := sampleSources(n, betweennessSampleSize)

	sigma := make([]float64, n)
	dist := make([]int, n)
	delta := make([]float64, n)
	preds := make([][]int, n)

	for _, s := range sources {
		for i := 0; i < n; i++ {
			sigma[i] = 0
			dist[i] = -1
			delta[i] = 0
			preds[i] = preds[i][:0]
		}
		sigma[s] = 1
		dist[s] = 0

		stack := make([]int, 0, n)
		queue := []int{s}
		for len(queue) > 0 {
			v := queue[0]
			queue = queue[1:]
			stack = append(stack, v)
			for _, w := range cg.out[v] {
				if dist[w] < 0 {
					dist[w] = dist[v] + 1
					queue = append(queue, w)
				}
				if dist[w] == dist[v]+1 {
					sigma[w] += sigma[v]
					preds[w] = append(preds[w], v)
				}
			}
		}

		for i := len(stack) - 1; i >= 0; i-- {
			w := stack[i]
			for _, v := range preds[w] {
				delta[v] += sigma[v] / sigma[w] * (1 + delta[w])
			}
			if w != s {
				bc[w] += delta[w]
			}
		}
	}

	// Scale up to compensate for sampling.
	if len(sources) < n {
		scale := float64(n) / float64(len(sources))
		for i := range bc {
			bc[i] *= scale
		}
	}
	return bc
}

// sampleSources picks an evenly strided subset so repeated recomputes over
// an unchanged graph are stable.
func sampleSources(n, limit int) []int {
	if n <= limit {
		out := make([]int, n)
		for i := range out {
			out[i] = i
		}
		return out
	}
	out := make([]int, 0, limit)
	stride := float64(n) / float64(limit)
	for i := 0; i < limit; i++ {
		out = append(out, int(float64(i)*stride))
	}
	return out
}

func (g *Engine) hierarchyLevels(ctx context.Context, campaignID int64, entityIDs []string) (map[string]int, error) {
	byEntity, err := g.store.CommunitiesContainingEntities(ctx, campaignID, entityIDs)
	if err != nil {
		return nil, err
	}

	levels := make(map[string]int, len(entityIDs))
	for id, communities := range byEntity {
		deepest := 0
		for _, c := range communities {
			if c.Level > deepest {
				deepest = c.Level
			}
		}
		levels[id] = deepest
	}
	return levels, nil
}

func maxValue(values []float64) float64 {
	out := 0.0
	for _, v := range values {
		if v > out {
			out = v
		}
	}
	return out
}

func listPageFilter(limit, offset int) store.EntityFilter {
	return store.EntityFilter{Limit: limit, Offset: offset}
}
