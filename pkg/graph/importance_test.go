package graph

import (
	"context"
	"math"
	"testing"

	"github.com/loreforge/loreforge/backend/pkg/common"
	"github.com/loreforge/loreforge/backend/pkg/store"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func starGraph() *campaignGraph {
	// a, c, d all point at hub b.
	cg := &campaignGraph{
		nodes: []string{"a", "b", "c", "d"},
		index: map[string]int{"a": 0, "b": 1, "c": 2, "d": 3},
	}
	cg.out = [][]int{{1}, {}, {1}, {1}}
	return cg
}

func TestComputePagerankFavorsHub(t *testing.T) {
	rank := computePagerank(starGraph())

	sum := 0.0
	for _, r := range rank {
		sum += r
	}
	if !almostEqual(sum, 1.0) {
		t.Fatalf("pagerank mass must sum to 1, got %v", sum)
	}
	for i, r := range rank {
		if i != 1 && r >= rank[1] {
			t.Fatalf("hub must outrank spokes: %v", rank)
		}
	}
	if !almostEqual(rank[0], rank[2]) || !almostEqual(rank[0], rank[3]) {
		t.Fatalf("symmetric spokes must score equally: %v", rank)
	}
}

func TestSampledBetweennessBridgeNode(t *testing.T) {
	// Path a -> b -> c: all shortest paths through b.
	cg := &campaignGraph{
		nodes: []string{"a", "b", "c"},
		index: map[string]int{"a": 0, "b": 1, "c": 2},
		out:   [][]int{{1}, {2}, {}},
	}
	bc := computeSampledBetweenness(cg)
	if bc[1] <= 0 {
		t.Fatalf("bridge node must have positive betweenness: %v", bc)
	}
	if bc[0] != 0 || bc[2] != 0 {
		t.Fatalf("endpoints carry no betweenness: %v", bc)
	}
}

func TestSampledBetweennessTinyGraph(t *testing.T) {
	cg := &campaignGraph{
		nodes: []string{"a", "b"},
		index: map[string]int{"a": 0, "b": 1},
		out:   [][]int{{1}, {}},
	}
	for _, v := range computeSampledBetweenness(cg) {
		if v != 0 {
			t.Fatalf("graphs under 3 nodes have no betweenness")
		}
	}
}

func TestSampleSourcesDeterministic(t *testing.T) {
	small := sampleSources(10, 64)
	if len(small) != 10 {
		t.Fatalf("expected all nodes when under the limit, got %d", len(small))
	}

	sampled := sampleSources(1000, 64)
	if len(sampled) != 64 {
		t.Fatalf("expected the sample limit, got %d", len(sampled))
	}
	for i := 1; i < len(sampled); i++ {
		if sampled[i] <= sampled[i-1] {
			t.Fatalf("sources must be strictly increasing: %v", sampled)
		}
	}

	again := sampleSources(1000, 64)
	for i := range sampled {
		if sampled[i] != again[i] {
			t.Fatalf("sampling must be stable across runs")
		}
	}
}

func TestRecomputeImportanceWeightsAndNormalization(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	env.store.addEntity(1, "a", "Alpha", "character")
	env.store.addEntity(1, "b", "Bravo", "character")
	env.store.addEntity(1, "c", "Charlie", "character")
	env.store.addEdge(1, "a", "b", RelKnows)
	env.store.addEdge(1, "c", "b", RelKnows)

	// b sits in a level-1 community; levelCap is 3.
	_, err := env.store.InsertCommunityGeneration(ctx, 1, 1, []store.CommunityRecord{
		{Community: common.Community{CampaignID: 1, Level: 0, Generation: 1}, MemberIDs: []string{"a", "b", "c"}, ParentIdx: 1},
		{Community: common.Community{CampaignID: 1, Level: 1, Generation: 1}, MemberIDs: []string{"b"}, ParentIdx: -1},
	})
	if err != nil {
		t.Fatalf("insert generation failed: %v", err)
	}
	if err := env.store.SetActiveCommunityGeneration(ctx, 1, 1); err != nil {
		t.Fatalf("set active generation failed: %v", err)
	}

	if err := env.engine.RecomputeImportance(ctx, 1, nil); err != nil {
		t.Fatalf("recompute failed: %v", err)
	}

	impB, err := env.store.GetImportance(ctx, 1, "b")
	if err != nil || impB == nil {
		t.Fatalf("importance for b missing: %v", err)
	}
	// b has the max pagerank (prNorm 1), no betweenness on a 3-node
	// two-edge graph with no through-paths, and hierarchy level 1 of 3.
	want := importanceWeightPagerank*1.0 + importanceWeightHierarchy*(1.0/3.0)
	if !almostEqual(impB.ImportanceScore, want) {
		t.Fatalf("expected score %v, got %v", want, impB.ImportanceScore)
	}
	if impB.HierarchyLevel != 1 {
		t.Fatalf("expected deepest containing level 1, got %d", impB.HierarchyLevel)
	}

	impA, err := env.store.GetImportance(ctx, 1, "a")
	if err != nil || impA == nil {
		t.Fatalf("importance for a missing: %v", err)
	}
	if impA.ImportanceScore >= impB.ImportanceScore {
		t.Fatalf("hub must outscore spoke: a=%v b=%v", impA.ImportanceScore, impB.ImportanceScore)
	}
}

func TestRecomputeImportanceRestrictToBoundsWrites(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.store.addEntity(1, "a", "Alpha", "character")
	env.store.addEntity(1, "b", "Bravo", "character")
	env.store.addEdge(1, "a", "b", RelKnows)

	if err := env.engine.RecomputeImportance(ctx, 1, []string{"a"}); err != nil {
		t.Fatalf("recompute failed: %v", err)
	}

	if imp, _ := env.store.GetImportance(ctx, 1, "a"); imp == nil {
		t.Fatalf("restricted entity must be written")
	}
	if imp, _ := env.store.GetImportance(ctx, 1, "b"); imp != nil {
		t.Fatalf("unrestricted entity must not be written")
	}
}

func TestCalculateCombinedImportanceUsesCache(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	env.store.addEntity(1, "a", "Alpha", "character")

	cached := &common.EntityImportance{EntityID: "a", CampaignID: 1, ImportanceScore: 0.42}
	if err := env.store.UpsertImportance(ctx, cached); err != nil {
		t.Fatalf("seed importance failed: %v", err)
	}

	imp, err := env.engine.CalculateCombinedImportance(ctx, 1, "a", false)
	if err != nil {
		t.Fatalf("calculate failed: %v", err)
	}
	if imp.ImportanceScore != 0.42 {
		t.Fatalf("expected cached score, got %v", imp.ImportanceScore)
	}

	imp, err = env.engine.CalculateCombinedImportance(ctx, 1, "a", true)
	if err != nil {
		t.Fatalf("forced recompute failed: %v", err)
	}
	if imp.ImportanceScore == 0.42 {
		t.Fatalf("forced recompute must replace the cached score")
	}
}

func TestCalculateCombinedImportanceUnknownEntity(t *testing.T) {
	env := newTestEnv()
	env.store.addEntity(1, "a", "Alpha", "character")

	_, err := env.engine.CalculateCombinedImportance(context.Background(), 1, "ghost", false)
	if err == nil {
		t.Fatalf("expected error for entity absent from the graph")
	}
}

func TestDisplayImportanceOverrideBands(t *testing.T) {
	cases := map[string]float64{
		"high":   OverrideScoreHigh,
		"medium": OverrideScoreMedium,
		"low":    OverrideScoreLow,
		"":       0.47,
	}
	for override, want := range cases {
		e := &common.Entity{ImportanceOverride: override}
		if got := DisplayImportance(e, 0.47); got != want {
			t.Fatalf("DisplayImportance(%q) = %v, want %v", override, got, want)
		}
	}
}

func TestTopImportanceOrderingAndFloor(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	for id, score := range map[string]float64{"a": 0.9, "b": 0.5, "c": 0.1} {
		err := env.store.UpsertImportance(ctx, &common.EntityImportance{EntityID: id, CampaignID: 1, ImportanceScore: score})
		if err != nil {
			t.Fatalf("seed importance failed: %v", err)
		}
	}

	top, err := env.engine.TopImportance(ctx, 1, 0.3, 10, 0)
	if err != nil {
		t.Fatalf("top importance failed: %v", err)
	}
	if len(top) != 2 || top[0].EntityID != "a" || top[1].EntityID != "b" {
		t.Fatalf("unexpected ranking: %+v", top)
	}
}
