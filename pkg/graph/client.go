package graph

import (
	"context"

	"github.com/loreforge/loreforge/backend/pkg/ai"
	"github.com/loreforge/loreforge/backend/pkg/store"
)

// BlobStore is the archive blob backend. Archive payloads are opaque
// byte blobs addressed by key; metadata lives in CampaignStorage.
type BlobStore interface {
	Upload(ctx context.Context, key string, data []byte) error
	Download(ctx context.Context, key string) ([]byte, error)
}

// RebuildQueue delivers rebuild jobs to the worker, at-least-once.
// Enqueue is fire-and-forget from the triggering caller's perspective.
type RebuildQueue interface {
	EnqueueRebuild(ctx context.Context, rebuildID string, campaignID int64) error
}

// Engine is the campaign knowledge-graph engine. It owns entity and
// relationship lifecycle, deduplication, importance scoring, community
// clustering, the changelog overlay and rebuild orchestration.
//
// All collaborators are injected at construction; the engine holds no
// global state and is safe for concurrent use.
//
// An Engine should be created using NewEngine.
type Engine struct {
	store store.CampaignStorage
	ai    ai.CampaignAIClient
	blobs BlobStore
	queue RebuildQueue

	tokenEncoder       string
	maxUnitTokens      int
	parallelAiRequests int
	maxRetries         int

	dedupThreshold    float64
	maxTraversalDepth int
	communityLevelCap int
}

// NewEngineParams defines the configuration for creating a new Engine.
//
// Store and AI are required. Blobs may be nil, in which case archival
// operations return an error.
type NewEngineParams struct {
	Store store.CampaignStorage
	AI    ai.CampaignAIClient
	Blobs BlobStore
	// Queue may be nil; triggered rebuilds then wait for a worker poll or
	// stale-job recovery instead of an immediate enqueue.
	Queue RebuildQueue

	// TokenEncoder is the tiktoken encoding used to chunk narrative text.
	TokenEncoder string
	// MaxUnitTokens caps each extraction unit's size.
	MaxUnitTokens int
	// ParallelAiRequests controls how many extraction requests run concurrently.
	ParallelAiRequests int
	MaxRetries         int

	// DedupThreshold is the cosine similarity above which a new entity is
	// flagged as a potential duplicate.
	DedupThreshold float64
	// MaxTraversalDepth caps neighborhood queries.
	MaxTraversalDepth int
	// CommunityLevelCap caps the community hierarchy depth.
	CommunityLevelCap int
}

// NewEngine creates and returns a new Engine configured with the
// provided parameters.
//
// Example:
//
//	engine := graph.NewEngine(graph.NewEngineParams{
//		Store: storeClient,
//		AI:    aiClient,
//		Blobs: s3Client,
//	})
func NewEngine(params NewEngineParams) *Engine {
	tokenEncoder := params.TokenEncoder
	if tokenEncoder == "" {
		tokenEncoder = "o200k_base"
	}
	maxUnitTokens := params.MaxUnitTokens
	if maxUnitTokens <= 0 {
		maxUnitTokens = 1200
	}
	parallelAiRequests := params.ParallelAiRequests
	if parallelAiRequests <= 0 {
		parallelAiRequests = 25
	}
	maxRetries := params.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	dedupThreshold := params.DedupThreshold
	if dedupThreshold <= 0 {
		dedupThreshold = 0.85
	}
	maxTraversalDepth := params.MaxTraversalDepth
	if maxTraversalDepth <= 0 {
		maxTraversalDepth = 5
	}
	communityLevelCap := params.CommunityLevelCap
	if communityLevelCap <= 0 {
		communityLevelCap = 3
	}

	return &Engine{
		store: params.Store,
		ai:    params.AI,
		blobs: params.Blobs,
		queue: params.Queue,

		tokenEncoder:       tokenEncoder,
		maxUnitTokens:      maxUnitTokens,
		parallelAiRequests: parallelAiRequests,
		maxRetries:         maxRetries,

		dedupThreshold:    dedupThreshold,
		maxTraversalDepth: maxTraversalDepth,
		communityLevelCap: communityLevelCap,
	}
}
