package pgx

import (
	"context"
	"fmt"
	"time"

	"github.com/loreforge/loreforge/backend/pkg/ai"
	"github.com/loreforge/loreforge/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// CampaignDBStorage implements CampaignStorage on PostgreSQL with pgvector
// for entity similarity search. Embeddings are generated through the AI
// client on entity writes; a nil client skips embedding maintenance, which
// disables similarity search but keeps every other operation working.
type CampaignDBStorage struct {
	conn     pgxIConn
	aiClient ai.CampaignAIClient
}

var _ store.CampaignStorage = (*CampaignDBStorage)(nil)

// NewCampaignDBStorageWithConnection wraps an existing connection or pool.
func NewCampaignDBStorageWithConnection(conn pgxIConn, aiClient ai.CampaignAIClient) *CampaignDBStorage {
	return &CampaignDBStorage{
		conn:     conn,
		aiClient: aiClient,
	}
}

// ConnectParams configures the connection pool. Zero values fall back to
// pool defaults sized for a single service instance.
type ConnectParams struct {
	URL             string
	MaxConnections  int32
	MaxConnLifetime time.Duration
}

// Connect opens a pgx pool against the given database URL and verifies it
// with a ping before handing it out.
func Connect(ctx context.Context, params ConnectParams) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(params.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid database URL: %v", store.ErrDatabaseConnection, err)
	}
	if params.MaxConnections > 0 {
		poolConfig.MaxConns = params.MaxConnections
	}
	if params.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = params.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrDatabaseConnection, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", store.ErrDatabaseConnection, err)
	}

	return pool, nil
}
