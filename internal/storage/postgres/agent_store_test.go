package postgres_test

import (
	"context"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/agentindex/internal/storage"
	"github.com/scrypster/agentindex/internal/storage/postgres"
	"github.com/scrypster/agentindex/pkg/types"
)

// postgresTestDSN returns the DSN for the test database.
// If POSTGRES_TEST_DSN is not set, tests are skipped.
func postgresTestDSN(t *testing.T) string {
	t.Helper()

	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set; skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore connects to the test database, migrates it and empties it.
func newTestStore(t *testing.T) *postgres.AgentStore {
	t.Helper()

	store, err := postgres.NewAgentStore(postgresTestDSN(t))
	require.NoError(t, err, "NewAgentStore should succeed")
	require.NoError(t, store.TruncateForTest(context.Background()), "truncate tables")

	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func newTestUpsert(id uint64) *storage.AgentUpsert {
	return &storage.AgentUpsert{
		AgentID:     id,
		Owner:       "0xowner",
		Wallet:      "0xwallet",
		MetadataURI: "ipfs://cid",
		ObservedAt:  time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestUpsert_CreateUpdateAndPreserve(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	u := newTestUpsert(1)
	u.Metadata = &types.EntityMetadata{Name: "Keeper", Capabilities: []string{"recall"}}
	u.Reputation = types.NewReputationSummary(3, big.NewInt(80), 2)
	u.Tags = []string{"alpha"}

	res, err := store.Upsert(ctx, u)
	require.NoError(t, err)
	assert.True(t, res.Created)

	notes := "partner"
	require.NoError(t, store.SetRelationship(ctx, 1, types.RelationshipAlly, &notes))
	require.NoError(t, store.SetVerified(ctx, 1, true))

	partial := newTestUpsert(1)
	partial.Tags = []string{"beta"}
	res, err = store.Upsert(ctx, partial)
	require.NoError(t, err)
	assert.False(t, res.Created)

	agent, err := store.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Keeper", agent.Name)
	assert.Equal(t, []string{"recall"}, agent.Capabilities)
	assert.Equal(t, "0.80", agent.ReputationDisplay)
	assert.Equal(t, "80", agent.ReputationRaw)
	assert.Equal(t, []string{"alpha", "beta"}, agent.Tags)
	assert.Equal(t, types.RelationshipAlly, agent.Relationship)
	assert.Equal(t, "partner", agent.Notes)
	assert.True(t, agent.IsVerified)
}

func TestGet_NotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), 404)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestQuery_FilterComposition(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := newTestUpsert(1)
	a.Reputation = types.NewReputationSummary(3, big.NewInt(80), 2)
	a.Tags = []string{"alpha"}
	a.Metadata = &types.EntityMetadata{Name: "Memory Keeper", Capabilities: []string{"recall"}}
	b := newTestUpsert(2)
	b.Tags = []string{"alpha"}
	c := newTestUpsert(3)
	c.Reputation = types.NewReputationSummary(5, big.NewInt(90), 2)
	c.Tags = []string{"beta"}

	for _, u := range []*storage.AgentUpsert{a, b, c} {
		_, err := store.Upsert(ctx, u)
		require.NoError(t, err)
	}

	minRep := 0.5
	res, err := store.Query(ctx, storage.AgentFilter{MinReputation: &minRep, Tags: []string{"alpha"}})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, 1, res.Total)
	assert.Equal(t, uint64(1), res.Items[0].AgentID)

	res, err = store.Query(ctx, storage.AgentFilter{Capabilities: []string{"recall"}, Text: "keeper"})
	require.NoError(t, err)
	require.Len(t, res.Items, 1)
	assert.Equal(t, uint64(1), res.Items[0].AgentID)

	res, err = store.Query(ctx, storage.AgentFilter{SortBy: storage.SortByReputation, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.True(t, res.HasMore)
	assert.Equal(t, uint64(3), res.Items[0].AgentID)
}

func TestAddTags_NotFound(t *testing.T) {
	store := newTestStore(t)
	err := store.AddTags(context.Background(), 9, []string{"x"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestScanLogAndStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Upsert(ctx, newTestUpsert(1))
	require.NoError(t, err)

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.AppendScanLog(ctx, &types.ScanLogEntry{
			ScanType:      types.ScanTypeRange,
			EntitiesFound: i,
			CreatedAt:     base.Add(time.Duration(i) * time.Second),
		}))
	}

	history, err := store.ScanHistory(ctx, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 2, history[0].EntitiesFound)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalCached)
	require.NotNil(t, stats.LastScanAt)
	assert.True(t, base.Add(2*time.Second).Equal(*stats.LastScanAt))
}
