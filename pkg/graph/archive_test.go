package graph

import (
	"context"
	"testing"
	"time"

	"github.com/loreforge/loreforge/backend/pkg/common"
	"github.com/loreforge/loreforge/backend/pkg/store"
)

func appliedEntry(campaignID int64, sessionID int64, ts time.Time) common.ChangelogEntry {
	return common.ChangelogEntry{
		CampaignID: campaignID,
		SessionID:  &sessionID,
		Timestamp:  ts,
		Payload: common.ChangelogPayload{
			EntityUpdates: map[string]map[string]any{"e1": {"mood": "grim"}},
		},
		AppliedToGraph: true,
	}
}

func TestArchiveAppliedEntriesRoundTrip(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	base := time.Date(2026, 2, 10, 19, 0, 0, 0, time.UTC)

	var entries []common.ChangelogEntry
	for i, session := range []int64{7, 5, 9} {
		e := appliedEntry(1, session, base.Add(time.Duration(i)*time.Hour))
		if err := env.store.AppendChangelogEntry(ctx, &e); err != nil {
			t.Fatalf("append failed: %v", err)
		}
		entries = append(entries, e)
	}

	meta, err := env.engine.ArchiveAppliedEntries(ctx, 1, "rb-1", entries)
	if err != nil {
		t.Fatalf("archive failed: %v", err)
	}
	if meta.EntryCount != 3 {
		t.Fatalf("expected 3 entries recorded, got %d", meta.EntryCount)
	}
	if *meta.SessionMin != 5 || *meta.SessionMax != 9 {
		t.Fatalf("session bounds wrong: %v..%v", *meta.SessionMin, *meta.SessionMax)
	}
	if !meta.TimestampMin.Equal(base) || !meta.TimestampMax.Equal(base.Add(2*time.Hour)) {
		t.Fatalf("timestamp bounds wrong: %v..%v", meta.TimestampMin, meta.TimestampMax)
	}

	// Live rows are gone, the blob reconstructs them.
	live, err := env.store.ListChangelog(ctx, 1, store.ChangelogFilter{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(live) != 0 {
		t.Fatalf("archived rows must be deleted, got %d", len(live))
	}

	restored, err := env.engine.ReadArchive(ctx, 1, meta.ArchiveKey)
	if err != nil {
		t.Fatalf("read archive failed: %v", err)
	}
	if len(restored) != 3 {
		t.Fatalf("expected 3 restored entries, got %d", len(restored))
	}
	for i := range restored {
		if restored[i].ID != entries[i].ID {
			t.Fatalf("entry %d id mismatch: %d vs %d", i, restored[i].ID, entries[i].ID)
		}
	}
}

func TestArchiveRefusesUnappliedEntries(t *testing.T) {
	env := newTestEnv()
	e := appliedEntry(1, 3, time.Now().UTC())
	e.AppliedToGraph = false

	_, err := env.engine.ArchiveAppliedEntries(context.Background(), 1, "rb-1", []common.ChangelogEntry{e})
	if err == nil {
		t.Fatalf("unapplied entries must never be archived")
	}
}

func TestArchiveNothingToDo(t *testing.T) {
	env := newTestEnv()
	meta, err := env.engine.ArchiveAppliedEntries(context.Background(), 1, "rb-1", nil)
	if err != nil || meta != nil {
		t.Fatalf("empty input must be a no-op, got %v %v", meta, err)
	}
}

func TestArchiveWithoutBlobStore(t *testing.T) {
	env := newTestEnv()
	env.engine = NewEngine(NewEngineParams{Store: env.store, AI: env.ai})

	e := appliedEntry(1, 3, time.Now().UTC())
	_, err := env.engine.ArchiveAppliedEntries(context.Background(), 1, "rb-1", []common.ChangelogEntry{e})
	if err == nil {
		t.Fatalf("expected an error without a blob store")
	}
	if _, err := env.engine.ReadArchive(context.Background(), 1, "any"); err == nil {
		t.Fatalf("expected an error without a blob store")
	}
}

func TestReadArchiveUnknownKey(t *testing.T) {
	env := newTestEnv()
	if _, err := env.engine.ReadArchive(context.Background(), 1, "campaigns/1/changelog/missing.json"); err == nil {
		t.Fatalf("expected unknown archive key to fail")
	}
}
