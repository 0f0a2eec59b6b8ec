package engagement

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/overblick/agentcore/pkg/models"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "engagement.db"), "nyx")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRecordThenHasEngaged(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id, err := db.Record(ctx, models.Engagement{
		Platform: "discord",
		ItemID:   "msg-123",
		Kind:     "reply",
		UserID:   "user-9",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	engaged, err := db.HasEngaged(ctx, "discord", "msg-123")
	require.NoError(t, err)
	require.True(t, engaged)

	engaged, err = db.HasEngaged(ctx, "discord", "msg-999")
	require.NoError(t, err)
	require.False(t, engaged)

	// Same item ID on a different platform is a different item.
	engaged, err = db.HasEngaged(ctx, "irc", "msg-123")
	require.NoError(t, err)
	require.False(t, engaged)
}

func TestRecordStampsIdentityAndTimestamp(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.Record(ctx, models.Engagement{Platform: "irc", ItemID: "line-1", Kind: "reply"})
	require.NoError(t, err)

	recent, err := db.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, "nyx", recent[0].Identity)
	require.False(t, recent[0].Timestamp.IsZero())
	require.NotEmpty(t, recent[0].ID)
}

func TestRecentReturnsNewestFirst(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for _, item := range []string{"a", "b", "c"} {
		_, err := db.Record(ctx, models.Engagement{Platform: "discord", ItemID: item, Kind: "reply"})
		require.NoError(t, err)
	}

	recent, err := db.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, "c", recent[0].ItemID)
	require.Equal(t, "b", recent[1].ItemID)

	all, err := db.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, all, 3)

	none, err := db.Recent(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestCount(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	n, err := db.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	for i := 0; i < 5; i++ {
		_, err := db.Record(ctx, models.Engagement{Platform: "discord", ItemID: string(rune('a' + i)), Kind: "post"})
		require.NoError(t, err)
	}

	n, err = db.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 5, n)
}

func TestSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engagement.db")
	ctx := context.Background()

	db, err := Open(path, "nyx")
	require.NoError(t, err)
	_, err = db.Record(ctx, models.Engagement{Platform: "discord", ItemID: "msg-1", Kind: "reply"})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(path, "nyx")
	require.NoError(t, err)
	defer db.Close()

	engaged, err := db.HasEngaged(ctx, "discord", "msg-1")
	require.NoError(t, err)
	require.True(t, engaged)
}
