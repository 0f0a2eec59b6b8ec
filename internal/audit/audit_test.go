package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/overblick/agentcore/pkg/models"
	"github.com/stretchr/testify/require"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.db")
	l, err := Open(path, "nyx")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestLog_StampsTimestampAndID(t *testing.T) {
	l := openTestLog(t)

	id, err := l.Log(context.Background(), models.AuditEntry{Action: "chat", Category: "llm_call", Success: true})
	require.NoError(t, err)
	require.NotEmpty(t, id)
}

func TestQuery_FiltersByCategoryAndTimeRange(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	_, err := l.Log(ctx, models.AuditEntry{Action: "chat", Category: "llm_call", Success: true})
	require.NoError(t, err)
	_, err = l.Log(ctx, models.AuditEntry{Action: "login", Category: "lifecycle", Success: true})
	require.NoError(t, err)

	from := time.Now().Add(-time.Minute)
	to := time.Now().Add(time.Minute)

	llmEntries, err := l.Query(from, to, "llm_call")
	require.NoError(t, err)
	require.Len(t, llmEntries, 1)
	require.Equal(t, "chat", llmEntries[0].Action)

	allEntries, err := l.Query(from, to, "")
	require.NoError(t, err)
	require.Len(t, allEntries, 2)
}

func TestQuery_ExcludesEntriesOutsideRange(t *testing.T) {
	l := openTestLog(t)
	_, err := l.Log(context.Background(), models.AuditEntry{Action: "chat", Category: "llm_call"})
	require.NoError(t, err)

	future := time.Now().Add(time.Hour)
	entries, err := l.Query(future, future.Add(time.Minute), "")
	require.NoError(t, err)
	require.Empty(t, entries)
}
