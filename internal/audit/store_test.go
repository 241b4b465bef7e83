package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "audit.db"), opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndQuery(t *testing.T) {
	s := openTestStore(t, Options{})

	s.Record(LevelInfo, "batch_execute", "3 hosts", "operator")
	s.Record(LevelError, "batch_host_error", "10.0.0.2 refused", "")
	s.Record(LevelInfo, "batch_complete", "2/3 succeeded", "operator")

	records, err := s.Records(context.Background(), Query{})
	require.NoError(t, err)
	require.Len(t, records, 3)

	byAction, err := s.Records(context.Background(), Query{Action: "batch_host_error"})
	require.NoError(t, err)
	require.Len(t, byAction, 1)
	require.Equal(t, LevelError, byAction[0].Level)

	limited, err := s.Records(context.Background(), Query{Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)
}

func TestMinLevelFiltering(t *testing.T) {
	s := openTestStore(t, Options{MinLevel: LevelWarn})

	s.Record(LevelDebug, "noise", "", "")
	s.Record(LevelInfo, "noise", "", "")
	s.Record(LevelWarn, "warning", "", "")
	s.Record(LevelError, "failure", "", "")

	records, err := s.Records(context.Background(), Query{})
	require.NoError(t, err)
	require.Len(t, records, 2)
}

func TestDetailsAreRedacted(t *testing.T) {
	s := openTestStore(t, Options{})

	s.Record(LevelInfo, "execute_command", "connect with password=hunter2", "")

	records, err := s.Records(context.Background(), Query{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NotContains(t, records[0].Details, "hunter2")
}

func TestClear(t *testing.T) {
	s := openTestStore(t, Options{})
	s.Record(LevelInfo, "a", "", "")
	require.NoError(t, s.Clear())

	records, err := s.Records(context.Background(), Query{})
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestSweepDropsOldRecords(t *testing.T) {
	s := openTestStore(t, Options{})
	s.Record(LevelInfo, "recent", "", "")

	// Backdate a record past the retention window.
	_, err := s.db.Exec(
		`INSERT INTO audit_log (id, timestamp, level, action, details, user) VALUES ('old', ?, 'INFO', 'ancient', '', '')`,
		time.Now().UTC().Add(-48*time.Hour).Format(time.RFC3339Nano),
	)
	require.NoError(t, err)

	s.Sweep(24 * time.Hour)

	records, err := s.Records(context.Background(), Query{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "recent", records[0].Action)
}

func TestNopRecorder(t *testing.T) {
	// Must simply not panic.
	Nop{}.Record(LevelInfo, "anything", "details", "user")
}
