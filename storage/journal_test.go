package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournalRecordAndRecent(t *testing.T) {
	j, err := OpenJournal(filepath.Join(t.TempDir(), "journal.db"), quietLogger())
	require.NoError(t, err)
	defer j.Close()

	j.Record(EventRunStarted, "")
	j.Record(EventLoginAttempt, "portal login")
	j.Record(EventLoginSuccess, "")

	events, err := j.Recent(2)
	require.NoError(t, err)
	require.Len(t, events, 2)

	// Newest first.
	assert.Equal(t, EventLoginSuccess, events[0].Event)
	assert.Equal(t, EventLoginAttempt, events[1].Event)
	assert.Equal(t, "portal login", events[1].Detail)
	assert.Equal(t, j.RunID(), events[0].RunID)
	assert.False(t, events[0].CreatedAt.IsZero())
}

func TestJournalCountsSince(t *testing.T) {
	j, err := OpenJournal(filepath.Join(t.TempDir(), "journal.db"), quietLogger())
	require.NoError(t, err)
	defer j.Close()

	j.Record(EventLoginAttempt, "")
	j.Record(EventLoginAttempt, "")
	j.Record(EventLoginFailure, "timeout")

	counts, err := j.CountsSince(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, counts[EventLoginAttempt])
	assert.Equal(t, 1, counts[EventLoginFailure])

	future, err := j.CountsSince(time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, future)
}

func TestJournalSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j1, err := OpenJournal(path, quietLogger())
	require.NoError(t, err)
	j1.Record(EventRunStarted, "")
	require.NoError(t, j1.Close())

	j2, err := OpenJournal(path, quietLogger())
	require.NoError(t, err)
	defer j2.Close()
	j2.Record(EventRunStarted, "")

	events, err := j2.Recent(10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	// Separate processes carry separate run IDs.
	assert.NotEqual(t, events[0].RunID, events[1].RunID)
}

func TestNilJournalIsSafe(t *testing.T) {
	var j *Journal

	assert.NotPanics(t, func() {
		j.Record(EventLoginAttempt, "no journal configured")
	})
	assert.Equal(t, "", j.RunID())
	assert.NoError(t, j.Close())
}
