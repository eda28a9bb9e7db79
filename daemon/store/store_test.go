// SPDX-License-Identifier: LGPL-3.0-or-later

package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dlcd/daemon/dlcerr"
	"dlcd/daemon/models"
)

func newStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "dlcd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordStateChange(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.RecordStateChange(models.DlcState{
		ID:            "sample-dlc",
		Status:        models.StatusInstalling,
		LastErrorKind: dlcerr.KindNone,
	}))
	require.NoError(t, s.RecordStateChange(models.DlcState{
		ID:            "sample-dlc",
		Status:        models.StatusInstalled,
		LastErrorKind: dlcerr.KindNone,
	}))

	records, err := s.History(Filter{DlcID: "sample-dlc"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	// Newest first.
	assert.Equal(t, "INSTALLED", records[0].Status)
	assert.Equal(t, "INSTALLING", records[1].Status)
}

func TestRecordOperation(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.RecordOperation("req-1", "sample-dlc", "install", "none"))
	require.NoError(t, s.RecordOperation("req-2", "sample-dlc", "uninstall", "busy"))

	records, err := s.History(Filter{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "uninstall", records[0].Operation)
	assert.Equal(t, "busy", records[0].ErrorKind)
	assert.Equal(t, "req-2", records[0].RequestID)
}

func TestHistoryFilters(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.RecordOperation("req-1", "first-dlc", "install", "none"))
	require.NoError(t, s.RecordOperation("req-2", "second-dlc", "install", "none"))
	require.NoError(t, s.RecordOperation("req-3", "second-dlc", "uninstall", "none"))

	records, err := s.History(Filter{DlcID: "second-dlc"})
	require.NoError(t, err)
	assert.Len(t, records, 2)

	records, err = s.History(Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, records, 1)

	future := time.Now().Add(time.Hour)
	records, err = s.History(Filter{Since: &future})
	require.NoError(t, err)
	assert.Empty(t, records)
}
