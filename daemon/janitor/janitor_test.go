// SPDX-License-Identifier: LGPL-3.0-or-later

package janitor

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dlcd/logger"
)

type countingSweeper struct {
	count atomic.Int64
}

func (s *countingSweeper) CleanupUnsupported() {
	s.count.Add(1)
}

func TestJanitorRunsOnSchedule(t *testing.T) {
	sweeper := &countingSweeper{}
	j, err := New("@every 50ms", sweeper, logger.NewTestLogger(t))
	require.NoError(t, err)

	j.Start()
	defer j.Stop()

	assert.Eventually(t, func() bool {
		return sweeper.count.Load() >= 2
	}, 2*time.Second, 20*time.Millisecond)
}

func TestJanitorRejectsBadSchedule(t *testing.T) {
	_, err := New("not a schedule", &countingSweeper{}, logger.NewTestLogger(t))
	assert.Error(t, err)
}
