// SPDX-License-Identifier: LGPL-3.0-or-later

// Package janitor periodically re-runs the orphan sweep the manager does
// at startup, so storage for DLCs deprecated mid-session gets reclaimed
// without a restart.
package janitor

import (
	"fmt"

	"github.com/robfig/cron/v3"

	"dlcd/logger"
)

// Sweeper is the slice of the manager the janitor drives.
type Sweeper interface {
	CleanupUnsupported()
}

// Janitor runs the sweep on a cron schedule.
type Janitor struct {
	cron *cron.Cron
	log  logger.Logger
}

// New schedules the sweep; schedule takes a cron spec (e.g. "@daily").
func New(schedule string, sweeper Sweeper, log logger.Logger) (*Janitor, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		log.Info("running periodic orphan sweep")
		sweeper.CleanupUnsupported()
	})
	if err != nil {
		return nil, fmt.Errorf("parse janitor schedule %q: %w", schedule, err)
	}
	return &Janitor{cron: c, log: log}, nil
}

// Start begins running the schedule.
func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop halts the schedule; running sweeps finish.
func (j *Janitor) Stop() {
	j.cron.Stop()
}
