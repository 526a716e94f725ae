// Copyright 2026 The hookmarket Authors
// This file is part of the hookmarket library.
//
// The hookmarket library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The hookmarket library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the hookmarket library. If not, see <http://www.gnu.org/licenses/>.

// Package sweeper runs the periodic deadline sweep. The cron chain's
// skip-if-still-running wrapper is the non-reentrant guard: a sweep that
// exceeds the interval simply delays the next tick.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/robfig/cron/v3"

	"github.com/fefe102/v4SessionHookMarkets/core"
)

// Sweeper schedules engine sweeps at a fixed interval.
type Sweeper struct {
	cron   *cron.Cron
	logger log.Logger
}

// New builds a sweeper ticking every interval.
func New(engine *core.Engine, interval time.Duration) (*Sweeper, error) {
	logger := log.New("service", "sweeper")
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		engine.Sweep(context.Background())
	})
	if err != nil {
		return nil, fmt.Errorf("sweeper: schedule: %w", err)
	}
	return &Sweeper{cron: c, logger: logger}, nil
}

// Start begins ticking.
func (s *Sweeper) Start() {
	s.logger.Info("Deadline sweeper started")
	s.cron.Start()
}

// Stop halts scheduling and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Deadline sweeper stopped")
}
