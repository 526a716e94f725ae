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

// Package eventbus fans marketplace events out to per-work-order subscribers
// and appends every event to a JSONL log before in-memory delivery.
package eventbus

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/metrics"

	"github.com/fefe102/v4SessionHookMarkets/core/types"
)

// subscriberBuffer bounds how far a slow subscriber may lag before events are
// dropped for it. The emitter never blocks past this buffer.
const subscriberBuffer = 64

var (
	emitCounter    = metrics.NewRegisteredCounter("hookmarket/bus/emit", nil)
	droppedCounter = metrics.NewRegisteredCounter("hookmarket/bus/dropped", nil)
)

type subscriber struct {
	ch   chan types.Event
	quit chan struct{}
}

// Bus is the in-process event fan-out. One Bus per process owns the JSONL
// log file; appends are serialized by the bus mutex.
type Bus struct {
	mu     sync.Mutex
	file   *os.File
	subs   map[string]map[uint64]*subscriber // workOrderID -> subscription id -> subscriber
	nextID uint64
	closed bool
	logger log.Logger
}

// New opens (creating parent directories as needed) the append-only event
// log at logPath and returns a ready bus.
func New(logPath string) (*Bus, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, fmt.Errorf("eventbus: create log dir: %w", err)
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("eventbus: open log: %w", err)
	}
	return &Bus{
		file:   f,
		subs:   make(map[string]map[uint64]*subscriber),
		logger: log.New("eventlog", logPath),
	}, nil
}

// Subscribe registers a handler for events of a single work order. The
// returned cancel function is idempotent. Handler panics are recovered so a
// broken subscriber cannot poison the bus.
func (b *Bus) Subscribe(workOrderID string, handler func(types.Event)) (cancel func()) {
	sub := &subscriber{
		ch:   make(chan types.Event, subscriberBuffer),
		quit: make(chan struct{}),
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	if b.subs[workOrderID] == nil {
		b.subs[workOrderID] = make(map[uint64]*subscriber)
	}
	b.subs[workOrderID][id] = sub
	b.mu.Unlock()

	go func() {
		for {
			select {
			case ev := <-sub.ch:
				b.deliver(handler, ev)
			case <-sub.quit:
				// Drain anything already buffered, then stop.
				for {
					select {
					case ev := <-sub.ch:
						b.deliver(handler, ev)
					default:
						return
					}
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			if m := b.subs[workOrderID]; m != nil {
				delete(m, id)
				if len(m) == 0 {
					delete(b.subs, workOrderID)
				}
			}
			b.mu.Unlock()
			close(sub.quit)
		})
	}
}

func (b *Bus) deliver(handler func(types.Event), ev types.Event) {
	defer func() {
		if err := recover(); err != nil {
			b.logger.Error("Event subscriber panicked", "type", ev.Type, "workorder", ev.WorkOrderID, "err", err)
		}
	}()
	handler(ev)
}

// Emit appends the event to the JSONL log, then notifies the subscribers of
// its work order. Delivery is a bounded buffered send; a full subscriber
// drops the event rather than blocking the emitter.
func (b *Bus) Emit(ev types.Event) {
	emitCounter.Inc(1)

	line, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("Failed to encode event", "type", ev.Type, "err", err)
		return
	}

	b.mu.Lock()
	if !b.closed {
		if _, err := b.file.Write(append(line, '\n')); err != nil {
			b.logger.Error("Failed to append event log", "type", ev.Type, "err", err)
		}
	}
	var targets []*subscriber
	for _, sub := range b.subs[ev.WorkOrderID] {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.ch <- ev:
		default:
			droppedCounter.Inc(1)
			b.logger.Warn("Dropping event for slow subscriber", "type", ev.Type, "workorder", ev.WorkOrderID)
		}
	}
}

// Close stops log appends and closes the file. In-flight subscribers keep
// draining their buffers.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.file.Close()
}
