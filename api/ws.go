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

package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/fefe102/v4SessionHookMarkets/core/types"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The API is same-trust-domain with its agents; origin checks are the
	// deployment proxy's job.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWorkOrderWS upgrades the connection and forwards every event of the
// work order until either side goes away. Events emitted before the upgrade
// are not replayed; clients needing history read the JSONL log.
func (s *Server) handleWorkOrderWS(w http.ResponseWriter, r *http.Request) {
	workOrderID := mux.Vars(r)["id"]
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "workorder", workOrderID, "err", err)
		return
	}
	defer conn.Close()

	var (
		writeMu sync.Mutex
		done    = make(chan struct{})
		once    sync.Once
	)
	closeDone := func() { once.Do(func() { close(done) }) }

	cancel := s.bus.Subscribe(workOrderID, func(ev types.Event) {
		writeMu.Lock()
		defer writeMu.Unlock()
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(ev); err != nil {
			closeDone()
		}
	})
	defer cancel()

	// Reader goroutine: we never expect client frames, but reading is how
	// close and pong frames are processed.
	go func() {
		defer closeDone()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
