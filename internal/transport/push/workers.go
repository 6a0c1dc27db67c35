// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

package push

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/tomtom215/presencewatch/internal/logging"
	"github.com/tomtom215/presencewatch/internal/models"
	"github.com/tomtom215/presencewatch/internal/presence"
)

const workerQueueSize = 256

// workerPool hands events to the sink off the read loop. Events are sharded by
// (server, player name) so each player's events stay ordered.
type workerPool struct {
	sink   presence.EventSink
	queues []chan models.PlayerEvent
	wg     sync.WaitGroup
}

func newWorkerPool(sink presence.EventSink, workers int) *workerPool {
	if workers < 1 {
		workers = 1
	}
	p := &workerPool{
		sink:   sink,
		queues: make([]chan models.PlayerEvent, workers),
	}
	for i := range p.queues {
		p.queues[i] = make(chan models.PlayerEvent, workerQueueSize)
	}
	return p
}

// start launches one goroutine per shard. Workers exit when their queue is
// closed by stop. The sink sees ctx without its cancellation, so events still
// queued when the session is cancelled are recorded rather than failed.
func (p *workerPool) start(ctx context.Context) {
	recordCtx := context.WithoutCancel(ctx)
	for _, q := range p.queues {
		p.wg.Add(1)
		go p.work(recordCtx, q)
	}
}

func (p *workerPool) work(ctx context.Context, q <-chan models.PlayerEvent) {
	defer p.wg.Done()
	for ev := range q {
		evCtx := logging.WithCorrelationID(ctx, logging.NewCorrelationID())
		if err := p.sink.RecordEvent(evCtx, ev); err != nil {
			logging.Ctx(evCtx).Error().Err(err).
				Str("server_id", ev.ServerID).
				Str("player", ev.PlayerName).
				Str("action", string(ev.Action)).
				Msg("Failed to record push event")
		}
	}
}

// submit queues ev on its shard. It blocks only while that shard is full and
// gives up when ctx is done.
func (p *workerPool) submit(ctx context.Context, ev models.PlayerEvent) bool {
	q := p.queues[p.shard(ev.ServerID, ev.PlayerName)]
	select {
	case q <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// stop closes every queue and waits for queued events to drain.
func (p *workerPool) stop() {
	for _, q := range p.queues {
		close(q)
	}
	p.wg.Wait()
}

func (p *workerPool) shard(serverID, playerName string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(serverID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(playerName))
	return int(h.Sum32() % uint32(len(p.queues)))
}
