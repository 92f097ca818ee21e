package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// Stats is the process-wide session counter.
var Stats = &stats{}

type stats struct {
	MessagesSent  atomic.Int64 // envelopes written to the channel
	MessagesRecv  atomic.Int64 // envelopes dispatched to subscribers
	Reconnects    atomic.Int64 // successful reconnects after at least one retry
	CallsPlaced   atomic.Int64 // outgoing calls started
	CallsAnswered atomic.Int64 // incoming calls accepted
}

func (s *stats) AddSent()      { s.MessagesSent.Add(1) }
func (s *stats) AddRecv()      { s.MessagesRecv.Add(1) }
func (s *stats) AddReconnect() { s.Reconnects.Add(1) }
func (s *stats) AddPlaced()    { s.CallsPlaced.Add(1) }
func (s *stats) AddAnswered()  { s.CallsAnswered.Add(1) }

// StartStatsReporter launches a goroutine that logs session statistics
// every 30 seconds when there has been traffic. It stops when ctx is
// cancelled.
func StartStatsReporter(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		var prevSent, prevRecv int64
		for {
			select {
			case <-ticker.C:
				sent := Stats.MessagesSent.Load()
				recv := Stats.MessagesRecv.Load()

				if sent != prevSent || recv != prevRecv {
					pterm.DefaultLogger.Info(fmt.Sprintf(
						"Out: %d msg | In: %d msg | Reconnects: %d | Calls: %d placed, %d answered",
						sent, recv,
						Stats.Reconnects.Load(),
						Stats.CallsPlaced.Load(),
						Stats.CallsAnswered.Load(),
					))
				}

				prevSent = sent
				prevRecv = recv

			case <-ctx.Done():
				return
			}
		}
	}()
}
