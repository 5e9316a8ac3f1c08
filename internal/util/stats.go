package util

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pterm/pterm"
)

// ──────────────────────────────────────────────────────────────────────────────
// Global stats singleton
// ──────────────────────────────────────────────────────────────────────────────

// Stats is the process-wide signaling counter.
var Stats = &stats{}

type stats struct {
	Peers      atomic.Int64 // currently attached peers
	Rooms      atomic.Int64 // currently open rooms
	FramesIn   atomic.Int64 // cumulative frames received from peers
	FramesOut  atomic.Int64 // cumulative frames written to peers
	Errors     atomic.Int64 // cumulative error envelopes sent
	BytesMedia atomic.Int64 // cumulative RTP bytes received (peer mode)
}

func (s *stats) AddPeer()       { s.Peers.Add(1) }
func (s *stats) RemovePeer()    { s.Peers.Add(-1) }
func (s *stats) AddRoom()       { s.Rooms.Add(1) }
func (s *stats) RemoveRoom()    { s.Rooms.Add(-1) }
func (s *stats) AddFrameIn()    { s.FramesIn.Add(1) }
func (s *stats) AddFrameOut()   { s.FramesOut.Add(1) }
func (s *stats) AddError()      { s.Errors.Add(1) }
func (s *stats) AddMedia(n int) { s.BytesMedia.Add(int64(n)) }

// ──────────────────────────────────────────────────────────────────────────────
// Periodic reporter
// ──────────────────────────────────────────────────────────────────────────────

// StartStatsReporter launches a goroutine that logs signaling statistics
// every interval. It stops when ctx is cancelled.
func StartStatsReporter(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var prevIn, prevOut, prevErr, prevMedia int64
		for {
			select {
			case <-ticker.C:
				in := Stats.FramesIn.Load()
				out := Stats.FramesOut.Load()
				errs := Stats.Errors.Load()
				media := Stats.BytesMedia.Load()

				if in != prevIn || out != prevOut || errs != prevErr || media != prevMedia {
					secs := interval.Seconds()
					pterm.DefaultLogger.Info(formatStats(
						Stats.Peers.Load(), Stats.Rooms.Load(),
						in-prevIn, out-prevOut, errs-prevErr,
						float64(media-prevMedia)/secs,
					))
				}

				prevIn, prevOut, prevErr, prevMedia = in, out, errs, media

			case <-ctx.Done():
				return
			}
		}
	}()
}

// byteUnits defines the units for formatting byte counts in a human-readable way.
var byteUnits = []string{"B", "KiB", "MiB", "GiB", "TiB", "PiB"}

// formatBytes formats a byte count into a human-readable string with fixed width (exactly 8 chars)
// for example: "99.0   B", " 1.5 KiB", " 0.1 MiB", "98.9 GiB", etc.
func formatBytes(b float64) string {
	unitIdx := 0

	// to prevent "100.0 KiB", which is 9 chars
	for b > 99 && unitIdx < 5 {
		b /= 1024
		unitIdx++
	}

	return fmt.Sprintf("%4.1f %3s", b, byteUnits[unitIdx])
}

// formatStats returns a formatted string of the current stats for display in the logger.
func formatStats(peers, rooms, in, out, errs int64, mediaRate float64) string {
	return fmt.Sprintf("Peers: %3d | Rooms: %3d | Frames: %4d↓ %4d↑ | Errors: %3d | Media: %s/s",
		peers, rooms, in, out, errs, formatBytes(mediaRate))
}
