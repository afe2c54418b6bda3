package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Sink receives periodic status snapshots. Sinks are external
// responsibilities; the engine only produces the object and tolerates
// sink failures.
type Sink interface {
	Publish(ctx context.Context, snap Snapshot) error
}

// FileSink writes each snapshot to a JSON file. The write is atomic
// (temp file + rename) so readers never observe a torn snapshot.
type FileSink struct {
	Path string
}

// NewFileSink creates a sink writing to path.
func NewFileSink(path string) *FileSink {
	return &FileSink{Path: path}
}

func (s *FileSink) Publish(ctx context.Context, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	dir := filepath.Dir(s.Path)
	tmp, err := os.CreateTemp(dir, ".status-*.json")
	if err != nil {
		return fmt.Errorf("create temp status file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write status file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close status file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("publish status file: %w", err)
	}
	return nil
}

// LogSink emits one structured summary line per snapshot.
type LogSink struct {
	Log zerolog.Logger
}

func (s LogSink) Publish(ctx context.Context, snap Snapshot) error {
	s.Log.Info().
		Bool("links_connected", snap.LinksConnected).
		Int64("uptime_s", snap.UptimeSeconds).
		Uint64("recv_a", snap.Stats.LinkA.Received).
		Uint64("recv_b", snap.Stats.LinkB.Received).
		Uint64("sent_a", snap.Stats.LinkA.Sent).
		Uint64("sent_b", snap.Stats.LinkB.Sent).
		Uint64("forwarded", snap.Stats.Tracker.TotalForwarded).
		Int("tracked", snap.Stats.Tracker.CurrentlyTracked).
		Msg("bridge status")
	return nil
}

// reportLoop publishes a snapshot to every sink on each status tick.
func (e *Engine) reportLoop(ctx context.Context) {
	ticker := e.clk.Ticker(e.cfg.Status.Interval.Std())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.publish(ctx)
		}
	}
}

func (e *Engine) publish(ctx context.Context) {
	snap := e.Snapshot()
	for _, sink := range e.sinks {
		if err := sink.Publish(ctx, snap); err != nil {
			e.log.Warn().Err(err).Type("sink", sink).Msg("status sink failed")
		}
	}
}
