// Package captureloop orchestrates the radio controller, capture sink,
// frame decoder, aggregator, and store round-by-round,
// channel-by-channel, and emits a heartbeat the watchdog observes.
package captureloop

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/gopacket/pcapgo"

	"github.com/wifiology/sensor/internal/aggregate"
	"github.com/wifiology/sensor/internal/capture"
	"github.com/wifiology/sensor/internal/config"
	"github.com/wifiology/sensor/internal/decode"
	sensormetrics "github.com/wifiology/sensor/internal/metrics"
	"github.com/wifiology/sensor/internal/radio"
	"github.com/wifiology/sensor/internal/store"
)

// channels is the fixed 2.4 GHz sweep, channels 1 through 11.
var channels = []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}

// KV keys written at start and per-round.
const (
	kvScriptStartTime = "capture/script_start_time"
	kvScriptPID       = "capture/script_pid"
	kvInterface       = "capture/interface"
	kvSampleSeconds   = "capture/sample_seconds"
	kvCurrentRound    = "capture/current_script_round"
)

// Heartbeat is called at every outer/inner loop iteration.
// The watchdog side of this contract reads one byte per call from a pipe;
// Loop itself is agnostic to the transport, taking only the callback.
type Heartbeat func()

// Loop drives the channel-hopping capture rounds.
type Loop struct {
	cfg       config.CaptureConfig
	store     *store.Store
	metrics   *sensormetrics.Collector
	heartbeat Heartbeat
	logger    *slog.Logger
}

// New builds a Loop. heartbeat may be nil, in which case heartbeats are
// silently dropped (useful for tests that don't run under a watchdog).
func New(cfg config.CaptureConfig, st *store.Store, metrics *sensormetrics.Collector, heartbeat Heartbeat, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if heartbeat == nil {
		heartbeat = func() {}
	}
	return &Loop{cfg: cfg, store: st, metrics: metrics, heartbeat: heartbeat, logger: logger}
}

// Run acquires the radio, executes rounds until cfg.Rounds is exhausted
// (0 means forever), and releases the radio on exit. It returns nil on a
// clean rounds-exhausted stop or context cancellation, and a non-nil error
// only for a radio acquisition failure or a failed startup KV write.
func (l *Loop) Run(ctx context.Context) error {
	handle, err := radio.Acquire(ctx, l.cfg.Interface, l.logger)
	if err != nil {
		return fmt.Errorf("captureloop: acquire radio: %w", err)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := handle.Release(releaseCtx); err != nil {
			l.logger.Warn("captureloop: release radio failed", slog.String("error", err.Error()))
		}
	}()

	if err := l.writeStartupKV(ctx); err != nil {
		return fmt.Errorf("captureloop: write startup kv: %w", err)
	}

	for round := 0; l.cfg.Rounds == 0 || round < l.cfg.Rounds; round++ {
		if ctx.Err() != nil {
			return nil
		}

		if err := l.writeRoundKV(ctx, round); err != nil {
			l.logger.Warn("captureloop: write round kv failed", slog.String("error", err.Error()))
		}

		for _, channel := range channels {
			if ctx.Err() != nil {
				return nil
			}
			l.heartbeat()
			l.runChannel(ctx, handle, channel)
		}

		l.heartbeat()
	}

	return nil
}

// runChannel executes one channel's dwell: set channel, capture, decode,
// aggregate, persist, unlink. Every failure is logged and isolated to this
// channel; the loop always proceeds to the next one.
func (l *Loop) runChannel(ctx context.Context, handle *radio.Handle, channel int) {
	if err := handle.SetChannel(ctx, channel); err != nil {
		l.logger.Error("captureloop: set channel failed", slog.Int("channel", channel), slog.String("error", err.Error()))
		return
	}

	file := filepath.Join(l.cfg.TmpDir, fmt.Sprintf("channel%d-%d.pcap", channel, time.Now().Unix()))
	defer capture.UnlinkIfExists(file, l.logger)

	dwell := time.Duration(l.cfg.SampleSeconds) * time.Second
	captureResult, err := capture.Capture(ctx, l.cfg.Interface, file, dwell)
	if err != nil {
		l.logger.Error("captureloop: capture failed", slog.Int("channel", channel), slog.String("error", err.Error()))
		return
	}

	result, err := decodeAndAggregate(file, channel, captureResult, l.metrics, l.logger)
	if err != nil {
		l.logger.Error("captureloop: decode/aggregate failed", slog.Int("channel", channel), slog.String("error", err.Error()))
		return
	}

	if _, err := store.PersistMeasurementResult(ctx, l.store, result); err != nil {
		l.logger.Error("captureloop: persist failed", slog.Int("channel", channel), slog.String("error", err.Error()))
		return
	}

	if l.metrics != nil {
		l.metrics.IncCaptureRound(channel)
		l.metrics.IncMeasurementsPersisted()
	}
}

// decodeAndAggregate reads every frame out of file (pcap, radiotap
// link-type) and folds it through the decoder into a MeasurementResult.
// A partial or empty file is not an error; whatever frames made it to
// disk are what gets aggregated.
func decodeAndAggregate(file string, channel int, cr capture.Result, metrics *sensormetrics.Collector, logger *slog.Logger) (*aggregate.MeasurementResult, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("open capture file: %w", err)
	}
	defer f.Close()

	reader, err := pcapgo.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("new pcap reader: %w", err)
	}

	agg := aggregate.New(channel, logger)
	decoded := 0
	for {
		data, _, err := reader.ReadPacketData()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read pcap frame: %w", err)
		}

		frame, derr := decode.Decode(data)
		if derr != nil {
			agg.AddDecodeError(derr)
			if metrics != nil {
				metrics.IncFrameDecodeError(channel)
			}
			continue
		}
		agg.AddFrame(frame)
		decoded++
	}

	if metrics != nil {
		metrics.AddFramesDecoded(channel, decoded)
	}

	startWall := float64(cr.StartWall.Unix()) + float64(cr.StartWall.Nanosecond())/1e9
	endWall := float64(cr.EndWall.Unix()) + float64(cr.EndWall.Nanosecond())/1e9
	return agg.Finish(startWall, endWall, cr.Dwell.Seconds()), nil
}

// writeStartupKV records the process-state keys written once at start.
func (l *Loop) writeStartupKV(ctx context.Context) error {
	return l.store.DeferredTx(ctx, func(tx *sql.Tx) error {
		if err := store.KVSetJSON(ctx, tx, kvScriptStartTime, time.Now().Unix()); err != nil {
			return err
		}
		if err := store.KVSetJSON(ctx, tx, kvScriptPID, os.Getpid()); err != nil {
			return err
		}
		if err := store.KVSetJSON(ctx, tx, kvInterface, l.cfg.Interface); err != nil {
			return err
		}
		return store.KVSetJSON(ctx, tx, kvSampleSeconds, l.cfg.SampleSeconds)
	})
}

// writeRoundKV records the current round number.
func (l *Loop) writeRoundKV(ctx context.Context, round int) error {
	return l.store.DeferredTx(ctx, func(tx *sql.Tx) error {
		return store.KVSetJSON(ctx, tx, kvCurrentRound, round)
	})
}
