// Package capture opens a live pcap handle on a monitor-mode interface,
// arms a monotonic one-shot dwell timer, and drains frames to a
// per-channel capture file until the source runs dry or the timer fires.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"github.com/google/gopacket/pcapgo"
)

const (
	// snapLen is the maximum bytes captured per frame.
	snapLen = 65535
	// bufferSizeBytes is the minimum kernel receive buffer.
	bufferSizeBytes = 16 * 1024 * 1024
)

// Result carries the wall-clock window a Capture call actually ran in.
// Dwell is the requested duration, a contract, not a measurement of
// elapsed time.
type Result struct {
	StartWall time.Time
	EndWall   time.Time
	Dwell     time.Duration
}

// Capture opens a live handle on iface, writes every frame it reads to
// file (pcap, radiotap link-type) until dwell elapses or the source
// drains, then returns the observed wall-clock window. I/O errors on the
// capture device propagate. A partial file is not itself an error; the
// aggregator treats whatever frames made it to disk as the measurement.
func Capture(ctx context.Context, iface, file string, dwell time.Duration) (Result, error) {
	startWall := time.Now()

	inactive, err := pcap.NewInactiveHandle(iface)
	if err != nil {
		return Result{}, fmt.Errorf("capture: new inactive handle on %s: %w", iface, err)
	}
	defer inactive.CleanUp()

	if err := inactive.SetSnapLen(snapLen); err != nil {
		return Result{}, fmt.Errorf("capture: set snaplen: %w", err)
	}
	if err := inactive.SetPromisc(true); err != nil {
		return Result{}, fmt.Errorf("capture: set promiscuous: %w", err)
	}
	// Zero read timeout: block indefinitely for the next frame, relying on
	// the monotonic dwell timer below (not the handle) to end the capture.
	if err := inactive.SetTimeout(pcap.BlockForever); err != nil {
		return Result{}, fmt.Errorf("capture: set timeout: %w", err)
	}
	if err := inactive.SetBufferSize(bufferSizeBytes); err != nil {
		return Result{}, fmt.Errorf("capture: set buffer size: %w", err)
	}

	handle, err := inactive.Activate()
	if err != nil {
		return Result{}, fmt.Errorf("capture: activate handle on %s: %w", iface, err)
	}

	f, err := os.Create(file)
	if err != nil {
		return Result{}, fmt.Errorf("capture: create %s: %w", file, err)
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(snapLen, layers.LinkTypeIEEE80211Radio); err != nil {
		return Result{}, fmt.Errorf("capture: write pcap file header: %w", err)
	}

	// ReadPacketData blocks indefinitely against the zero-timeout handle, so
	// the monotonic dwell timer cannot simply be polled around it; instead
	// a reader goroutine feeds frames to the main loop over a channel, and
	// closing the handle on timer fire (or context cancellation) unblocks
	// a pending read the same way the timerfd-armed select loop in the
	// original capture script ends a dwell.
	type frame struct {
		data []byte
		ci   gopacket.CaptureInfo
		err  error
	}
	frames := make(chan frame, 64)
	go func() {
		defer close(frames)
		for {
			data, ci, err := handle.ReadPacketData()
			if err != nil {
				frames <- frame{err: err}
				return
			}
			cp := make([]byte, len(data))
			copy(cp, data)
			frames <- frame{data: cp, ci: ci}
		}
	}()

	timer := time.NewTimer(dwell)
	defer timer.Stop()

	var readErr error
loop:
	for {
		select {
		case <-ctx.Done():
			readErr = ctx.Err()
			break loop
		case <-timer.C:
			break loop
		case fr, ok := <-frames:
			if !ok {
				break loop
			}
			if fr.err != nil {
				readErr = fmt.Errorf("capture: read frame: %w", fr.err)
				break loop
			}
			if err := w.WritePacket(fr.ci, fr.data); err != nil {
				readErr = fmt.Errorf("capture: write frame: %w", err)
				break loop
			}
		}
	}

	handle.Close()
	for range frames {
		// drain the reader goroutine so it observes the closed handle and exits
	}

	return Result{StartWall: startWall, EndWall: time.Now(), Dwell: dwell}, readErr
}

// UnlinkIfExists removes file, tolerating one that is already gone.
// Capture files are deleted on both success and failure.
func UnlinkIfExists(file string, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
		logger.Warn("capture: failed to unlink capture file", slog.String("file", file), slog.String("error", err.Error()))
	}
}
