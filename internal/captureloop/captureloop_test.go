package captureloop

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"go.uber.org/goleak"

	"github.com/wifiology/sensor/internal/capture"
	"github.com/wifiology/sensor/internal/config"
	"github.com/wifiology/sensor/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func writePcap(t *testing.T, frames [][]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.pcap")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create pcap: %v", err)
	}
	defer f.Close()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65535, layers.LinkTypeIEEE80211Radio); err != nil {
		t.Fatalf("write file header: %v", err)
	}
	for _, data := range frames {
		ci := gopacket.CaptureInfo{Timestamp: time.Unix(0, 0), CaptureLength: len(data), Length: len(data)}
		if err := w.WritePacket(ci, data); err != nil {
			t.Fatalf("write packet: %v", err)
		}
	}
	return path
}

func TestDecodeAndAggregateEmptyFile(t *testing.T) {
	t.Parallel()

	path := writePcap(t, nil)
	cr := captureResultFixture()

	result, err := decodeAndAggregate(path, 6, cr, nil, nil)
	if err != nil {
		t.Fatalf("decodeAndAggregate: %v", err)
	}
	if result.WeirdFrameCount != 0 {
		t.Errorf("WeirdFrameCount = %d, want 0", result.WeirdFrameCount)
	}
	if len(result.Stations) != 0 {
		t.Errorf("Stations = %d, want 0", len(result.Stations))
	}
}

func TestDecodeAndAggregateSkipsUndecodableFrames(t *testing.T) {
	t.Parallel()

	// Too short to be a valid radiotap+802.11 buffer; Decode must reject it
	// and the loop must count it as a weird frame, not crash.
	path := writePcap(t, [][]byte{{0x00, 0x00}, bytes.Repeat([]byte{0xFF}, 4)})
	cr := captureResultFixture()

	result, err := decodeAndAggregate(path, 1, cr, nil, nil)
	if err != nil {
		t.Fatalf("decodeAndAggregate: %v", err)
	}
	if len(result.Stations) != 0 {
		t.Errorf("Stations = %d, want 0 for undecodable input", len(result.Stations))
	}
	if result.WeirdFrameCount == 0 {
		t.Error("expected at least one weird frame to be recorded")
	}
}

func TestWriteStartupAndRoundKV(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st, err := store.Open(ctx, ":memory:", 0, nil)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()

	l := New(config.CaptureConfig{Interface: "wlan0", SampleSeconds: 10}, st, nil, nil, nil)

	if err := l.writeStartupKV(ctx); err != nil {
		t.Fatalf("writeStartupKV: %v", err)
	}
	if err := l.writeRoundKV(ctx, 3); err != nil {
		t.Fatalf("writeRoundKV: %v", err)
	}

	iface, err := store.KVGetJSON[string](ctx, st.DB(), kvInterface)
	if err != nil {
		t.Fatalf("KVGetJSON(interface): %v", err)
	}
	if iface != "wlan0" {
		t.Errorf("interface = %q, want wlan0", iface)
	}

	round, err := store.KVGetJSON[int](ctx, st.DB(), kvCurrentRound)
	if err != nil {
		t.Fatalf("KVGetJSON(round): %v", err)
	}
	if round != 3 {
		t.Errorf("round = %d, want 3", round)
	}
}

func TestRunReturnsErrorWhenRadioAcquireFails(t *testing.T) {
	t.Parallel()

	// Rounds > 0 against an interface that cannot be acquired returns the
	// acquisition error immediately rather than hanging; full channel-hop
	// behavior needs real monitor-mode hardware and is out of scope here.
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	st, err := store.Open(ctx, ":memory:", 0, nil)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	defer st.Close()

	l := New(config.CaptureConfig{
		Interface:     "wifiology-test-no-such-iface0",
		TmpDir:        t.TempDir(),
		SampleSeconds: 1,
		Rounds:        1,
	}, st, nil, nil, nil)

	if err := l.Run(ctx); err == nil {
		t.Fatal("Run() against a nonexistent interface returned nil error")
	}
}

func captureResultFixture() capture.Result {
	now := time.Now()
	return capture.Result{StartWall: now, EndWall: now.Add(time.Second), Dwell: time.Second}
}
