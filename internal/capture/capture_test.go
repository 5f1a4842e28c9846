package capture_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/wifiology/sensor/internal/capture"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestUnlinkIfExistsRemovesFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "channel1-123.pcap")

	if err := os.WriteFile(path, []byte("pcap"), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	capture.UnlinkIfExists(path, nil)

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("file %s still exists after UnlinkIfExists", path)
	}
}

func TestUnlinkIfExistsToleratesMissingFile(t *testing.T) {
	t.Parallel()

	// Must not panic or error-log-fatally when the file is already gone.
	capture.UnlinkIfExists(filepath.Join(t.TempDir(), "nonexistent.pcap"), nil)
}

func TestCaptureFailsOnMissingInterface(t *testing.T) {
	t.Parallel()

	// Opening a live handle on a nonexistent interface must fail fast
	// rather than hang; this is the only part of Capture that is exercised
	// without real monitor-mode hardware or elevated privileges.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dir := t.TempDir()
	_, err := capture.Capture(ctx, "wifiology-test-no-such-iface0", filepath.Join(dir, "out.pcap"), 1*time.Second)
	if err == nil {
		t.Fatal("Capture() on a nonexistent interface returned nil error")
	}
}
