// Package radio places a wireless interface into monitor mode, switches
// its channel, and tears it back down, with a down/up dance to unstick
// drivers. Interface up/down uses raw SIOCGIFFLAGS/SIOCSIFFLAGS ioctls via
// golang.org/x/sys/unix. Setting monitor mode and channel goes through the
// `iw` command: golang.org/x/sys/unix only wraps the legacy ifreq ioctl
// family, not nl80211 genetlink attributes, so shelling out is the least
// invented option (see DESIGN.md).
package radio

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/godbus/dbus/v5"
)

// Handle represents an interface acquired for monitor-mode capture.
type Handle struct {
	iface   string
	logger  *slog.Logger
	nmOwned bool // true if NetworkManager was told to stop managing iface
}

// Interface returns the name of the acquired interface.
func (h *Handle) Interface() string {
	return h.iface
}

// Acquire places iface into monitor mode, bringing it down first if
// necessary.
func Acquire(ctx context.Context, iface string, logger *slog.Logger) (*Handle, error) {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handle{iface: iface, logger: logger}

	nmOwned, err := releaseFromNetworkManager(ctx, iface, logger)
	if err != nil {
		logger.Warn("radio: could not hand interface off from NetworkManager",
			slog.String("interface", iface), slog.String("error", err.Error()))
	}
	h.nmOwned = nmOwned

	already, err := isMonitorMode(ctx, iface)
	if err != nil {
		return nil, fmt.Errorf("radio: query mode of %s: %w", iface, err)
	}
	if already {
		if err := ifUp(iface); err != nil {
			return nil, fmt.Errorf("radio: bring up %s: %w", iface, err)
		}
		return h, nil
	}

	if err := ifDown(iface); err != nil {
		return nil, fmt.Errorf("radio: bring down %s: %w", iface, err)
	}
	if err := setMonitorMode(ctx, iface); err != nil {
		return nil, fmt.Errorf("radio: set monitor mode on %s: %w", iface, err)
	}
	if err := ifUp(iface); err != nil {
		return nil, fmt.Errorf("radio: bring up %s: %w", iface, err)
	}

	return h, nil
}

// SetChannel switches to channel n, performing the down/up dance required
// to unstick some drivers before applying the new channel.
func (h *Handle) SetChannel(ctx context.Context, n int) error {
	if n < 1 || n > 11 {
		return fmt.Errorf("radio: channel %d out of range 1..11", n)
	}

	if err := ifDown(h.iface); err != nil {
		return fmt.Errorf("radio: bring down %s: %w", h.iface, err)
	}
	if err := ifUp(h.iface); err != nil {
		return fmt.Errorf("radio: bring up %s: %w", h.iface, err)
	}
	if err := setChannel(ctx, h.iface, n); err != nil {
		return fmt.Errorf("radio: set channel %d on %s: %w", n, h.iface, err)
	}
	return nil
}

// Release tears down the acquired interface, bringing it down and, if this
// Handle took it from NetworkManager, handing it back.
func (h *Handle) Release(ctx context.Context) error {
	err := ifDown(h.iface)
	if h.nmOwned {
		if nmErr := restoreToNetworkManager(ctx, h.iface, h.logger); nmErr != nil {
			h.logger.Warn("radio: could not hand interface back to NetworkManager",
				slog.String("interface", h.iface), slog.String("error", nmErr.Error()))
		}
	}
	if err != nil {
		return fmt.Errorf("radio: bring down %s: %w", h.iface, err)
	}
	return nil
}

// -------------------------------------------------------------------------
// iw-backed mode/channel control
// -------------------------------------------------------------------------

func isMonitorMode(ctx context.Context, iface string) (bool, error) {
	cmd := exec.CommandContext(ctx, "iw", "dev", iface, "info")
	out, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("iw dev %s info: %w", iface, err)
	}
	return bytes.Contains(out, []byte("type monitor")), nil
}

func setMonitorMode(ctx context.Context, iface string) error {
	return runQuiet(ctx, "iw", "dev", iface, "set", "type", "monitor")
}

func setChannel(ctx context.Context, iface string, n int) error {
	return runQuiet(ctx, "iw", "dev", iface, "set", "channel", fmt.Sprintf("%d", n))
}

func runQuiet(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %v: %w: %s", name, args, err, stderr.String())
	}
	return nil
}

// -------------------------------------------------------------------------
// NetworkManager handoff (dbus)
// -------------------------------------------------------------------------

const (
	nmBusName       = "org.freedesktop.NetworkManager"
	nmObjectPath    = "/org/freedesktop/NetworkManager"
	nmInterface     = "org.freedesktop.NetworkManager"
	nmDeviceIface   = "org.freedesktop.NetworkManager.Device"
	nmPropManaged   = "Managed"
	dbusCallTimeout = 2 * time.Second
)

// releaseFromNetworkManager asks NetworkManager to stop managing iface so
// monitor-mode changes are not fought or reverted out from under the
// sensor. Returns true if NetworkManager was reachable, the device was
// found and the Managed change was accepted (meaning Release should hand
// it back later); a connection, lookup or property-set failure is
// non-fatal (not every deployment runs NetworkManager).
func releaseFromNetworkManager(ctx context.Context, iface string, logger *slog.Logger) (bool, error) {
	return setNetworkManagerManaged(ctx, iface, false, logger)
}

// restoreToNetworkManager re-enables NetworkManager's management of iface.
func restoreToNetworkManager(ctx context.Context, iface string, logger *slog.Logger) error {
	_, err := setNetworkManagerManaged(ctx, iface, true, logger)
	return err
}

func setNetworkManagerManaged(ctx context.Context, iface string, managed bool, logger *slog.Logger) (bool, error) {
	// A private connection, not the process-shared dbus.SystemBus()
	// singleton, so closing it here cannot break later callers.
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return false, fmt.Errorf("connect system bus: %w", err)
	}
	defer conn.Close()

	nm := conn.Object(nmBusName, dbus.ObjectPath(nmObjectPath))

	var devicePath dbus.ObjectPath
	callCtx, cancel := context.WithTimeout(ctx, dbusCallTimeout)
	defer cancel()
	err = nm.CallWithContext(callCtx, nmInterface+".GetDeviceByIpIface", 0, iface).Store(&devicePath)
	if err != nil {
		return false, fmt.Errorf("GetDeviceByIpIface(%s): %w", iface, err)
	}

	device := conn.Object(nmBusName, devicePath)
	setCtx, cancel2 := context.WithTimeout(ctx, dbusCallTimeout)
	defer cancel2()
	call := device.CallWithContext(setCtx, "org.freedesktop.DBus.Properties.Set", 0,
		nmDeviceIface, nmPropManaged, dbus.MakeVariant(managed))
	if call.Err != nil {
		return false, fmt.Errorf("set %s.Managed=%v: %w", iface, managed, call.Err)
	}

	logger.Debug("radio: set NetworkManager device managed state",
		slog.String("interface", iface), slog.Bool("managed", managed))
	return true, nil
}
