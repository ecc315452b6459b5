package recorder

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"murmur/internal/logging"
)

// DeviceMonitor listens for udev netlink events on the sound subsystem and
// keeps the set of capture devices current across hotplug, so a failed
// capture can name the devices actually present.
type DeviceMonitor struct {
	logger *slog.Logger

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
	devices map[string]struct{}
}

// NewDeviceMonitor creates a monitor for sound capture device events.
func NewDeviceMonitor(logger *slog.Logger) *DeviceMonitor {
	return &DeviceMonitor{
		logger:  logging.NewComponentLogger(logger, "device-monitor"),
		devices: make(map[string]struct{}),
	}
}

// Start begins listening for udev netlink events. A missing netlink socket
// is non-fatal; the monitor simply reports no devices.
func (m *DeviceMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		m.logger.Warn("failed to connect to netlink socket; device hotplug tracking disabled",
			logging.Error(err),
			logging.String(logging.FieldEventType, "netlink_connect_failed"),
			logging.String(logging.FieldErrorHint, "check netlink socket permissions"),
			logging.String(logging.FieldImpact, "capture device list will not refresh"))
		return nil
	}

	m.conn = conn
	m.quit = make(chan struct{})
	m.running = true

	quit := m.quit
	go m.monitorLoop(ctx, quit)

	m.logger.Debug("device monitor started")
	return nil
}

// Stop shuts down the monitor.
func (m *DeviceMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	if m.quit != nil {
		close(m.quit)
		m.quit = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.running = false
}

// Devices returns the capture device names observed since Start, sorted.
func (m *DeviceMonitor) Devices() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.devices))
	for name := range m.devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *DeviceMonitor) monitorLoop(ctx context.Context, quit <-chan struct{}) {
	events := make(chan netlink.UEvent)
	errs := make(chan error)

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return
	}

	monitorQuit := conn.Monitor(events, errs, m.buildMatcher())
	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-events:
			m.handleEvent(uevent)
		case err := <-errs:
			m.logger.Warn("device monitor error",
				logging.Error(err),
				logging.String(logging.FieldEventType, "netlink_monitor_error"))
		}
	}
}

// buildMatcher matches sound subsystem add/remove events.
func (m *DeviceMonitor) buildMatcher() netlink.Matcher {
	action := "add|remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "sound",
		},
	})
	return rules
}

func (m *DeviceMonitor) handleEvent(uevent netlink.UEvent) {
	name := deviceName(uevent)
	if name == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	switch uevent.Action {
	case "add":
		m.devices[name] = struct{}{}
		m.logger.Info("capture device added", logging.String("device", name))
	case "remove":
		delete(m.devices, name)
		m.logger.Info("capture device removed", logging.String("device", name))
	}
}

func deviceName(uevent netlink.UEvent) string {
	if devname := uevent.Env["DEVNAME"]; devname != "" {
		return devname
	}
	devpath := uevent.Env["DEVPATH"]
	if devpath == "" {
		return ""
	}
	parts := strings.Split(devpath, "/")
	last := parts[len(parts)-1]
	if !strings.HasPrefix(last, "card") && !strings.HasPrefix(last, "pcm") {
		return ""
	}
	return last
}
