package ble

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/muka/go-bluetooth/bluez"
	"github.com/muka/go-bluetooth/bluez/profile/gatt"
	"tinygo.org/x/bluetooth"
)

// Hand identifies a glove.
type Hand int

const (
	LeftHand Hand = iota
	RightHand
)

func (h Hand) String() string {
	if h == LeftHand {
		return "left"
	}
	return "right"
}

// ParseHand accepts "left" or "right".
func ParseHand(s string) (Hand, error) {
	switch strings.ToLower(s) {
	case "left", "l":
		return LeftHand, nil
	case "right", "r":
		return RightHand, nil
	}
	return 0, fmt.Errorf("unknown hand %q", s)
}

// Glove GATT layout. BlueZ reports UUIDs in canonical big-endian form.
const (
	serviceUUID    = "00001234-0000-1000-8000-00805f9b34fb"
	sensorCharUUID = "00001235-0000-1000-8000-00805f9b34fb"
)

// DeviceNames are the advertised names of the two gloves.
var DeviceNames = map[Hand]string{
	LeftHand:  "PunchGlove_L",
	RightHand: "PunchGlove_R",
}

const servicesResolvedTimeout = 15 * time.Second

// PacketHandler receives decoded notifications.
type PacketHandler func(hand Hand, p Packet)

// DisconnectHandler is called when a glove stops streaming.
type DisconnectHandler func(hand Hand)

type glove struct {
	hand    Hand
	device  *bluetooth.Device
	char    *gatt.GattCharacteristic1
	propCh  chan *bluez.PropertyChanged
	loss    lossTracker
	battery uint8
}

// Central manages the glove connections.
type Central struct {
	adapter *bluetooth.Adapter
	logger  *slog.Logger
	hands   []Hand

	mu           sync.RWMutex
	gloves       map[Hand]*glove
	onPacket     PacketHandler
	onDisconnect DisconnectHandler
	scanning     bool
}

// NewCentral manages the given hands on the default adapter.
func NewCentral(logger *slog.Logger, hands ...Hand) *Central {
	if len(hands) == 0 {
		hands = []Hand{LeftHand, RightHand}
	}
	return &Central{
		adapter: bluetooth.DefaultAdapter,
		logger:  logger.With("component", "ble"),
		hands:   hands,
		gloves:  make(map[Hand]*glove),
	}
}

// SetPacketHandler installs the notification callback.
func (c *Central) SetPacketHandler(h PacketHandler) {
	c.mu.Lock()
	c.onPacket = h
	c.mu.Unlock()
}

// SetDisconnectHandler installs the disconnect callback.
func (c *Central) SetDisconnectHandler(h DisconnectHandler) {
	c.mu.Lock()
	c.onDisconnect = h
	c.mu.Unlock()
}

// Enable powers up the adapter.
func (c *Central) Enable() error {
	if err := c.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}
	c.logger.Info("adapter enabled")
	return nil
}

// IsConnected reports whether hand is streaming.
func (c *Central) IsConnected(hand Hand) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.gloves[hand]
	return ok
}

// Missing returns the managed hands that are not connected.
func (c *Central) Missing() []Hand {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Hand
	for _, h := range c.hands {
		if _, ok := c.gloves[h]; !ok {
			out = append(out, h)
		}
	}
	return out
}

// PacketLoss returns the estimated loss ratio and last battery level of hand.
func (c *Central) PacketLoss(hand Hand) (loss float64, battery uint8, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.gloves[hand]
	if !ok {
		return 0, 0, false
	}
	return g.loss.ratio(), g.battery, true
}

func (c *Central) handFor(name string) (Hand, bool) {
	for _, h := range c.hands {
		if DeviceNames[h] == name {
			return h, true
		}
	}
	return 0, false
}

// handle decodes one notification and forwards it.
func (c *Central) handle(hand Hand, data []byte) {
	p, err := ParsePacket(data)
	if err != nil {
		c.logger.Warn("bad notification", "hand", hand, "error", err)
		return
	}
	c.mu.Lock()
	if g, ok := c.gloves[hand]; ok {
		g.loss.observe(p.Sequence)
		g.battery = p.Battery
	}
	h := c.onPacket
	c.mu.Unlock()
	if h != nil {
		h(hand, p)
	}
}

// StartScanning scans until every managed hand is connected. It returns
// immediately; connections happen on the scan goroutine.
func (c *Central) StartScanning() error {
	c.mu.Lock()
	if c.scanning {
		c.mu.Unlock()
		return nil
	}
	c.scanning = true
	c.mu.Unlock()

	go func() {
		err := c.adapter.Scan(func(a *bluetooth.Adapter, r bluetooth.ScanResult) {
			hand, ok := c.handFor(r.LocalName())
			if !ok || c.IsConnected(hand) {
				return
			}
			c.logger.Info("glove found", "hand", hand, "address", r.Address.String())
			// BlueZ cannot connect while discovering.
			if err := a.StopScan(); err != nil {
				c.logger.Warn("stop scan", "error", err)
			}
			if err := c.connect(r.Address, hand); err != nil {
				c.logger.Error("connect failed", "hand", hand, "error", err)
			}
		})
		if err != nil {
			c.logger.Error("scan", "error", err)
		}
		c.mu.Lock()
		c.scanning = false
		c.mu.Unlock()
	}()
	return nil
}

// StopScanning ends an active scan.
func (c *Central) StopScanning() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.scanning {
		return
	}
	if err := c.adapter.StopScan(); err != nil {
		c.logger.Warn("stop scan", "error", err)
	}
	c.scanning = false
}

func (c *Central) connect(addr bluetooth.Address, hand Hand) error {
	device, err := c.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return fmt.Errorf("ble: connect %s: %w", hand, err)
	}

	if err := waitForServicesResolved(addr, servicesResolvedTimeout); err != nil {
		_ = device.Disconnect()
		return fmt.Errorf("ble: %s services: %w", hand, err)
	}

	char, err := findCharacteristic(addr, serviceUUID, sensorCharUUID)
	if err != nil {
		_ = device.Disconnect()
		return fmt.Errorf("ble: %s discovery: %w", hand, err)
	}

	propCh, err := char.WatchProperties()
	if err != nil {
		_ = device.Disconnect()
		return fmt.Errorf("ble: %s watch: %w", hand, err)
	}
	if err := char.StartNotify(); err != nil {
		_ = char.UnwatchProperties(propCh)
		_ = device.Disconnect()
		return fmt.Errorf("ble: %s notify: %w", hand, err)
	}

	c.mu.Lock()
	c.gloves[hand] = &glove{hand: hand, device: device, char: char, propCh: propCh}
	c.mu.Unlock()
	c.logger.Info("glove streaming", "hand", hand)

	go c.pump(hand, propCh)
	return nil
}

// pump forwards characteristic value changes until the watch channel closes.
func (c *Central) pump(hand Hand, propCh chan *bluez.PropertyChanged) {
	for update := range propCh {
		if update == nil || update.Interface != "org.bluez.GattCharacteristic1" || update.Name != "Value" {
			continue
		}
		if data, ok := update.Value.([]byte); ok {
			c.handle(hand, data)
		}
	}

	c.mu.Lock()
	_, tracked := c.gloves[hand]
	delete(c.gloves, hand)
	h := c.onDisconnect
	c.mu.Unlock()
	if tracked {
		c.logger.Warn("glove stream closed", "hand", hand)
		if h != nil {
			h(hand)
		}
	}
}

// Disconnect drops one glove.
func (c *Central) Disconnect(hand Hand) error {
	c.mu.Lock()
	g, ok := c.gloves[hand]
	delete(c.gloves, hand)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	_ = g.char.StopNotify()
	_ = g.char.UnwatchProperties(g.propCh)
	if err := g.device.Disconnect(); err != nil {
		return fmt.Errorf("ble: disconnect %s: %w", hand, err)
	}
	c.logger.Info("glove disconnected", "hand", hand)
	return nil
}

// DisconnectAll drops every glove.
func (c *Central) DisconnectAll() {
	for _, h := range c.hands {
		if err := c.Disconnect(h); err != nil {
			c.logger.Warn("disconnect", "error", err)
		}
	}
}

// devicePath maps a MAC address to its BlueZ object path on hci0.
func devicePath(addr bluetooth.Address) dbus.ObjectPath {
	id := strings.ReplaceAll(strings.ToUpper(addr.String()), ":", "_")
	return dbus.ObjectPath("/org/bluez/hci0/dev_" + id)
}

// waitForServicesResolved blocks until BlueZ reports ServicesResolved for the
// device. GATT discovery before that returns an empty tree.
func waitForServicesResolved(addr bluetooth.Address, timeout time.Duration) error {
	path := devicePath(addr)
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("dbus: %w", err)
	}
	defer conn.Close()

	if v, err := conn.Object("org.bluez", path).GetProperty("org.bluez.Device1.ServicesResolved"); err == nil {
		if resolved, ok := v.Value().(bool); ok && resolved {
			return nil
		}
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
		dbus.WithMatchObjectPath(path),
	); err != nil {
		return fmt.Errorf("dbus match: %w", err)
	}
	signals := make(chan *dbus.Signal, 16)
	conn.Signal(signals)

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case sig, ok := <-signals:
			if !ok {
				return fmt.Errorf("dbus signal channel closed")
			}
			if servicesResolved(sig) {
				return nil
			}
		case <-timer.C:
			return fmt.Errorf("services not resolved after %s", timeout)
		}
	}
}

func servicesResolved(sig *dbus.Signal) bool {
	if len(sig.Body) < 2 {
		return false
	}
	if iface, ok := sig.Body[0].(string); !ok || iface != "org.bluez.Device1" {
		return false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return false
	}
	v, ok := changed["ServicesResolved"]
	if !ok {
		return false
	}
	resolved, ok := v.Value().(bool)
	return ok && resolved
}

type managedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// findCharacteristic walks the BlueZ object tree on a fresh bus connection;
// the go-bluetooth object manager cache can miss freshly resolved services.
func findCharacteristic(addr bluetooth.Address, service, char string) (*gatt.GattCharacteristic1, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("dbus: %w", err)
	}
	defer conn.Close()

	var managed managedObjects
	if err := conn.Object("org.bluez", "/").
		Call("org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0).
		Store(&managed); err != nil {
		return nil, fmt.Errorf("GetManagedObjects: %w", err)
	}

	dev := string(devicePath(addr))
	svcPath, ok := childWithUUID(managed, dev, "service", "org.bluez.GattService1", service)
	if !ok {
		return nil, fmt.Errorf("service %s not found under %s", service, dev)
	}
	charPath, ok := childWithUUID(managed, svcPath, "char", "org.bluez.GattCharacteristic1", char)
	if !ok {
		return nil, fmt.Errorf("characteristic %s not found under %s", char, svcPath)
	}

	gc, err := gatt.NewGattCharacteristic1(dbus.ObjectPath(charPath))
	if err != nil {
		return nil, fmt.Errorf("characteristic %s: %w", charPath, err)
	}
	return gc, nil
}

// childWithUUID finds the direct child parent/<kind>XXXX exposing iface with
// the given UUID.
func childWithUUID(managed managedObjects, parent, kind, iface, uuid string) (string, bool) {
	prefix := parent + "/" + kind
	for path, ifaces := range managed {
		p := string(path)
		if !strings.HasPrefix(p, prefix) || strings.Contains(p[len(parent)+1:], "/") {
			continue
		}
		props, ok := ifaces[iface]
		if !ok {
			continue
		}
		if v, ok := props["UUID"].Value().(string); ok && strings.EqualFold(v, uuid) {
			return p, true
		}
	}
	return "", false
}
