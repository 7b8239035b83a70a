package bridge

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// DevicePresence is the reported online state of one paired device.
type DevicePresence struct {
	DeviceID   string    `json:"deviceId"`
	Online     bool      `json:"online"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// DevicePresenceTracker maps connected clients to device ids and counts open
// connections per device. A device is online while at least one of its
// connections is open.
type DevicePresenceTracker struct {
	mu           sync.Mutex
	clientDevice map[string]string
	connections  map[string]int
	lastSeen     map[string]time.Time
}

// NewDevicePresenceTracker creates an empty tracker.
func NewDevicePresenceTracker() *DevicePresenceTracker {
	return &DevicePresenceTracker{
		clientDevice: make(map[string]string),
		connections:  make(map[string]int),
		lastSeen:     make(map[string]time.Time),
	}
}

// Track records a connected client. deviceID may be empty for loopback
// clients, which are not devices.
func (t *DevicePresenceTracker) Track(clientID, deviceID string) {
	deviceID = normalizeDeviceID(deviceID)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.clientDevice[clientID] = deviceID
	if deviceID == "" {
		return
	}
	t.connections[deviceID]++
	t.lastSeen[deviceID] = time.Now().UTC()
}

// Untrack removes a client and reports whether its device just went offline.
func (t *DevicePresenceTracker) Untrack(clientID string) (deviceID string, wentOffline bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	deviceID, ok := t.clientDevice[clientID]
	if !ok {
		return "", false
	}
	delete(t.clientDevice, clientID)
	if deviceID == "" {
		return "", false
	}

	t.lastSeen[deviceID] = time.Now().UTC()
	if t.connections[deviceID] <= 1 {
		delete(t.connections, deviceID)
		return deviceID, true
	}
	t.connections[deviceID]--
	return deviceID, false
}

// IsOnline reports whether a device has at least one open connection.
func (t *DevicePresenceTracker) IsOnline(deviceID string) bool {
	deviceID = normalizeDeviceID(deviceID)
	if deviceID == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connections[deviceID] > 0
}

// Snapshot lists every device seen since startup, ordered by device id.
func (t *DevicePresenceTracker) Snapshot() []DevicePresence {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := make([]DevicePresence, 0, len(t.lastSeen))
	for deviceID, seen := range t.lastSeen {
		result = append(result, DevicePresence{
			DeviceID:   deviceID,
			Online:     t.connections[deviceID] > 0,
			LastSeenAt: seen,
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].DeviceID < result[j].DeviceID })
	return result
}

func normalizeDeviceID(deviceID string) string {
	return strings.ToLower(strings.TrimSpace(deviceID))
}
