package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresenceTrackOnlineOffline(t *testing.T) {
	tracker := NewDevicePresenceTracker()

	tracker.Track("client1", "device-a")
	assert.True(t, tracker.IsOnline("device-a"))

	deviceID, wentOffline := tracker.Untrack("client1")
	assert.Equal(t, "device-a", deviceID)
	assert.True(t, wentOffline)
	assert.False(t, tracker.IsOnline("device-a"))
}

func TestPresenceMultipleConnectionsSameDevice(t *testing.T) {
	tracker := NewDevicePresenceTracker()

	tracker.Track("client1", "device-a")
	tracker.Track("client2", "device-a")

	_, wentOffline := tracker.Untrack("client1")
	assert.False(t, wentOffline)
	assert.True(t, tracker.IsOnline("device-a"))

	_, wentOffline = tracker.Untrack("client2")
	assert.True(t, wentOffline)
	assert.False(t, tracker.IsOnline("device-a"))
}

func TestPresenceLoopbackClientsAreNotDevices(t *testing.T) {
	tracker := NewDevicePresenceTracker()

	tracker.Track("client1", "")
	deviceID, wentOffline := tracker.Untrack("client1")
	assert.Empty(t, deviceID)
	assert.False(t, wentOffline)
	assert.Empty(t, tracker.Snapshot())
}

func TestPresenceDeviceIDCaseInsensitive(t *testing.T) {
	tracker := NewDevicePresenceTracker()

	tracker.Track("client1", "Device-A")
	assert.True(t, tracker.IsOnline("device-a"))
}

func TestPresenceSnapshotRemembersOfflineDevices(t *testing.T) {
	tracker := NewDevicePresenceTracker()

	tracker.Track("client1", "device-b")
	tracker.Track("client2", "device-a")
	tracker.Untrack("client1")

	snapshot := tracker.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "device-a", snapshot[0].DeviceID)
	assert.True(t, snapshot[0].Online)
	assert.Equal(t, "device-b", snapshot[1].DeviceID)
	assert.False(t, snapshot[1].Online)
}

func TestPresenceUntrackUnknownClient(t *testing.T) {
	tracker := NewDevicePresenceTracker()
	deviceID, wentOffline := tracker.Untrack("nope")
	assert.Empty(t, deviceID)
	assert.False(t, wentOffline)
}
