package transport

import (
	"errors"
	"fmt"
	"sync"
)

// ErrDevicesDenied means local capture hardware could not be acquired,
// typically because the user denied access.
var ErrDevicesDenied = errors.New("media devices unavailable")

// StubDevices implements MediaDevices without real capture hardware.
// Tests flip Deny to simulate the user refusing device access.
type StubDevices struct {
	mu     sync.Mutex
	denied bool
	nextID int
}

// NewStubDevices creates a device source that grants every request.
func NewStubDevices() *StubDevices {
	return &StubDevices{}
}

// Deny makes subsequent Acquire calls fail.
func (d *StubDevices) Deny() {
	d.mu.Lock()
	d.denied = true
	d.mu.Unlock()
}

// Allow restores Acquire after Deny.
func (d *StubDevices) Allow() {
	d.mu.Lock()
	d.denied = false
	d.mu.Unlock()
}

// Acquire returns a fresh capture stream, or ErrDevicesDenied.
func (d *StubDevices) Acquire(audio, video bool) (MediaStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.denied {
		return nil, ErrDevicesDenied
	}
	d.nextID++
	return &captureStream{
		id:    fmt.Sprintf("capture-%d", d.nextID),
		video: video,
	}, nil
}

// captureStream is a local stub capture stream.
type captureStream struct {
	id    string
	video bool

	mu      sync.Mutex
	stopped bool
}

func (s *captureStream) ID() string     { return s.id }
func (s *captureStream) HasVideo() bool { return s.video }

func (s *captureStream) StopTracks() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

// Stopped reports whether StopTracks ran. Used by tests to assert
// capture hardware is released when a call ends.
func (s *captureStream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
