package hal

import (
	"fmt"

	"github.com/gofrs/flock"
)

// DeviceLock guarantees a single agent per stage controller on this host.
type DeviceLock struct {
	fl *flock.Flock
}

// LockDevice takes the lock file at path without blocking. It fails if
// another process holds it.
func LockDevice(path string) (*DeviceLock, error) {
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("device %s is locked by another agent", path)
	}
	return &DeviceLock{fl: fl}, nil
}

func (l *DeviceLock) Path() string { return l.fl.Path() }

func (l *DeviceLock) Unlock() error {
	return l.fl.Unlock()
}
