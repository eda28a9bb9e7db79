// SPDX-License-Identifier: LGPL-3.0-or-later

package installer

import (
	"fmt"
	"sync"
	"time"
)

// TestInstaller is an in-memory Installer for tests. Status broadcasts are
// injected with SendStatus.
type TestInstaller struct {
	mu             sync.Mutex
	ready          bool
	readyCallbacks []func(bool)
	observers      []Observer
	lastStatus     Status
	lastStatusSeen time.Time

	installs       []InstallArgs
	activeValues   map[string]bool
	statusRequests int

	// FailInstall makes Install return an error when set.
	FailInstall bool
	// FailSetActive makes SetDlcActiveValue return an error when set.
	FailSetActive bool
}

func NewTestInstaller() *TestInstaller {
	return &TestInstaller{
		ready:        true,
		activeValues: make(map[string]bool),
	}
}

func (i *TestInstaller) Init() error { return nil }

func (i *TestInstaller) Install(args InstallArgs) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.FailInstall {
		return fmt.Errorf("updater refused install")
	}
	i.installs = append(i.installs, args)
	return nil
}

func (i *TestInstaller) IsReady() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.ready
}

// SetReady flips the readiness flag, firing pending callbacks on the
// false-to-true edge.
func (i *TestInstaller) SetReady(ready bool) {
	i.mu.Lock()
	wasReady := i.ready
	i.ready = ready
	var callbacks []func(bool)
	if ready && !wasReady {
		callbacks = i.readyCallbacks
		i.readyCallbacks = nil
	}
	i.mu.Unlock()

	for _, cb := range callbacks {
		cb(true)
	}
}

func (i *TestInstaller) OnReady(cb func(bool)) {
	i.mu.Lock()
	if i.ready {
		i.mu.Unlock()
		cb(true)
		return
	}
	i.readyCallbacks = append(i.readyCallbacks, cb)
	i.mu.Unlock()
}

func (i *TestInstaller) RequestStatus() error {
	i.mu.Lock()
	i.statusRequests++
	status := i.lastStatus
	observers := make([]Observer, len(i.observers))
	copy(observers, i.observers)
	i.mu.Unlock()

	for _, obs := range observers {
		obs.OnStatusUpdate(status)
	}
	return nil
}

func (i *TestInstaller) AddObserver(obs Observer) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.observers = append(i.observers, obs)
}

func (i *TestInstaller) SetDlcActiveValue(active bool, id string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.FailSetActive {
		return fmt.Errorf("updater unavailable")
	}
	i.activeValues[id] = active
	return nil
}

func (i *TestInstaller) LastStatus() (Status, time.Time) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lastStatus, i.lastStatusSeen
}

// SendStatus records status as last-seen and delivers it to observers.
func (i *TestInstaller) SendStatus(status Status) {
	i.mu.Lock()
	i.lastStatus = status
	i.lastStatusSeen = time.Now()
	observers := make([]Observer, len(i.observers))
	copy(observers, i.observers)
	i.mu.Unlock()

	for _, obs := range observers {
		obs.OnStatusUpdate(status)
	}
}

// Installs returns the install requests received so far.
func (i *TestInstaller) Installs() []InstallArgs {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]InstallArgs, len(i.installs))
	copy(out, i.installs)
	return out
}

// ActiveValue returns the recorded active flag for a DLC id.
func (i *TestInstaller) ActiveValue(id string) (bool, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	v, ok := i.activeValues[id]
	return v, ok
}

// StatusRequests counts explicit status queries.
func (i *TestInstaller) StatusRequests() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.statusRequests
}
