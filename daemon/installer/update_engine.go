// SPDX-License-Identifier: LGPL-3.0-or-later

package installer

import (
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"dlcd/logger"
)

const (
	dbusService   = "org.chromium.UpdateEngine"
	dbusPath      = "/org/chromium/UpdateEngine"
	dbusInterface = "org.chromium.UpdateEngineInterface"

	signalStatusUpdate = "StatusUpdate"
)

// UpdateEngine is the production updater proxy over the system bus.
type UpdateEngine struct {
	conn *dbus.Conn
	obj  dbus.BusObject
	log  logger.Logger

	mu              sync.Mutex
	ready           bool
	readyCallbacks  []func(bool)
	observers       []Observer
	lastStatus      Status
	lastStatusSeen  time.Time
	signals         chan *dbus.Signal
}

// NewUpdateEngine connects to the system bus and binds the updater object.
func NewUpdateEngine(log logger.Logger) (*UpdateEngine, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}
	return &UpdateEngine{
		conn: conn,
		obj:  conn.Object(dbusService, dbus.ObjectPath(dbusPath)),
		log:  log,
	}, nil
}

// Init subscribes to status and name-owner signals and resolves initial
// readiness.
func (u *UpdateEngine) Init() error {
	if err := u.conn.AddMatchSignal(
		dbus.WithMatchInterface(dbusInterface),
		dbus.WithMatchMember(signalStatusUpdate),
	); err != nil {
		return fmt.Errorf("subscribe to updater status signal: %w", err)
	}
	if err := u.conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
		dbus.WithMatchArg(0, dbusService),
	); err != nil {
		return fmt.Errorf("subscribe to updater ownership signal: %w", err)
	}

	u.signals = make(chan *dbus.Signal, 16)
	u.conn.Signal(u.signals)
	go u.dispatch()

	var hasOwner bool
	if err := u.conn.BusObject().Call(
		"org.freedesktop.DBus.NameHasOwner", 0, dbusService).Store(&hasOwner); err != nil {
		u.log.Warn("failed to query updater service ownership", "error", err)
	}
	if hasOwner {
		u.setReady(true)
	}
	return nil
}

func (u *UpdateEngine) dispatch() {
	for sig := range u.signals {
		switch sig.Name {
		case dbusInterface + "." + signalStatusUpdate:
			u.handleStatusSignal(sig)
		case "org.freedesktop.DBus.NameOwnerChanged":
			u.handleNameOwnerChanged(sig)
		}
	}
}

func (u *UpdateEngine) handleStatusSignal(sig *dbus.Signal) {
	var (
		op        string
		isInstall bool
		progress  float64
		lastErr   string
	)
	if err := dbus.Store(sig.Body, &op, &isInstall, &progress, &lastErr); err != nil {
		u.log.Error("malformed updater status signal", "error", err)
		return
	}
	u.broadcast(Status{
		Operation:        Operation(op),
		IsInstall:        isInstall,
		Progress:         progress,
		LastAttemptError: lastErr,
	})
}

func (u *UpdateEngine) handleNameOwnerChanged(sig *dbus.Signal) {
	if len(sig.Body) != 3 {
		return
	}
	newOwner, _ := sig.Body[2].(string)
	u.setReady(newOwner != "")
}

func (u *UpdateEngine) setReady(ready bool) {
	u.mu.Lock()
	wasReady := u.ready
	u.ready = ready
	var callbacks []func(bool)
	if ready && !wasReady {
		callbacks = u.readyCallbacks
		u.readyCallbacks = nil
	}
	u.mu.Unlock()

	if ready != wasReady {
		u.log.Info("updater service availability changed", "ready", ready)
	}
	for _, cb := range callbacks {
		cb(true)
	}
}

func (u *UpdateEngine) broadcast(status Status) {
	u.mu.Lock()
	u.lastStatus = status
	u.lastStatusSeen = time.Now()
	observers := make([]Observer, len(u.observers))
	copy(observers, u.observers)
	u.mu.Unlock()

	for _, obs := range observers {
		obs.OnStatusUpdate(status)
	}
}

func (u *UpdateEngine) Install(args InstallArgs) error {
	call := u.obj.Call(dbusInterface+".AttemptInstall", 0,
		args.ID, args.URL, args.Scaled, args.ForceOTA)
	if call.Err != nil {
		return fmt.Errorf("updater AttemptInstall DLC=%s: %w", args.ID, call.Err)
	}
	return nil
}

func (u *UpdateEngine) IsReady() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.ready
}

func (u *UpdateEngine) OnReady(cb func(bool)) {
	u.mu.Lock()
	if u.ready {
		u.mu.Unlock()
		cb(true)
		return
	}
	u.readyCallbacks = append(u.readyCallbacks, cb)
	u.mu.Unlock()
}

func (u *UpdateEngine) RequestStatus() error {
	var (
		op        string
		isInstall bool
		progress  float64
		lastErr   string
	)
	if err := u.obj.Call(dbusInterface+".GetStatus", 0).Store(
		&op, &isInstall, &progress, &lastErr); err != nil {
		return fmt.Errorf("updater GetStatus: %w", err)
	}
	u.broadcast(Status{
		Operation:        Operation(op),
		IsInstall:        isInstall,
		Progress:         progress,
		LastAttemptError: lastErr,
	})
	return nil
}

func (u *UpdateEngine) AddObserver(obs Observer) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.observers = append(u.observers, obs)
}

func (u *UpdateEngine) SetDlcActiveValue(active bool, id string) error {
	call := u.obj.Call(dbusInterface+".SetDlcActiveValue", 0, active, id)
	if call.Err != nil {
		return fmt.Errorf("updater SetDlcActiveValue DLC=%s: %w", id, call.Err)
	}
	return nil
}

func (u *UpdateEngine) LastStatus() (Status, time.Time) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.lastStatus, u.lastStatusSeen
}
