// SPDX-License-Identifier: LGPL-3.0-or-later

// Package notify delivers per-DLC state transitions to subscribers.
package notify

import (
	"sync"

	"dlcd/daemon/models"
)

// Observer receives every DLC state change and progress increment.
type Observer interface {
	DlcStateChanged(state models.DlcState)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(state models.DlcState)

func (f ObserverFunc) DlcStateChanged(state models.DlcState) { f(state) }

// Notifier fans one state change out to all attached observers. Delivery
// is synchronous and in attach order, so a single subscriber observes a
// monotonic progress sequence.
type Notifier struct {
	mu        sync.RWMutex
	observers []Observer
}

func New() *Notifier {
	return &Notifier{}
}

// Attach registers an observer for subsequent notifications.
func (n *Notifier) Attach(obs Observer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.observers = append(n.observers, obs)
}

// Notify delivers state to every observer.
func (n *Notifier) Notify(state models.DlcState) {
	n.mu.RLock()
	observers := make([]Observer, len(n.observers))
	copy(observers, n.observers)
	n.mu.RUnlock()

	for _, obs := range observers {
		obs.DlcStateChanged(state)
	}
}
