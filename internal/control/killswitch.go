package control

import (
	"sync"
	"sync/atomic"
)

// KillSwitch pauses moderation writes and sweeps at runtime. Membership
// events are still recorded while it is engaged.
type KillSwitch struct {
	state    atomic.Bool
	mu       sync.Mutex
	watchers []func(bool)
}

// NewKillSwitch creates a kill switch with the provided default state.
func NewKillSwitch(enabled bool) *KillSwitch {
	ks := &KillSwitch{}
	ks.state.Store(enabled)
	return ks
}

// Watch registers fn to be called after every state change.
func (k *KillSwitch) Watch(fn func(enabled bool)) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.watchers = append(k.watchers, fn)
}

// Enable suspends moderation actions.
func (k *KillSwitch) Enable() { k.Set(true) }

// Disable resumes moderation actions.
func (k *KillSwitch) Disable() { k.Set(false) }

// Enabled reports whether moderation actions are suspended. A nil switch is
// never engaged.
func (k *KillSwitch) Enabled() bool {
	return k != nil && k.state.Load()
}

// Set toggles the state directly.
func (k *KillSwitch) Set(enabled bool) {
	if k.state.Swap(enabled) == enabled {
		return
	}
	k.mu.Lock()
	watchers := append([]func(bool){}, k.watchers...)
	k.mu.Unlock()
	for _, fn := range watchers {
		fn(enabled)
	}
}
