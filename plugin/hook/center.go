package hook

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrInterrupt signals that a Hook handler wants to stop further processing.
var ErrInterrupt = errors.New("hook interrupted")

// HookFn is a hook handler function.
// Returns (data, nil) to continue, (data, err) to record a failure and
// continue, or (data, ErrInterrupt) to stop.
type HookFn func(ctx context.Context, event string, data interface{}) (interface{}, error)

type hookEntry struct {
	priority int
	fn       HookFn
	name     string
}

// HookCenter manages event hook registrations.
type HookCenter struct {
	mu    sync.RWMutex
	hooks map[string][]*hookEntry
}

// NewHookCenter creates a new HookCenter.
func NewHookCenter() *HookCenter {
	return &HookCenter{hooks: make(map[string][]*hookEntry)}
}

// Register adds a HookFn for the given event with the given priority (lower runs first).
// name is used for Unregister.
func (hc *HookCenter) Register(event string, priority int, name string, fn HookFn) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	entries := hc.hooks[event]
	entries = append(entries, &hookEntry{priority: priority, fn: fn, name: name})
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].priority < entries[j].priority
	})
	hc.hooks[event] = entries
}

// Unregister removes all hooks with the given name for the given event.
func (hc *HookCenter) Unregister(event, name string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	entries := hc.hooks[event]
	n := 0
	for _, e := range entries {
		if e.name != name {
			entries[n] = e
			n++
		}
	}
	hc.hooks[event] = entries[:n]
}

// Trigger executes all registered hooks for event in priority order.
// Data flows through each handler, allowing modification. Handler errors are
// joined and returned once every handler has run; ErrInterrupt stops the
// chain immediately.
func (hc *HookCenter) Trigger(ctx context.Context, event string, data interface{}) (interface{}, error) {
	hc.mu.RLock()
	entries := make([]*hookEntry, len(hc.hooks[event]))
	copy(entries, hc.hooks[event])
	hc.mu.RUnlock()

	var errs []error
	for _, e := range entries {
		out, err := e.fn(ctx, event, data)
		data = out
		if errors.Is(err, ErrInterrupt) {
			return data, err
		}
		if err != nil {
			errs = append(errs, &HandlerError{Name: e.name, Err: err})
		}
	}
	return data, errors.Join(errs...)
}

// HandlerError names the hook that failed.
type HandlerError struct {
	Name string
	Err  error
}

func (e *HandlerError) Error() string { return "hook " + e.Name + ": " + e.Err.Error() }
func (e *HandlerError) Unwrap() error { return e.Err }

// ---- Account lifecycle events ----

const (
	// AfterAccountCreate carries the created *model.Account.
	AfterAccountCreate = "after_account_create"
	// AfterAccountLogin carries the logged-in *model.Account.
	AfterAccountLogin = "after_account_login"
	// AfterAccountStatusChange carries an account.StatusChange.
	AfterAccountStatusChange = "after_account_status_change"
)
