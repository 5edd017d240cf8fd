package lifecycle

import (
	"sync"

	"trustgate/pkg/tenants"
)

const (
	EventInstalled   = "installed"
	EventUninstalled = "uninstalled"
)

// Event is emitted after a lifecycle change has been persisted. Collaborators
// (outbound self-registration, audit logging) subscribe to it.
type Event struct {
	Kind      string
	ClientKey string
	Record    tenants.ClientInfo
}

// Events is a process-local signal. Subscribers run synchronously in
// registration order; they must not block.
type Events struct {
	mu   sync.Mutex
	subs []func(Event)
}

func (e *Events) Subscribe(fn func(Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs = append(e.subs, fn)
}

func (e *Events) emit(ev Event) {
	e.mu.Lock()
	subs := make([]func(Event), len(e.subs))
	copy(subs, e.subs)
	e.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}
