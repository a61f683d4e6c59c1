// Package distrib abstracts the configuration distribution backend: the
// store that holds the per-tenant YAML documents and pushes change
// notifications back to every node. The engine consumes it through the
// Client contract; the file and Redis implementations cover single-node
// and clustered deployments.
package distrib

import (
	"context"
	"sync"

	"github.com/gatehouse-io/gatehouse/pkg/observability"
)

// Client reads and writes configuration documents. A missing document is
// reported as (nil, nil), never as an error: "not configured yet" is a
// normal state.
type Client interface {
	// GetConfig returns the document at path for the tenant, or nil
	// when absent.
	GetConfig(ctx context.Context, tenant, path string) ([]byte, error)

	// UpdateConfig replaces the document at path. Empty content deletes
	// it. The write eventually produces a refresh notification on every
	// node, including this one; the round trip is asynchronous.
	UpdateConfig(ctx context.Context, tenant, path string, content []byte) error
}

// Listener receives push updates for configuration paths it owns.
type Listener interface {
	// IsListening reports whether this listener owns the path.
	IsListening(path string) bool

	// OnInit delivers the initial content of a path at startup.
	OnInit(path string, content []byte)

	// OnRefresh delivers changed content. Nil or empty content means
	// the document was deleted.
	OnRefresh(path string, content []byte)
}

// Hub fans incoming path notifications out to registered listeners.
// Registration order is preserved; dispatch is serialized so listeners
// never see concurrent callbacks for the same hub.
type Hub struct {
	mu        sync.Mutex
	listeners []Listener
	log       *observability.Logger
}

func NewHub(log *observability.Logger) *Hub {
	return &Hub{log: log}
}

// Register adds a listener. Listeners registered after Init ran only see
// subsequent refreshes.
func (h *Hub) Register(l Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, l)
}

// Init delivers initial content to every owning listener.
func (h *Hub) Init(path string, content []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, l := range h.listeners {
		if l.IsListening(path) {
			l.OnInit(path, content)
		}
	}
}

// Refresh delivers changed content to every owning listener.
func (h *Hub) Refresh(path string, content []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	matched := false
	for _, l := range h.listeners {
		if l.IsListening(path) {
			matched = true
			l.OnRefresh(path, content)
		}
	}
	if !matched {
		h.log.WithField("path", path).Debug("no listener for changed path")
	}
}
