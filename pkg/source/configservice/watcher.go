// Package configservice implements the push-distributed configuration
// source: a per-tenant document cache kept hot by refresh notifications,
// fronting the distribution backend for writes.
package configservice

import (
	"bytes"
	"strings"
	"sync"

	"github.com/gatehouse-io/gatehouse/pkg/observability"
	"github.com/gatehouse-io/gatehouse/pkg/rbac"
	"github.com/gatehouse-io/gatehouse/pkg/tenant"
)

const tenantVar = "{tenantName}"

// MatchTenant matches a path against a template containing exactly one
// tenant-name variable segment, e.g.
// /config/tenants/{tenantName}/roles.yml. Literal segments compare
// case-sensitively; the extracted tenant is normalized to its canonical
// uppercase key.
func MatchTenant(template, path string) (string, bool) {
	tSegs := strings.Split(template, "/")
	pSegs := strings.Split(path, "/")
	if len(tSegs) != len(pSegs) {
		return "", false
	}
	var extracted string
	for i, seg := range tSegs {
		if seg == tenantVar {
			if pSegs[i] == "" {
				return "", false
			}
			extracted = pSegs[i]
			continue
		}
		if seg != pSegs[i] {
			return "", false
		}
	}
	if extracted == "" {
		return "", false
	}
	return tenant.Normalize(extracted), true
}

// ResolvePath substitutes the tenant into a path template.
func ResolvePath(template, tenantKey string) string {
	return strings.Replace(template, tenantVar, tenantKey, 1)
}

// isEmptyDocument reports whether content is absent or the YAML empty
// document marker; both mean "no document".
func isEmptyDocument(content []byte) bool {
	trimmed := string(bytes.TrimSpace(content))
	return trimmed == "" || trimmed == "---"
}

// Watcher caches one document type per tenant and applies push updates.
// Reads are concurrent; updates replace a tenant's entry whole, so no
// reader ever observes a partially applied document. A document that
// fails to parse is logged and dropped, leaving the previous entry: an
// already-initialized tenant keeps running on its last-known-good
// configuration rather than an empty rule set.
type Watcher[T any] struct {
	template string
	document string // metric/log label: "roles" or "permissions"
	parse    func(content []byte) (T, error)
	log      *observability.Logger
	metrics  *observability.Metrics

	mu    sync.RWMutex
	cache map[string]T
}

func NewWatcher[T any](template, document string, parse func([]byte) (T, error), log *observability.Logger, metrics *observability.Metrics) *Watcher[T] {
	return &Watcher[T]{
		template: template,
		document: document,
		parse:    parse,
		log:      log.WithField("document", document),
		metrics:  metrics,
		cache:    make(map[string]T),
	}
}

// IsListening reports whether the watcher owns the path.
func (w *Watcher[T]) IsListening(path string) bool {
	_, ok := MatchTenant(w.template, path)
	return ok
}

// OnInit is the initial delivery; identical to a refresh.
func (w *Watcher[T]) OnInit(path string, content []byte) {
	w.OnRefresh(path, content)
}

// OnRefresh applies a push update. Empty content removes the tenant's
// entry entirely; anything else replaces it after a successful parse.
// Never panics or propagates parse errors past the watcher.
func (w *Watcher[T]) OnRefresh(path string, content []byte) {
	tenantKey, ok := MatchTenant(w.template, path)
	if !ok {
		return
	}
	log := w.log.WithField("tenant", tenantKey)

	if isEmptyDocument(content) {
		w.mu.Lock()
		delete(w.cache, tenantKey)
		size := len(w.cache)
		w.mu.Unlock()
		w.metrics.ConfigReloadsTotal.WithLabelValues(w.document, "deleted").Inc()
		w.metrics.ConfigDocumentsCached.WithLabelValues(w.document).Set(float64(size))
		log.Info("tenant configuration removed")
		return
	}

	parsed, err := w.parse(content)
	if err != nil {
		w.metrics.ConfigReloadsTotal.WithLabelValues(w.document, "error").Inc()
		log.WithError(&rbac.ValidationError{Path: path, Err: err}).Error("configuration reload failed, keeping previous state")
		return
	}

	w.mu.Lock()
	w.cache[tenantKey] = parsed
	size := len(w.cache)
	w.mu.Unlock()
	w.metrics.ConfigReloadsTotal.WithLabelValues(w.document, "ok").Inc()
	w.metrics.ConfigDocumentsCached.WithLabelValues(w.document).Set(float64(size))
	log.Info("tenant configuration reloaded")
}

// Get returns the tenant's cached entry.
func (w *Watcher[T]) Get(tenantKey string) (T, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	v, ok := w.cache[tenantKey]
	return v, ok
}

// Path resolves the watcher's template for a tenant.
func (w *Watcher[T]) Path(tenantKey string) string {
	return ResolvePath(w.template, tenantKey)
}
