// Package catalog serves the read-only privilege catalog: the
// per-microservice list of privilege definitions that frames the role
// matrix. The engine never mutates it; it arrives either as static
// wiring or as its own push-distributed document.
package catalog

import (
	"bytes"
	"context"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/gatehouse-io/gatehouse/pkg/observability"
	"github.com/gatehouse-io/gatehouse/pkg/rbac"
)

// Provider returns the privilege catalog grouped by owning
// microservice. Implementations are treated as always-available and
// cache-fresh by callers.
type Provider interface {
	Privileges(ctx context.Context) (map[string][]rbac.Privilege, error)
}

// Static is a fixed catalog, used in tests and single-service setups.
type Static struct {
	privileges map[string][]rbac.Privilege
}

func NewStatic(privileges map[string][]rbac.Privilege) *Static {
	return &Static{privileges: tagOwners(privileges)}
}

func (s *Static) Privileges(ctx context.Context) (map[string][]rbac.Privilege, error) {
	return s.privileges, nil
}

// privilegeDoc is the document body of one privilege entry; the owning
// msName is the enclosing mapping key.
type privilegeDoc struct {
	Key         string   `yaml:"key"`
	Description string   `yaml:"description,omitempty"`
	Resources   []string `yaml:"resources,omitempty"`
}

// Document serves the catalog from a push-distributed YAML document
// (msName -> list of privilege definitions). It implements
// distrib.Listener for its fixed document path; parse failures keep the
// previous catalog.
type Document struct {
	path string
	log  *observability.Logger

	mu         sync.RWMutex
	privileges map[string][]rbac.Privilege
}

func NewDocument(path string, log *observability.Logger) *Document {
	return &Document{
		path:       path,
		log:        log.WithField("document", "privileges"),
		privileges: make(map[string][]rbac.Privilege),
	}
}

func (d *Document) Privileges(ctx context.Context) (map[string][]rbac.Privilege, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.privileges, nil
}

// IsListening matches the catalog's exact document path.
func (d *Document) IsListening(path string) bool {
	return path == d.path
}

func (d *Document) OnInit(path string, content []byte) {
	d.OnRefresh(path, content)
}

func (d *Document) OnRefresh(path string, content []byte) {
	if isEmptyDocument(content) {
		d.mu.Lock()
		d.privileges = make(map[string][]rbac.Privilege)
		d.mu.Unlock()
		d.log.Info("privilege catalog cleared")
		return
	}

	var doc map[string][]privilegeDoc
	if err := yaml.Unmarshal(content, &doc); err != nil {
		// Keep the previous catalog; a malformed push must not blank
		// the matrix rows.
		d.log.WithError(&rbac.ValidationError{Path: path, Err: err}).Error("privilege catalog parse failed")
		return
	}

	parsed := make(map[string][]rbac.Privilege, len(doc))
	for ms, privs := range doc {
		for _, p := range privs {
			parsed[ms] = append(parsed[ms], rbac.Privilege{
				MsName:      ms,
				Key:         p.Key,
				Description: p.Description,
				Resources:   p.Resources,
			})
		}
	}

	d.mu.Lock()
	d.privileges = parsed
	d.mu.Unlock()
	d.log.WithField("services", len(parsed)).Info("privilege catalog reloaded")
}

func tagOwners(privileges map[string][]rbac.Privilege) map[string][]rbac.Privilege {
	out := make(map[string][]rbac.Privilege, len(privileges))
	for ms, privs := range privileges {
		tagged := make([]rbac.Privilege, len(privs))
		for i, p := range privs {
			p.MsName = ms
			tagged[i] = p
		}
		out[ms] = tagged
	}
	return out
}

// isEmptyDocument reports whether content is absent or the YAML empty
// document marker, both of which mean "no document".
func isEmptyDocument(content []byte) bool {
	trimmed := strings.TrimSpace(string(bytes.TrimSpace(content)))
	return trimmed == "" || trimmed == "---"
}
