package distrib

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gatehouse-io/gatehouse/pkg/observability"
)

type recordingListener struct {
	mu       sync.Mutex
	prefix   string
	inits    map[string][]byte
	refreshe map[string][]byte
}

func newRecordingListener(prefix string) *recordingListener {
	return &recordingListener{
		prefix:   prefix,
		inits:    make(map[string][]byte),
		refreshe: make(map[string][]byte),
	}
}

func (l *recordingListener) IsListening(path string) bool {
	return strings.HasPrefix(path, l.prefix)
}

func (l *recordingListener) OnInit(path string, content []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inits[path] = append([]byte(nil), content...)
}

func (l *recordingListener) OnRefresh(path string, content []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refreshe[path] = append([]byte(nil), content...)
}

func (l *recordingListener) refreshed(path string) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.refreshe[path]
	return c, ok
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func TestFileClient_ReadWriteDelete(t *testing.T) {
	client, err := NewFileClient(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("NewFileClient failed: %v", err)
	}
	ctx := context.Background()
	path := "/config/tenants/DEMO/roles.yml"

	// Absent document reads as nil, nil.
	content, err := client.GetConfig(ctx, "DEMO", path)
	if err != nil || content != nil {
		t.Fatalf("absent document: got %q, %v", content, err)
	}

	if err := client.UpdateConfig(ctx, "DEMO", path, []byte("ROLE_ADMIN:\n  description: admin\n")); err != nil {
		t.Fatalf("UpdateConfig failed: %v", err)
	}

	content, err = client.GetConfig(ctx, "DEMO", path)
	if err != nil {
		t.Fatalf("GetConfig failed: %v", err)
	}
	if !strings.Contains(string(content), "ROLE_ADMIN") {
		t.Errorf("unexpected content: %q", content)
	}

	// Empty content deletes.
	if err := client.UpdateConfig(ctx, "DEMO", path, nil); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	content, err = client.GetConfig(ctx, "DEMO", path)
	if err != nil || content != nil {
		t.Errorf("deleted document: got %q, %v", content, err)
	}
}

func TestFileClient_BootstrapAndResync(t *testing.T) {
	client, err := NewFileClient(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("NewFileClient failed: %v", err)
	}
	ctx := context.Background()
	path := "/config/tenants/DEMO/permissions.yml"
	if err := client.UpdateConfig(ctx, "DEMO", path, []byte("entity: {}\n")); err != nil {
		t.Fatalf("UpdateConfig failed: %v", err)
	}

	hub := NewHub(testLogger())
	listener := newRecordingListener("/config/tenants/")
	hub.Register(listener)

	if err := client.Bootstrap(hub); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	if _, ok := listener.inits[path]; !ok {
		t.Errorf("bootstrap did not deliver %s: %v", path, listener.inits)
	}

	if err := client.Resync(ctx, hub); err != nil {
		t.Fatalf("Resync failed: %v", err)
	}
	if _, ok := listener.refreshed(path); !ok {
		t.Error("resync did not deliver a refresh")
	}
}

func TestFileClient_WatchDeliversChanges(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping fsnotify test in short mode")
	}

	client, err := NewFileClient(t.TempDir(), testLogger())
	if err != nil {
		t.Fatalf("NewFileClient failed: %v", err)
	}

	// Seed the tree first so the directory hierarchy is watched from the
	// start; new nested directories racing the watcher are flaky on some
	// platforms.
	path := "/config/tenants/DEMO/roles.yml"
	if err := client.UpdateConfig(context.Background(), "DEMO", path, []byte("{}\n")); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	hub := NewHub(testLogger())
	listener := newRecordingListener("/config/tenants/")
	hub.Register(listener)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = client.Watch(ctx, hub)
	}()

	// Give the watcher a moment to install.
	time.Sleep(100 * time.Millisecond)

	if err := client.UpdateConfig(ctx, "DEMO", path, []byte("ROLE_USER:\n  description: user\n")); err != nil {
		t.Fatalf("UpdateConfig failed: %v", err)
	}

	ok := waitFor(t, 3*time.Second, func() bool {
		content, ok := listener.refreshed(path)
		return ok && strings.Contains(string(content), "ROLE_USER")
	})
	if !ok {
		t.Fatal("watch did not deliver the changed document")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("watch did not stop on context cancellation")
	}
}

func TestHub_DispatchesOnlyToOwners(t *testing.T) {
	hub := NewHub(testLogger())
	roles := newRecordingListener("/config/tenants/roles-")
	perms := newRecordingListener("/config/tenants/perms-")
	hub.Register(roles)
	hub.Register(perms)

	hub.Refresh("/config/tenants/roles-DEMO", []byte("x"))

	if _, ok := roles.refreshed("/config/tenants/roles-DEMO"); !ok {
		t.Error("owning listener not notified")
	}
	if len(perms.refreshe) != 0 {
		t.Error("non-owning listener notified")
	}
}
