package testsupport

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"sync"
)

// MemStore is an in-memory remote store implementing the contentsync.Store
// primitives. It counts writes and can inject failures per path.
type MemStore struct {
	mu          sync.Mutex
	objects     map[string][]byte
	dirs        map[string]bool
	puts        int
	mkdirs      int
	failPut     map[string]error
	failGet     map[string]error
	requireDirs bool
}

// NewMemStore returns an empty store. When requireDirs is true, Put fails
// unless the parent directory was created with MkdirAll first.
func NewMemStore(requireDirs bool) *MemStore {
	return &MemStore{
		objects:     make(map[string][]byte),
		dirs:        map[string]bool{".": true, "/": true, "": true},
		failPut:     make(map[string]error),
		failGet:     make(map[string]error),
		requireDirs: requireDirs,
	}
}

func (m *MemStore) Get(_ context.Context, p string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failGet[p]; err != nil {
		return nil, err
	}
	data, ok := m.objects[p]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", p, fs.ErrNotExist)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemStore) Put(_ context.Context, p string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failPut[p]; err != nil {
		return err
	}
	if m.requireDirs && !m.dirs[path.Dir(p)] {
		return fmt.Errorf("put %s: parent directory missing", p)
	}
	m.objects[p] = append([]byte(nil), data...)
	m.puts++
	return nil
}

func (m *MemStore) MkdirAll(_ context.Context, p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mkdirs++
	for dir := path.Clean(p); !m.dirs[dir]; dir = path.Dir(dir) {
		m.dirs[dir] = true
	}
	return nil
}

// FailPut makes every Put to p return err. A nil err clears the failure.
func (m *MemStore) FailPut(p string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failPut, p)
		return
	}
	m.failPut[p] = err
}

// FailGet makes every Get of p return err.
func (m *MemStore) FailGet(p string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failGet, p)
		return
	}
	m.failGet[p] = err
}

// Object returns the stored bytes at p.
func (m *MemStore) Object(p string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[p]
	return data, ok
}

// Paths lists stored object paths in sorted order.
func (m *MemStore) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.objects))
	for p := range m.objects {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Puts returns the number of successful writes.
func (m *MemStore) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

// Mkdirs returns the number of MkdirAll calls.
func (m *MemStore) Mkdirs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mkdirs
}
