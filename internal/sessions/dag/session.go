package dag

import (
	"os"
	"path/filepath"
	"sync"
)

// Session bundles a node Store with its alias and bookmark sidecars,
// giving callers the single object the spec describes as "the session":
// node graph, active head, and the two name -> id maps layered on top.
type Session struct {
	Store     *Store
	Aliases   *NameStore
	Bookmarks *NameStore
}

// OpenSession opens (or creates) the session file at path plus its two
// sidecar name files.
func OpenSession(path string, cfg LockConfig) (*Session, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	store, err := Open(path, cfg)
	if err != nil {
		return nil, err
	}
	aliases, err := NewNameStore(path, KindAlias)
	if err != nil {
		return nil, err
	}
	bookmarks, err := NewNameStore(path, KindBookmark)
	if err != nil {
		return nil, err
	}
	return &Session{Store: store, Aliases: aliases, Bookmarks: bookmarks}, nil
}

// SetAlias binds name to id (must exist), usable for either alias or
// bookmark semantics depending on which NameStore the caller targets.
func (s *Session) SetAlias(name string, id uint64) error {
	return s.Aliases.Set(name, id, s.Store.Contains)
}

// SetBookmark binds name to id in the bookmark sidecar.
func (s *Session) SetBookmark(name string, id uint64) error {
	return s.Bookmarks.Set(name, id, s.Store.Contains)
}

// Use resolves name against aliases then bookmarks and moves the head
// there, returning the resolved id so callers can reload their in-memory
// agent state from the new linear history.
func (s *Session) Use(name string) (uint64, error) {
	if id, ok := s.Aliases.Resolve(name); ok {
		return id, s.Store.SetHead(id)
	}
	if id, ok := s.Bookmarks.Resolve(name); ok {
		return id, s.Store.SetHead(id)
	}
	return 0, ErrAliasNotFound
}

// Manager caches open Sessions by their file path so adapters and
// protocol front-ends sharing a process reuse the same in-memory graph
// (and therefore the same sidecar lock holder) instead of racing two
// independent file reads against each other.
type Manager struct {
	mu   sync.Mutex
	root string
	cfg  LockConfig
	open map[string]*Session
}

// NewManager roots sessions under dir, deriving each session's file path
// from its key via rootedSessionPath.
func NewManager(dir string, cfg LockConfig) *Manager {
	return &Manager{root: dir, cfg: cfg, open: make(map[string]*Session)}
}

// Open returns the cached Session for key, opening it from disk on first
// use.
func (m *Manager) Open(key string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.open[key]; ok {
		return s, nil
	}
	path := rootedSessionPath(m.root, key)
	s, err := OpenSession(path, m.cfg)
	if err != nil {
		return nil, err
	}
	m.open[key] = s
	return s, nil
}
