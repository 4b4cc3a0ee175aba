package dag

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pi-run/pi/internal/llm"
)

// Store is a single session's node graph: every message ever appended,
// addressed by monotonic id, plus the currently active head. One Store
// corresponds to one file on disk; callers share a Store across goroutines
// but never share one on-disk file across two Store instances without the
// sidecar lock serializing them.
type Store struct {
	mu sync.Mutex

	path   string
	lock   *fileLock
	nodes  map[uint64]Node
	order  []uint64 // ids in append order, for deterministic iteration
	nextID uint64
	head   uint64 // 0 means unset
}

// Open loads path (creating it lazily on first write if absent) and
// replays its records into memory, validating id monotonicity and parent
// existence as it goes.
func Open(path string, cfg LockConfig) (*Store, error) {
	s := &Store{
		path:   path,
		lock:   newFileLock(path, cfg),
		nodes:  make(map[uint64]Node),
		nextID: 1,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

func (s *Store) load() error {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	var lastID uint64
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var r record
		if err := json.Unmarshal(raw, &r); err != nil {
			return newLoadError(s.path, line, "invalid json: "+err.Error())
		}
		if r.ID <= lastID {
			return newLoadError(s.path, line, fmt.Sprintf("id %d is not strictly increasing after %d", r.ID, lastID))
		}
		if r.ParentID != nil {
			if _, ok := s.nodes[*r.ParentID]; !ok {
				return newLoadError(s.path, line, fmt.Sprintf("parent_id %d does not exist", *r.ParentID))
			}
		}
		n := nodeFromRecord(r)
		s.nodes[n.ID] = n
		s.order = append(s.order, n.ID)
		lastID = n.ID
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	s.nextID = lastID + 1
	if lastID > 0 {
		s.head = lastID
	}
	return nil
}

// AppendMessages assigns ids to msgs in order, chaining each to the id
// before it (the first message links to parentID), appends them to the
// file under the sidecar lock, and returns the newly assigned ids. It does
// not move the head; callers that want the new chain active call SetHead.
func (s *Store) AppendMessages(parentID *uint64, msgs []llm.Message) ([]uint64, error) {
	release, err := s.lock.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()

	if parentID != nil {
		if _, ok := s.nodes[*parentID]; !ok {
			return nil, ErrNotFound
		}
	}

	ids := make([]uint64, 0, len(msgs))
	nodes := make([]Node, 0, len(msgs))
	prev := parentID
	for _, msg := range msgs {
		id := s.nextID
		s.nextID++
		n := Node{ID: id, ParentID: prev, Message: msg}
		nodes = append(nodes, n)
		ids = append(ids, id)
		pid := id
		prev = &pid
	}

	if err := s.appendRecords(nodes); err != nil {
		return nil, err
	}
	for _, n := range nodes {
		s.nodes[n.ID] = n
		s.order = append(s.order, n.ID)
	}
	return ids, nil
}

// Fork is AppendMessages against a parent that need not be the current
// head; it never moves the head, which is what makes it a fork rather than
// a continuation of the active branch.
func (s *Store) Fork(parentID uint64, msgs []llm.Message) ([]uint64, error) {
	pid := parentID
	return s.AppendMessages(&pid, msgs)
}

func (s *Store) appendRecords(nodes []Node) error {
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, n := range nodes {
		b, err := json.Marshal(recordFromNode(n))
		if err != nil {
			return err
		}
		if _, err := w.Write(b); err != nil {
			return err
		}
		if _, err := w.WriteString("\n"); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

// Contains reports whether id exists in the graph.
func (s *Store) Contains(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.nodes[id]
	return ok
}

// LastAssignedID returns the highest node id assigned so far, or 0 if the
// store is empty. Callers use it to promote a freshly-appended chain to
// the head once a run completes.
func (s *Store) LastAssignedID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nextID == 0 {
		return 0
	}
	return s.nextID - 1
}

// LoadLinear walks parents from headID to the root and returns the
// messages in root-first order.
func (s *Store) LoadLinear(headID uint64) ([]llm.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var chain []Node
	cur := headID
	for {
		n, ok := s.nodes[cur]
		if !ok {
			return nil, ErrNotFound
		}
		chain = append(chain, n)
		if n.ParentID == nil {
			break
		}
		cur = *n.ParentID
	}
	msgs := make([]llm.Message, len(chain))
	for i, n := range chain {
		msgs[len(chain)-1-i] = n.Message
	}
	return msgs, nil
}

// Path returns the node chain from root to id, root-first. Useful for
// diagnostics and for the protocol front-end's run.status payloads.
func (s *Store) NodePath(id uint64) ([]Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var chain []Node
	cur := id
	for {
		n, ok := s.nodes[cur]
		if !ok {
			return nil, ErrNotFound
		}
		chain = append(chain, n)
		if n.ParentID == nil {
			break
		}
		cur = *n.ParentID
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// SetHead moves the active head to id, which must already exist.
func (s *Store) SetHead(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[id]; !ok {
		return ErrNotFound
	}
	s.head = id
	return nil
}

// Head returns the current head id, or ErrNoHead if none has been set yet.
func (s *Store) Head() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.head == 0 {
		return 0, ErrNoHead
	}
	return s.head, nil
}

// Node returns a single node by id.
func (s *Store) Node(id uint64) (Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	return n, ok
}

// rootedSessionPath joins a channel/session root with a session key,
// mirroring how the reference store derives a file path from a session
// identifier: one file per session, named after its key.
func rootedSessionPath(root, sessionKey string) string {
	return filepath.Join(root, sessionKey+".jsonl")
}
