package dag

import (
	"path/filepath"
	"testing"

	"github.com/pi-run/pi/internal/llm"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.jsonl")
	s, err := Open(path, LockConfig{WaitMs: 200, StaleMs: 1000})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestAppendMessages_AssignsMonotonicIDs(t *testing.T) {
	s := tempStore(t)

	ids, err := s.AppendMessages(nil, []llm.Message{
		llm.TextMessage(llm.RoleUser, "hello"),
		llm.TextMessage(llm.RoleAssistant, "hi"),
	})
	if err != nil {
		t.Fatalf("AppendMessages: %v", err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("expected ids [1 2], got %v", ids)
	}

	more, err := s.AppendMessages(&ids[1], []llm.Message{llm.TextMessage(llm.RoleUser, "again")})
	if err != nil {
		t.Fatalf("AppendMessages (chained): %v", err)
	}
	if more[0] != 3 {
		t.Fatalf("expected id 3, got %d", more[0])
	}
}

func TestLoadLinear_WalksToRoot(t *testing.T) {
	s := tempStore(t)

	ids, err := s.AppendMessages(nil, []llm.Message{
		llm.TextMessage(llm.RoleUser, "one"),
		llm.TextMessage(llm.RoleAssistant, "two"),
		llm.TextMessage(llm.RoleUser, "three"),
	})
	if err != nil {
		t.Fatalf("AppendMessages: %v", err)
	}

	msgs, err := s.LoadLinear(ids[len(ids)-1])
	if err != nil {
		t.Fatalf("LoadLinear: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Content[0].Text != "one" || msgs[2].Content[0].Text != "three" {
		t.Fatalf("unexpected order: %+v", msgs)
	}
}

func TestFork_DoesNotMoveHead(t *testing.T) {
	s := tempStore(t)

	ids, err := s.AppendMessages(nil, []llm.Message{llm.TextMessage(llm.RoleUser, "root")})
	if err != nil {
		t.Fatalf("AppendMessages: %v", err)
	}
	if err := s.SetHead(ids[0]); err != nil {
		t.Fatalf("SetHead: %v", err)
	}

	forked, err := s.Fork(ids[0], []llm.Message{llm.TextMessage(llm.RoleUser, "branch")})
	if err != nil {
		t.Fatalf("Fork: %v", err)
	}

	head, err := s.Head()
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if head != ids[0] {
		t.Fatalf("expected head unchanged at %d, got %d", ids[0], head)
	}
	if !s.Contains(forked[0]) {
		t.Fatalf("forked node %d missing from graph", forked[0])
	}
}

func TestAppendMessages_UnknownParentRejected(t *testing.T) {
	s := tempStore(t)
	bogus := uint64(999)
	if _, err := s.AppendMessages(&bogus, []llm.Message{llm.TextMessage(llm.RoleUser, "x")}); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOpen_ReplaysPersistedRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	cfg := LockConfig{WaitMs: 200, StaleMs: 1000}

	s1, err := Open(path, cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ids, err := s1.AppendMessages(nil, []llm.Message{
		llm.TextMessage(llm.RoleUser, "persisted"),
	})
	if err != nil {
		t.Fatalf("AppendMessages: %v", err)
	}

	s2, err := Open(path, cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !s2.Contains(ids[0]) {
		t.Fatalf("reopened store missing node %d", ids[0])
	}
	msgs, err := s2.LoadLinear(ids[0])
	if err != nil {
		t.Fatalf("LoadLinear after reopen: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content[0].Text != "persisted" {
		t.Fatalf("unexpected replayed messages: %+v", msgs)
	}
}

func TestOpen_RejectsNonMonotonicIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	if err := writeRaw(path, `{"id":1,"message":{"role":"user","content":[{"type":"text","text":"a"}]}}`+"\n"+
		`{"id":1,"message":{"role":"user","content":[{"type":"text","text":"b"}]}}`+"\n"); err != nil {
		t.Fatalf("writeRaw: %v", err)
	}
	_, err := Open(path, LockConfig{WaitMs: 200, StaleMs: 1000})
	if _, ok := err.(*LoadError); !ok {
		t.Fatalf("expected *LoadError, got %v", err)
	}
}

func TestOpen_RejectsMissingParent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.jsonl")
	if err := writeRaw(path, `{"id":1,"parent_id":99,"message":{"role":"user","content":[{"type":"text","text":"a"}]}}`+"\n"); err != nil {
		t.Fatalf("writeRaw: %v", err)
	}
	_, err := Open(path, LockConfig{WaitMs: 200, StaleMs: 1000})
	if _, ok := err.(*LoadError); !ok {
		t.Fatalf("expected *LoadError, got %v", err)
	}
}
