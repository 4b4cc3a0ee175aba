package main

import (
	"errors"
	"fmt"

	"github.com/pi-run/pi/internal/llm"
	"github.com/pi-run/pi/internal/sessions/dag"
)

// openSession resolves flags.session/branch_from/no_session into a
// (store, head, history) triple Run consumes. A nil store means
// --no-session was given: the run is not persisted at all.
func openSession(f *runtimeFlags) (*dag.Store, *uint64, []llm.Message, error) {
	if f.noSession {
		return nil, nil, nil, nil
	}
	if f.session == "" {
		return nil, nil, nil, fmt.Errorf("--session is required unless --no-session is set")
	}

	store, err := dag.Open(f.session, dag.DefaultLockConfig())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open session: %w", err)
	}

	var head *uint64
	if f.hasBranchFrom {
		id := f.branchFrom
		if !store.Contains(id) {
			return nil, nil, nil, fmt.Errorf("branch-from node %d does not exist in %s", id, f.session)
		}
		head = &id
	} else if id, err := store.Head(); err == nil {
		head = &id
	} else if !errors.Is(err, dag.ErrNoHead) {
		return nil, nil, nil, fmt.Errorf("read session head: %w", err)
	}

	var history []llm.Message
	if head != nil {
		history, err = store.LoadLinear(*head)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("load session history: %w", err)
		}
	}
	return store, head, history, nil
}

// promoteHead moves the session's active head to the last node appended by
// a run, so the next invocation against the same --session continues from
// here. It is a no-op when nothing new was appended (e.g. a pure
// policy-block on turn 0).
func promoteHead(store *dag.Store, preRunLastID uint64) error {
	if store == nil {
		return nil
	}
	newLastID := store.LastAssignedID()
	if newLastID == 0 || newLastID == preRunLastID {
		return nil
	}
	return store.SetHead(newLastID)
}
