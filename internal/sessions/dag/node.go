// Package dag implements the branching session store: an append-only,
// content-addressed DAG of conversation nodes persisted as a line-delimited
// JSON file per session, with a sidecar lock file for cross-process
// exclusion and sidecar alias/bookmark files for naming heads.
//
// The shape mirrors the teacher's flat sessions.Store / BranchStore pair,
// generalized so that every append is a node with a monotonic id and a
// parent pointer instead of a branch row with a sequence counter: branches
// here are just alternate heads over the same node graph, so forking never
// copies messages and abandoning a branch is just pointing the head
// elsewhere.
package dag

import "github.com/pi-run/pi/internal/llm"

// Node is one entry in the session DAG. Ids are assigned in strictly
// increasing order starting at 1; ParentID is nil only for the first node
// in the file (the root).
type Node struct {
	ID       uint64      `json:"id"`
	ParentID *uint64     `json:"parent_id,omitempty"`
	Message  llm.Message `json:"message"`
}

// record is the on-disk line-delimited JSON shape. It is identical to Node
// but kept distinct so the wire format can evolve independently of the
// in-memory type if the need ever arises.
type record struct {
	ID       uint64      `json:"id"`
	ParentID *uint64     `json:"parent_id,omitempty"`
	Message  llm.Message `json:"message"`
}

func nodeFromRecord(r record) Node {
	return Node{ID: r.ID, ParentID: r.ParentID, Message: r.Message}
}

func recordFromNode(n Node) record {
	return record{ID: n.ID, ParentID: n.ParentID, Message: n.Message}
}
