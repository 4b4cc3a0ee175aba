// Package adapters implements the external event adapter surface: GitHub
// issue comment, Slack message, and scheduled (cron) events each convert an
// inbound event to a prompt, resolve or create the per-channel session, run
// one agent turn loop invocation, and mirror the reply back to the source
// channel.
//
// It is grounded on the teacher's internal/channels/slack adapter for the
// Slack wiring, internal/cron/scheduler.go for the scheduled-event trigger
// shape, and reuses internal/sessions/dag + internal/channelstore for the
// per-channel session/artifact persistence and internal/agent/turn for the
// run itself.
package adapters

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pi-run/pi/internal/agent/turn"
	"github.com/pi-run/pi/internal/channelstore"
	"github.com/pi-run/pi/internal/sessions/dag"
)

// Outcome is the terminal disposition of one inbound event.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeDenied    Outcome = "denied"
	OutcomeFailed    Outcome = "failed"
)

// InboundEvent is a source-agnostic inbound trigger: an adapter converts its
// native event shape (a GitHub webhook payload, a Slack message, a cron
// tick) into one of these before handing it to Dispatcher.Handle.
type InboundEvent struct {
	Source    string // "github", "slack", "cron"
	ChannelID string // e.g. "owner/repo#42", a Slack channel id, a job name
	EventKey  string // dedup key: unique per logical event, stable across retries
	Prompt    string
	RunID     string
}

// Counters tracks per-channel outcome totals.
type Counters struct {
	mu        sync.Mutex
	processed map[string]int
	denied    map[string]int
	failed    map[string]int
}

func newCounters() *Counters {
	return &Counters{processed: map[string]int{}, denied: map[string]int{}, failed: map[string]int{}}
}

func (c *Counters) record(channelKey string, outcome Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch outcome {
	case OutcomeProcessed:
		c.processed[channelKey]++
	case OutcomeDenied:
		c.denied[channelKey]++
	case OutcomeFailed:
		c.failed[channelKey]++
	}
}

// Snapshot returns the current counts for one channel key.
func (c *Counters) Snapshot(channelKey string) (processed, denied, failed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processed[channelKey], c.denied[channelKey], c.failed[channelKey]
}

// Reply is what an adapter does with a completed run: post text back to the
// source channel. Each concrete adapter (GitHub, Slack) implements this.
type Reply interface {
	PostReply(ctx context.Context, evt InboundEvent, text string) error
}

// Dispatcher resolves/creates the per-channel session and channel store,
// runs the turn loop, and writes the reply artifact + log entry. It is
// shared by every concrete adapter; only event translation and reply
// delivery are source-specific.
type Dispatcher struct {
	channelRoot string
	lockCfg     dag.LockConfig
	loop        *turn.Loop
	counters    *Counters

	mu       sync.Mutex
	sessions map[string]*dag.Store
	stores   map[string]*channelstore.Store

	dedup *lru.Cache[string, struct{}]
}

// NewDispatcher builds a Dispatcher. processedEventCap bounds the recently-
// seen event_key dedup set (LRU eviction once full).
func NewDispatcher(channelRoot string, lockCfg dag.LockConfig, loop *turn.Loop, processedEventCap int) (*Dispatcher, error) {
	if processedEventCap <= 0 {
		processedEventCap = 1024
	}
	cache, err := lru.New[string, struct{}](processedEventCap)
	if err != nil {
		return nil, fmt.Errorf("adapters: build dedup cache: %w", err)
	}
	return &Dispatcher{
		channelRoot: channelRoot,
		lockCfg:     lockCfg,
		loop:        loop,
		counters:    newCounters(),
		sessions:    map[string]*dag.Store{},
		stores:      map[string]*channelstore.Store{},
		dedup:       cache,
	}, nil
}

func channelKey(source, channelID string) string { return source + "/" + channelID }

// Seen reports whether eventKey was already processed and marks it seen
// (LRU-capped) if not. Call before Handle to implement at-most-once
// delivery semantics across adapter restarts within the cap's window.
func (d *Dispatcher) Seen(eventKey string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.dedup.Get(eventKey); ok {
		return true
	}
	d.dedup.Add(eventKey, struct{}{})
	return false
}

func (d *Dispatcher) resolve(source, channelID string) (*dag.Store, *channelstore.Store, error) {
	key := channelKey(source, channelID)

	d.mu.Lock()
	defer d.mu.Unlock()

	if s, ok := d.sessions[key]; ok {
		return s, d.stores[key], nil
	}

	cs, err := channelstore.Open(d.channelRoot, source, channelID)
	if err != nil {
		return nil, nil, fmt.Errorf("adapters: open channel store: %w", err)
	}
	session, err := dag.Open(cs.SessionFilePath(), d.lockCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("adapters: open session: %w", err)
	}
	d.sessions[key] = session
	d.stores[key] = cs
	return session, cs, nil
}

// Handle resolves the channel's session and store, runs the turn loop
// against evt.Prompt, writes a reply artifact and channel log entry, and
// invokes reply.PostReply with the final assistant text. It returns the
// outcome and, on failure, the error that produced it.
func (d *Dispatcher) Handle(ctx context.Context, evt InboundEvent, principal string, reply Reply) (Outcome, error) {
	session, cs, err := d.resolve(evt.Source, evt.ChannelID)
	if err != nil {
		d.counters.record(channelKey(evt.Source, evt.ChannelID), OutcomeFailed)
		return OutcomeFailed, err
	}

	var head *uint64
	if h, err := session.Head(); err == nil {
		head = &h
	}

	result, err := d.loop.Run(ctx, turn.Input{UserPrompt: evt.Prompt, Principal: principal}, session, head)
	if err != nil {
		if _, ok := err.(*turn.PolicyBlockError); ok {
			d.counters.record(channelKey(evt.Source, evt.ChannelID), OutcomeDenied)
			_ = cs.AppendLog(channelstore.LogEntry{TimestampUnixMs: nowMs(), RunID: evt.RunID, Kind: "denied", Message: err.Error()})
			return OutcomeDenied, err
		}
		d.counters.record(channelKey(evt.Source, evt.ChannelID), OutcomeFailed)
		_ = cs.AppendLog(channelstore.LogEntry{TimestampUnixMs: nowMs(), RunID: evt.RunID, Kind: "failed", Message: err.Error()})
		return OutcomeFailed, err
	}

	replyText := lastAssistantText(result)
	if replyText != "" {
		if _, artErr := cs.WriteTextArtifact(evt.RunID, evt.RunID, "reply", channelstore.VisibilityPublic, 0, "txt", replyText, nowMs()); artErr != nil {
			d.counters.record(channelKey(evt.Source, evt.ChannelID), OutcomeFailed)
			return OutcomeFailed, artErr
		}
		if reply != nil {
			if postErr := reply.PostReply(ctx, evt, replyText); postErr != nil {
				d.counters.record(channelKey(evt.Source, evt.ChannelID), OutcomeFailed)
				_ = cs.AppendLog(channelstore.LogEntry{TimestampUnixMs: nowMs(), RunID: evt.RunID, Kind: "failed", Message: postErr.Error()})
				return OutcomeFailed, postErr
			}
		}
	}

	_ = cs.AppendLog(channelstore.LogEntry{TimestampUnixMs: nowMs(), RunID: evt.RunID, Kind: "processed", Message: "run completed", Fields: map[string]any{"state": string(result.State)}})
	d.counters.record(channelKey(evt.Source, evt.ChannelID), OutcomeProcessed)
	return OutcomeProcessed, nil
}

// Counters exposes the per-channel outcome counters.
func (d *Dispatcher) Counters() *Counters { return d.counters }

func nowMs() int64 { return time.Now().UnixMilli() }

func lastAssistantText(result *turn.Result) string {
	for i := len(result.NewMessages) - 1; i >= 0; i-- {
		msg := result.NewMessages[i]
		if msg.Role != "assistant" {
			continue
		}
		for _, block := range msg.Content {
			if block.Type == "text" && block.Text != "" {
				return block.Text
			}
		}
	}
	return ""
}
