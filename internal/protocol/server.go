package protocol

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/pi-run/pi/internal/agent/turn"
	"github.com/pi-run/pi/internal/observability"
)

// Capabilities describes what this server supports, returned in response to
// a capabilities.request frame.
type Capabilities struct {
	ProtocolVersion  int      `json:"protocol_version"`
	Tools            []string `json:"tools"`
	StructuredOutput bool     `json:"structured_output"`
}

// RunStartPayload is the payload of a run.start frame.
type RunStartPayload struct {
	Prompt                 string          `json:"prompt"`
	StructuredOutputSchema json.RawMessage `json:"structured_output_schema,omitempty"`
	Principal              string          `json:"principal,omitempty"`
	BearerToken            string          `json:"bearer_token,omitempty"`
}

// RunAcceptedPayload acknowledges run.start.
type RunAcceptedPayload struct {
	RunID string `json:"run_id"`
}

// RunEventPayload wraps one turn.Event as it's emitted, streamed to the
// client while a run is active.
type RunEventPayload struct {
	RunID string     `json:"run_id"`
	Event turn.Event `json:"event"`
}

// RunTerminalPayload is the payload of run.complete/run.fail/run.timeout.
type RunTerminalPayload struct {
	RunID            string          `json:"run_id"`
	State            turn.RunState   `json:"state"`
	Reason           string          `json:"reason,omitempty"`
	StructuredOutput json.RawMessage `json:"structured_output,omitempty"`
}

// RunStatusRequestPayload is the payload of a run.status request frame.
type RunStatusRequestPayload struct {
	RunID string `json:"run_id"`
}

// RunStatusResponsePayload answers a run.status request.
type RunStatusResponsePayload struct {
	Status        string `json:"status"`
	Active        bool   `json:"active"`
	Known         bool   `json:"known"`
	Terminal      bool   `json:"terminal"`
	TerminalState string `json:"terminal_state,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

type runRecord struct {
	cancel   context.CancelFunc
	terminal bool
	state    turn.RunState
	reason   string
}

// Server drives one client connection over a framed stdio-like transport,
// negotiating capabilities and running agent turns via loop.
type Server struct {
	loop         *turn.Loop
	capabilities Capabilities
	auth         *bearerAuth
	tracer       *observability.Tracer

	writeMu sync.Mutex
	writer  io.Writer

	mu   sync.Mutex
	runs map[string]*runRecord
}

// NewServer builds a Server around loop, advertising capabilities to
// clients that send capabilities.request.
func NewServer(loop *turn.Loop, capabilities Capabilities) *Server {
	return &Server{loop: loop, capabilities: capabilities, runs: map[string]*runRecord{}}
}

// WithAuth returns the Server configured to require a valid HS256 bearer
// token (signed with secret) on every run.start frame; the token's subject
// claim overrides RunStartPayload.Principal. An empty secret disables auth.
func (s *Server) WithAuth(secret string) *Server {
	s.auth = newBearerAuth(secret)
	return s
}

// WithTracer returns the Server wrapping every handled frame in a span
// named after its frame kind. A nil tracer disables frame-level tracing.
func (s *Server) WithTracer(tracer *observability.Tracer) *Server {
	s.tracer = tracer
	return s
}

// Serve reads frames from r and writes responses to w until r returns EOF
// or ctx is cancelled. Each run.start frame spawns a goroutine running the
// turn loop; Serve itself never blocks on a run.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	s.writer = w
	reader := bufio.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame, err := ReadFrame(reader)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			s.send(errorFrame("", ErrCodeParseError, err.Error()))
			continue
		}
		s.handleFrame(ctx, frame)
	}
}

func (s *Server) send(frame Frame) {
	if err := WriteFrame(s.writer, &s.writeMu, frame); err != nil {
		return
	}
}

func (s *Server) handleFrame(ctx context.Context, frame Frame) {
	if s.tracer != nil {
		var span trace.Span
		ctx, span = s.tracer.Start(ctx, "rpc."+frame.Kind)
		defer span.End()
	}
	s.dispatchFrame(ctx, frame)
}

func (s *Server) dispatchFrame(ctx context.Context, frame Frame) {
	switch frame.Kind {
	case "capabilities.request":
		payload, _ := json.Marshal(s.capabilities)
		s.send(Frame{RequestID: frame.RequestID, Kind: "capabilities.response", Payload: payload})

	case "run.start":
		var start RunStartPayload
		if err := json.Unmarshal(frame.Payload, &start); err != nil {
			s.send(errorFrame(frame.RequestID, ErrCodeInvalidPayload, err.Error()))
			return
		}
		if subject, err := s.auth.verify(start.BearerToken); err != nil {
			s.send(errorFrame(frame.RequestID, ErrCodeUnauthorized, err.Error()))
			return
		} else if subject != "" {
			start.Principal = subject
		}
		s.startRun(ctx, frame.RequestID, start)

	case "run.cancel":
		var status RunStatusRequestPayload
		if err := json.Unmarshal(frame.Payload, &status); err != nil {
			s.send(errorFrame(frame.RequestID, ErrCodeInvalidPayload, err.Error()))
			return
		}
		s.cancelRun(status.RunID)

	case "run.status":
		var status RunStatusRequestPayload
		if err := json.Unmarshal(frame.Payload, &status); err != nil {
			s.send(errorFrame(frame.RequestID, ErrCodeInvalidPayload, err.Error()))
			return
		}
		s.sendStatus(frame.RequestID, status.RunID)

	default:
		s.send(errorFrame(frame.RequestID, ErrCodeInvalidPayload, fmt.Sprintf("unknown frame kind %q", frame.Kind)))
	}
}

func (s *Server) startRun(ctx context.Context, requestID string, start RunStartPayload) {
	runID := uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.runs[runID] = &runRecord{cancel: cancel, state: turn.StateRunning}
	s.mu.Unlock()

	accepted, _ := json.Marshal(RunAcceptedPayload{RunID: runID})
	s.send(Frame{RequestID: requestID, Kind: "run.accepted", Payload: accepted})

	sink := turn.SinkFunc(func(ev turn.Event) {
		payload, _ := json.Marshal(RunEventPayload{RunID: runID, Event: ev})
		s.send(Frame{Kind: "run.event", Payload: payload})
	})

	go func() {
		spanCtx := runCtx
		var span trace.Span
		if s.tracer != nil {
			spanCtx, span = s.tracer.Start(runCtx, "turn.run")
			defer span.End()
		}
		runLoop := s.loop.WithSink(sink)
		result, err := runLoop.Run(spanCtx, turn.Input{
			UserPrompt:             start.Prompt,
			StructuredOutputSchema: start.StructuredOutputSchema,
			Principal:              start.Principal,
		}, nil, nil)

		var state turn.RunState
		var reason string
		var structured json.RawMessage
		kind := "run.complete"
		if result != nil {
			state = result.State
			reason = result.FailureReason
			structured = result.StructuredOutput
		}
		if err != nil && result == nil {
			state = turn.StateFailed
			reason = err.Error()
		}
		if span != nil && err != nil {
			s.tracer.RecordError(span, err)
		}
		switch state {
		case turn.StateTimedOut:
			kind = "run.timeout"
		case turn.StateFailed, turn.StateCancelled:
			kind = "run.fail"
		}

		s.mu.Lock()
		s.runs[runID] = &runRecord{terminal: true, state: state, reason: reason}
		s.mu.Unlock()

		payload, _ := json.Marshal(RunTerminalPayload{RunID: runID, State: state, Reason: reason, StructuredOutput: structured})
		s.send(Frame{Kind: kind, Payload: payload})
	}()
}

func (s *Server) cancelRun(runID string) {
	s.mu.Lock()
	rec, ok := s.runs[runID]
	s.mu.Unlock()
	if ok && rec.cancel != nil {
		rec.cancel()
	}
}

func (s *Server) sendStatus(requestID, runID string) {
	s.mu.Lock()
	rec, ok := s.runs[runID]
	s.mu.Unlock()

	resp := RunStatusResponsePayload{Known: ok}
	if ok {
		resp.Terminal = rec.terminal
		resp.Active = !rec.terminal
		resp.Status = string(rec.state)
		if rec.terminal {
			resp.TerminalState = string(rec.state)
			resp.Reason = rec.reason
		}
	}
	payload, _ := json.Marshal(resp)
	s.send(Frame{RequestID: requestID, Kind: "run.status.response", Payload: payload})
}
