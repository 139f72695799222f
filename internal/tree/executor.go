package tree

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// Gatekeeper screens a turn's prompt before the decision loop starts. When
// intercepted is true the returned message is the whole turn's output and
// the decision loop never runs.
type Gatekeeper interface {
	Screen(ctx context.Context, prompt string, history []Message) (intercepted bool, message string)
}

// ResponseGatekeeper screens the turn's final response text before it is
// delivered. When a gate implements it, response events are held until the
// turn's text is assembled; a flagged response is replaced by the returned
// message in both the event stream and the history.
type ResponseGatekeeper interface {
	ScreenResponse(ctx context.Context, response, prompt string) (flagged bool, message string)
}

// Recorder receives execution metrics. All methods must tolerate concurrent
// use; a nil Recorder disables recording.
type Recorder interface {
	RecordTurn(outcome string)
	RecordToolRun(tool string, success bool)
	RecordGuardIntercept()
}

type execState int

const (
	stateAwaitingGuard execState = iota
	stateDeciding
	stateDispatching
	stateAwaitingBranch
	stateTerminated
	stateErrored
)

func (s execState) String() string {
	switch s {
	case stateAwaitingGuard:
		return "awaiting-guard"
	case stateDeciding:
		return "deciding"
	case stateDispatching:
		return "dispatching"
	case stateAwaitingBranch:
		return "awaiting-child-branch"
	case stateTerminated:
		return "terminated"
	case stateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Executor drives the decide→dispatch iteration for one turn at a time.
// It enforces a hard iteration ceiling, isolates tool failures to single
// error events, and guarantees exactly one completed event per turn.
type Executor struct {
	root          *Node
	decision      *DecisionNode
	gate          Gatekeeper
	maxIterations int
	historyWindow int
	logger        *log.Logger
	metrics       Recorder
}

// NewExecutor creates a tree executor. gate and metrics may be nil.
func NewExecutor(root *Node, decision *DecisionNode, gate Gatekeeper, maxIterations, historyWindow int, logger *log.Logger, metrics Recorder) (*Executor, error) {
	if root == nil {
		return nil, fmt.Errorf("executor needs a root node")
	}
	if err := root.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tree: %w", err)
	}
	if maxIterations <= 0 {
		maxIterations = 5
	}
	if historyWindow <= 0 {
		historyWindow = 6
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[TREE] ", log.LstdFlags)
	}
	return &Executor{
		root:          root,
		decision:      decision,
		gate:          gate,
		maxIterations: maxIterations,
		historyWindow: historyWindow,
		logger:        logger,
		metrics:       metrics,
	}, nil
}

// RunTurn processes one user query end to end, streaming events on out.
// Partial environment/history updates made before a failure are retained;
// there is no rollback. The only non-nil return is context cancellation.
func (x *Executor) RunTurn(ctx context.Context, td *TreeData, query string, out chan<- Event) error {
	emit := func(ev Event) {
		select {
		case out <- ev:
		case <-ctx.Done():
			// Caller is gone; committed state mutations stay.
		}
	}

	state := stateAwaitingGuard
	td.AppendMessage("user", query)

	if x.gate != nil {
		intercepted, message := x.gate.Screen(ctx, query, td.RecentHistory(x.historyWindow))
		if intercepted {
			state = stateTerminated
			td.AppendMessage("assistant", message)
			emit(ResponseEvent(message))
			emit(CompletedEvent())
			if x.metrics != nil {
				x.metrics.RecordGuardIntercept()
				x.metrics.RecordTurn("guarded")
			}
			return ctx.Err()
		}
	}

	node := x.root
	var response strings.Builder
	postGate, holdResponses := x.gate.(ResponseGatekeeper)
	state = stateDeciding

	for iteration := 0; ; iteration++ {
		if iteration >= x.maxIterations {
			// Hard ceiling: terminate deterministically rather than loop.
			x.logger.Printf("conversation %s hit iteration ceiling (%d)", td.ConversationID, x.maxIterations)
			emit(StatusEvent("iteration limit reached"))
			break
		}

		dec, err := x.decision.Decide(ctx, node, td, iteration, x.maxIterations)
		if err != nil {
			state = stateErrored
			td.RecordError("decision", err.Error())
			x.logger.Printf("conversation %s: %v in state %v", td.ConversationID, err, state)
			emit(ErrorEvent("decision_failed", err.Error()))
			emit(CompletedEvent())
			if x.metrics != nil {
				x.metrics.RecordTurn("errored")
			}
			return ctx.Err()
		}

		if dec.Terminate {
			break
		}
		if dec.Branch != "" {
			state = stateAwaitingBranch
			child, _ := node.Child(dec.Branch)
			node = child
			state = stateDeciding
			continue
		}

		tool, _ := node.Tool(dec.Tool)
		state = stateDispatching
		if err := x.dispatch(ctx, tool, td, emit, &response, holdResponses); err != nil {
			// Tool failures are isolated: one error event, loop continues.
			td.RecordError(tool.Name(), err.Error())
			emit(ErrorEvent("tool_failed", fmt.Sprintf("%s: %v", tool.Name(), err)))
			if x.metrics != nil {
				x.metrics.RecordToolRun(tool.Name(), false)
			}
		} else {
			td.RecordTask(tool.Name())
			if x.metrics != nil {
				x.metrics.RecordToolRun(tool.Name(), true)
			}
			if tool.EndsTurn() {
				break
			}
		}
		state = stateDeciding
	}

	state = stateTerminated
	x.logger.Printf("conversation %s: turn %v after %d completed tasks", td.ConversationID, state, len(td.TasksCompleted))
	final := response.String()
	if final != "" && holdResponses {
		if flagged, message := postGate.ScreenResponse(ctx, final, query); flagged {
			final = message
			if x.metrics != nil {
				x.metrics.RecordGuardIntercept()
			}
		}
		emit(ResponseEvent(final))
	}
	if final != "" {
		td.AppendMessage("assistant", final)
	}
	emit(CompletedEvent())
	if x.metrics != nil {
		x.metrics.RecordTurn("completed")
	}
	return ctx.Err()
}

// dispatch runs one tool, forwarding each event immediately and folding it
// into the conversation state. With holdResponses set, response events are
// folded but not forwarded; the caller emits the screened text itself.
func (x *Executor) dispatch(ctx context.Context, tool Tool, td *TreeData, emit func(Event), response *strings.Builder, holdResponses bool) error {
	events := make(chan Event, 4)
	done := make(chan error, 1)
	go func() {
		done <- tool.Run(ctx, td, events)
		close(events)
	}()

	for ev := range events {
		if ev.Producer == "" {
			ev.Producer = tool.Name()
		}
		if ev.Kind != EventResponse || !holdResponses {
			emit(ev)
		}
		switch ev.Kind {
		case EventResult:
			td.Env.Add(ev.Producer, ev.Name, Result{Metadata: ev.Metadata, Objects: ev.Objects})
		case EventResponse:
			if response.Len() > 0 {
				response.WriteString("\n")
			}
			response.WriteString(ev.Text)
		case EventError:
			td.RecordError(tool.Name(), ev.Message)
		}
	}
	return <-done
}
