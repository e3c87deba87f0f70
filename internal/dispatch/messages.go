package dispatch

import (
	"fmt"

	"github.com/mattjoyce/runnerd/internal/runner"
)

// Actor messages. All are comparable so the ticker can key on them.
type (
	startRunner   struct{}
	refreshRunner struct{}
	refreshOutput struct{}
	timeoutRunner struct{}
	killRunner    struct{}
	finishRunner  struct{}

	externalEvent struct {
		event *runner.Event
	}

	startTermination struct {
		done chan struct{}
	}

	// probe reports actor state; used by tests to synchronize with the mailbox.
	probe struct {
		reply chan actorState
	}
)

type actorState struct {
	finishing      bool
	refreshPlanned bool
}

func messageName(msg any) string {
	switch msg.(type) {
	case startRunner:
		return "start_runner"
	case refreshRunner:
		return "refresh_runner"
	case refreshOutput:
		return "refresh_output"
	case timeoutRunner:
		return "timeout_runner"
	case killRunner:
		return "kill"
	case finishRunner:
		return "finish"
	case externalEvent:
		return "external_event"
	case startTermination:
		return "start_termination"
	case probe:
		return "probe"
	default:
		return fmt.Sprintf("%T", msg)
	}
}

// fatalFailure reports whether a failure while handling msg ends the runner.
func fatalFailure(msg any) bool {
	switch msg.(type) {
	case timeoutRunner, killRunner:
		return false
	default:
		return true
	}
}
