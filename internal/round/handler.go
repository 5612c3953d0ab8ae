package round

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fyrsmithlabs/assessd/internal/gateway"
	"github.com/fyrsmithlabs/assessd/internal/logging"
)

// Traits declare kind-specific submission behavior. The state machine and
// orchestrator consult traits instead of switching on round kind.
type Traits struct {
	// Checkpoint means non-final submits return the round to Active
	// instead of ending it.
	Checkpoint bool
	// Finalize means a final submit must be followed by an explicit
	// complete call; the complete response carries the result.
	Finalize bool
	// Incremental means progress updates sync best-effort to the gateway.
	Incremental bool
}

// Handler knows how to run one family of rounds against the gateway:
// start, accept partial work, and produce the final result.
type Handler interface {
	Traits() Traits

	// Start opens the round remotely and returns the server-issued
	// round ID, duration and opaque payload.
	Start(ctx context.Context, sessionID string, kind Kind) (*gateway.StartRoundResponse, error)

	// Merge folds a partial payload into the accumulated working data.
	Merge(data *WorkingData, partial json.RawMessage) error

	// Sync pushes working data to the gateway best-effort. Only called
	// for handlers with Incremental set; the reply (if any) is for the
	// caller to forward, never for gating.
	Sync(ctx context.Context, roundID string, data *WorkingData) (*gateway.SyncExchange, error)

	// Submit sends the accumulated work for evaluation. For Finalize
	// handlers the returned result on a final submit comes from the
	// complete call, not the submit itself.
	Submit(ctx context.Context, roundID string, data *WorkingData, final bool) (*gateway.EvaluationResult, error)
}

// handlerFor returns the handler serving a round kind.
func handlerFor(kind Kind, gw gateway.Client, logger *logging.Logger) (Handler, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	base := baseHandler{gw: gw, logger: logger}
	switch kind {
	case KindAptitude, KindCoreCompetency, KindQuantitative:
		return &objectiveHandler{baseHandler: base}, nil
	case KindCoding, KindSQL:
		return &codeHandler{baseHandler: base}, nil
	case KindCaseStudy, KindHRInterview:
		return &freeTextHandler{baseHandler: base}, nil
	case KindLiveCoding, KindTechnicalInterview, KindDomainInterview:
		return &chatHandler{baseHandler: base}, nil
	case KindSystemDesign:
		return &diagramHandler{baseHandler: base}, nil
	default:
		return nil, fmt.Errorf("no handler for round kind %q", kind)
	}
}
