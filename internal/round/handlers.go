package round

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/assessd/internal/gateway"
	"github.com/fyrsmithlabs/assessd/internal/logging"
)

// baseHandler carries the pieces every handler family shares.
type baseHandler struct {
	gw     gateway.Client
	logger *logging.Logger
}

func (b *baseHandler) Start(ctx context.Context, sessionID string, kind Kind) (*gateway.StartRoundResponse, error) {
	return b.gw.StartRound(ctx, sessionID, kind.String())
}

func (b *baseHandler) Sync(ctx context.Context, roundID string, data *WorkingData) (*gateway.SyncExchange, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode working data: %w", err)
	}
	return b.gw.SyncProgress(ctx, roundID, encoded)
}

// submit sends working data and, when finalize is set and the submit is
// final, follows with the complete call whose result wins.
func (b *baseHandler) submit(ctx context.Context, roundID string, data *WorkingData, final, finalize bool) (*gateway.EvaluationResult, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: encode working data: %v", gateway.ErrSubmitFailed, err)
	}
	result, err := b.gw.SubmitRound(ctx, roundID, encoded)
	if err != nil {
		return nil, err
	}
	if final && finalize {
		return b.gw.CompleteRound(ctx, roundID)
	}
	return result, nil
}

// replace swaps the whole payload; used by families whose working data is a
// single document rather than an accumulation.
func replace(data *WorkingData, partial json.RawMessage) error {
	if len(partial) == 0 {
		return nil
	}
	data.Payload = partial
	return nil
}

// objectiveHandler serves timed question sets: aptitude, core-competency
// and quantitative rounds. Answers accumulate by question ID.
type objectiveHandler struct {
	baseHandler
}

func (h *objectiveHandler) Traits() Traits { return Traits{} }

func (h *objectiveHandler) Merge(data *WorkingData, partial json.RawMessage) error {
	if len(partial) == 0 {
		return nil
	}
	var incoming AnswerSheet
	if err := json.Unmarshal(partial, &incoming); err != nil {
		return fmt.Errorf("decode answer sheet: %w", err)
	}
	var sheet AnswerSheet
	if len(data.Payload) > 0 {
		if err := json.Unmarshal(data.Payload, &sheet); err != nil {
			return fmt.Errorf("decode accumulated answers: %w", err)
		}
	}
	if sheet.Answers == nil {
		sheet.Answers = make(map[string]json.RawMessage, len(incoming.Answers))
	}
	for id, answer := range incoming.Answers {
		sheet.Answers[id] = answer
	}
	merged, err := json.Marshal(sheet)
	if err != nil {
		return fmt.Errorf("encode answer sheet: %w", err)
	}
	data.Payload = merged
	return nil
}

func (h *objectiveHandler) Submit(ctx context.Context, roundID string, data *WorkingData, final bool) (*gateway.EvaluationResult, error) {
	return h.submit(ctx, roundID, data, final, false)
}

// codeHandler serves code-submission rounds (coding, sql). The buffer is
// replaced wholesale on each update and synced best-effort.
type codeHandler struct {
	baseHandler
}

func (h *codeHandler) Traits() Traits { return Traits{Incremental: true} }

func (h *codeHandler) Merge(data *WorkingData, partial json.RawMessage) error {
	return replace(data, partial)
}

func (h *codeHandler) Submit(ctx context.Context, roundID string, data *WorkingData, final bool) (*gateway.EvaluationResult, error) {
	return h.submit(ctx, roundID, data, final, false)
}

// freeTextHandler serves free-text rounds (case-study, hr-interview).
type freeTextHandler struct {
	baseHandler
}

func (h *freeTextHandler) Traits() Traits { return Traits{} }

func (h *freeTextHandler) Merge(data *WorkingData, partial json.RawMessage) error {
	return replace(data, partial)
}

func (h *freeTextHandler) Submit(ctx context.Context, roundID string, data *WorkingData, final bool) (*gateway.EvaluationResult, error) {
	return h.submit(ctx, roundID, data, final, false)
}

// chatHandler serves collaborative-chat rounds (live-coding,
// technical-interview, domain-interview). Messages append to the transcript,
// each sync may carry an interviewer reply back, checkpoint submits keep the
// round active, and the final submit closes with an explicit complete call.
type chatHandler struct {
	baseHandler
}

func (h *chatHandler) Traits() Traits {
	return Traits{Checkpoint: true, Finalize: true, Incremental: true}
}

func (h *chatHandler) Merge(data *WorkingData, partial json.RawMessage) error {
	if len(partial) == 0 {
		return nil
	}
	var incoming Transcript
	if err := json.Unmarshal(partial, &incoming); err != nil {
		return fmt.Errorf("decode transcript: %w", err)
	}
	var transcript Transcript
	if len(data.Payload) > 0 {
		if err := json.Unmarshal(data.Payload, &transcript); err != nil {
			return fmt.Errorf("decode accumulated transcript: %w", err)
		}
	}
	transcript.Messages = append(transcript.Messages, incoming.Messages...)
	merged, err := json.Marshal(transcript)
	if err != nil {
		return fmt.Errorf("encode transcript: %w", err)
	}
	data.Payload = merged
	return nil
}

func (h *chatHandler) Submit(ctx context.Context, roundID string, data *WorkingData, final bool) (*gateway.EvaluationResult, error) {
	if !final {
		result, err := h.submit(ctx, roundID, data, false, false)
		if err != nil {
			// Checkpoint submits never end the round; log and move on.
			h.logger.Warn(ctx, "checkpoint submit failed",
				zap.String("round_id", roundID), zap.Error(err))
			return nil, nil
		}
		return result, nil
	}
	return h.submit(ctx, roundID, data, true, true)
}

// diagramHandler serves structured-diagram rounds (system-design). The graph
// is replaced wholesale and synced best-effort; checkpoint submits keep the
// round active while the candidate iterates.
type diagramHandler struct {
	baseHandler
}

func (h *diagramHandler) Traits() Traits {
	return Traits{Checkpoint: true, Incremental: true}
}

func (h *diagramHandler) Merge(data *WorkingData, partial json.RawMessage) error {
	return replace(data, partial)
}

func (h *diagramHandler) Submit(ctx context.Context, roundID string, data *WorkingData, final bool) (*gateway.EvaluationResult, error) {
	if !final {
		result, err := h.submit(ctx, roundID, data, false, false)
		if err != nil {
			h.logger.Warn(ctx, "checkpoint submit failed",
				zap.String("round_id", roundID), zap.Error(err))
			return nil, nil
		}
		return result, nil
	}
	return h.submit(ctx, roundID, data, true, false)
}
