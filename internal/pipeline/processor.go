// Package pipeline orchestrates one message through normalization,
// extraction, classification, resolution, and dispatch, and persists the
// outcome onto the message record. Each message is processed exactly once:
// the claim against the store is an atomic check-and-set, so duplicate
// deliveries short-circuit with an already_processed result.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/matsurihq/taskbot/internal/dispatch"
	"github.com/matsurihq/taskbot/internal/intent"
	"github.com/matsurihq/taskbot/internal/logging"
	"github.com/matsurihq/taskbot/internal/parse"
	"github.com/matsurihq/taskbot/internal/store"
)

// timeNow is stubbed in tests.
var timeNow = time.Now

// ProcessingResult is the structured return value of one pipeline run.
type ProcessingResult struct {
	Success    bool
	Intent     intent.Intent
	Confidence float64
	Extracted  parse.Extracted
	Task       *store.Task
	Code       dispatch.Code
	Err        string
}

// Processor runs the stages in dependency order. It holds no mutable state
// between invocations; concurrent Process calls for different messages are
// safe, and concurrent calls for the same message are serialized by the
// store's claim.
type Processor struct {
	store      *store.Store
	extractor  *parse.Extractor
	classifier *intent.Classifier
	dispatcher *dispatch.Dispatcher
}

// NewProcessor wires a processor from its stages.
func NewProcessor(s *store.Store, extractor *parse.Extractor, classifier *intent.Classifier, dispatcher *dispatch.Dispatcher) *Processor {
	return &Processor{
		store:      s,
		extractor:  extractor,
		classifier: classifier,
		dispatcher: dispatcher,
	}
}

// Process runs the full pipeline for one message and persists the outcome.
// It never returns an error to the caller: every failure mode is captured in
// the result and in the message's processing error log. Retry policy belongs
// to the calling job infrastructure.
func (p *Processor) Process(ctx context.Context, msg *store.Message) *ProcessingResult {
	log := logging.WithContext(ctx).With(slog.String("component", "pipeline"))

	claimed, err := p.store.ClaimMessage(msg.ID)
	if err != nil {
		log.Error("failed to claim message",
			slog.String("message_id", msg.ID),
			slog.Any("error", err))
		return &ProcessingResult{
			Code: dispatch.CodeUnexpected,
			Err:  err.Error(),
		}
	}
	if !claimed {
		return &ProcessingResult{
			Code: dispatch.CodeAlreadyProcessed,
			Err:  "Message already processed",
		}
	}

	text := parse.Normalize(msg.Text)
	extracted := p.extractor.Extract(text)
	cls := p.classifier.Classify(text, extracted)

	log.Debug("message classified",
		slog.String("message_id", msg.ID),
		slog.String("intent", string(cls.Intent)),
		slog.Float64("confidence", cls.Confidence))

	res := p.dispatcher.Dispatch(ctx, msg, cls, extracted)

	result := &ProcessingResult{
		Success:    res.Success,
		Intent:     cls.Intent,
		Confidence: cls.Confidence,
		Extracted:  extracted,
		Task:       res.Task,
		Code:       res.Code,
		Err:        res.Err,
	}

	p.persistOutcome(msg, result)
	return result
}

// persistOutcome writes intent, confidence, task link, and any processing
// errors onto the message record. A persistence failure here is logged but
// does not change the result: the authoritative mutation already committed.
func (p *Processor) persistOutcome(msg *store.Message, result *ProcessingResult) {
	var taskID string
	if result.Task != nil {
		taskID = result.Task.ID
	}

	var errs []store.ProcessingError
	if result.Err != "" {
		errs = append(msg.ProcessingErrors, store.ProcessingError{
			Timestamp:   timeNow(),
			Description: result.Err,
		})
	}

	if err := p.store.FinishMessage(msg.ID, string(result.Intent), result.Confidence, taskID, errs); err != nil {
		logging.WithMessage(msg.ID).Error("failed to persist processing outcome",
			slog.Any("error", err))
	}
}
