// Package workflow implements the per-item decision pipeline: topic
// filter, then either the news branch (dedupe, score, notify/trade) or
// the token branch (text/image/link detection merged by priority into an
// optional snipe).
package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/c360/signalstream/errors"
	"github.com/c360/signalstream/event"
	"github.com/c360/signalstream/metric"
	"github.com/c360/signalstream/newsstore"
	"github.com/c360/signalstream/pkg/retry"
)

// TopicFilter decides whether an item belongs to the tracked topic.
type TopicFilter interface {
	Matches(ctx context.Context, text string) (bool, error)
}

// Fingerprinter derives a deduplication key from item text. Equal
// content must produce equal fingerprints; nothing else is assumed.
type Fingerprinter interface {
	Fingerprint(ctx context.Context, text string) (string, error)
}

// Scorer rates the stored record set on a 1..10 scale. ok=false means
// the score is unavailable; the item is still notified with score zero.
type Scorer interface {
	Score(ctx context.Context, records []newsstore.Record) (score int, ok bool, err error)
}

// TokenDetector analyzes one facet of an item for a token launch.
// Detectors receive the whole item and read the field they understand;
// an empty field yields NoToken.
type TokenDetector interface {
	Detect(ctx context.Context, item *event.Tweet) (Outcome, error)
}

// Detectors holds the token branch analyses in evaluation order.
type Detectors struct {
	Text  TokenDetector
	Image TokenDetector
	Link  TokenDetector
}

// State is the terminal state of one item's run through the workflow.
type State string

// Terminal states
const (
	// StateActionsEmitted means at least one action was produced.
	StateActionsEmitted State = "actions_emitted"
	// StateDiscarded means the item completed with nothing to do
	// (duplicate, no token, release only).
	StateDiscarded State = "discarded"
	// StateFailed means a required collaborator failed; the item is
	// dropped after acknowledgment.
	StateFailed State = "failed"
)

// Result is the outcome of processing one item.
type Result struct {
	State   State
	Actions []Action
	Err     error
}

// Orchestrator routes each item through the decision pipeline.
type Orchestrator struct {
	filter        TopicFilter
	fingerprinter Fingerprinter
	scorer        Scorer
	detectors     Detectors
	store         *newsstore.Store

	retryCfg retry.Config
	logger   *slog.Logger
	core     *metric.Metrics
	service  string
}

// Option is a functional option for configuring the Orchestrator
type Option func(*Orchestrator) error

// WithRetryConfig sets the retry policy applied to collaborator calls
func WithRetryConfig(cfg retry.Config) Option {
	return func(o *Orchestrator) error {
		o.retryCfg = cfg
		return nil
	}
}

// WithLogger sets a custom structured logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) error {
		if logger != nil {
			o.logger = logger
		}
		return nil
	}
}

// WithMetrics records emitted actions and dedupe hits on the shared
// pipeline metrics
func WithMetrics(registry *metric.MetricsRegistry, service string) Option {
	return func(o *Orchestrator) error {
		if registry != nil {
			o.core = registry.CoreMetrics()
			o.service = service
		}
		return nil
	}
}

// New creates an Orchestrator. All collaborators and the store are
// required; detectors may individually be nil, in which case that source
// contributes NoToken.
func New(
	filter TopicFilter,
	fingerprinter Fingerprinter,
	scorer Scorer,
	detectors Detectors,
	store *newsstore.Store,
	options ...Option,
) (*Orchestrator, error) {
	if filter == nil || fingerprinter == nil || scorer == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Orchestrator", "New", "nil collaborator")
	}
	if store == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Orchestrator", "New", "nil store")
	}

	o := &Orchestrator{
		filter:        filter,
		fingerprinter: fingerprinter,
		scorer:        scorer,
		detectors:     detectors,
		store:         store,
		retryCfg:      retry.DefaultConfig(),
		logger:        slog.Default(),
	}

	for _, opt := range options {
		if err := opt(o); err != nil {
			return nil, errors.WrapInvalid(err, "Orchestrator", "New", "apply option")
		}
	}

	return o, nil
}

// Process runs one item through the workflow and returns its terminal
// state with the actions to publish. Process never panics on collaborator
// failure; a Failed result carries the classified error.
func (o *Orchestrator) Process(ctx context.Context, item *event.Tweet) Result {
	matches, err := o.matchTopic(ctx, item)
	if err != nil {
		return Result{State: StateFailed, Err: err}
	}

	var result Result
	if matches {
		result = o.newsBranch(ctx, item)
	} else {
		result = o.tokenBranch(ctx, item)
	}

	if o.core != nil {
		for _, action := range result.Actions {
			o.core.RecordActionEmitted(o.service, string(action.Type()))
		}
	}
	return result
}

func (o *Orchestrator) matchTopic(ctx context.Context, item *event.Tweet) (bool, error) {
	var matches bool
	err := retry.Do(ctx, o.retryCfg, func() error {
		var callErr error
		matches, callErr = o.filter.Matches(ctx, item.Text)
		return callErr
	})
	if err != nil {
		o.logger.Error("topic filter failed",
			"source", item.Source(),
			"error", err)
		return false, errors.WrapInvalid(
			fmt.Errorf("%w: topic filter: %w", errors.ErrCollaboratorFailed, err),
			"Orchestrator", "Process", "classify topic")
	}
	return matches, nil
}

// newsBranch handles items on the tracked topic: fingerprint, dedupe,
// score, then notify and possibly trade.
func (o *Orchestrator) newsBranch(ctx context.Context, item *event.Tweet) Result {
	var fingerprint string
	err := retry.Do(ctx, o.retryCfg, func() error {
		var callErr error
		fingerprint, callErr = o.fingerprinter.Fingerprint(ctx, item.Text)
		return callErr
	})
	if err != nil {
		o.logger.Error("fingerprint failed", "source", item.Source(), "error", err)
		return Result{State: StateFailed, Err: errors.WrapInvalid(
			fmt.Errorf("%w: fingerprint: %w", errors.ErrCollaboratorFailed, err),
			"Orchestrator", "Process", "fingerprint item")}
	}

	inserted, snapshot := o.store.CheckAndInsert(fingerprint, item)
	if !inserted {
		o.logger.Debug("duplicate item discarded",
			"source", item.Source(),
			"fingerprint", fingerprint)
		if o.core != nil {
			o.core.RecordItemDeduplicated(o.service)
		}
		return Result{State: StateDiscarded}
	}

	score, scoreOK := o.scoreRecords(ctx, snapshot, item)

	actions := []Action{Notify{
		Source:         item.Source(),
		Text:           item.Text,
		CreatedAt:      item.CreatedAt,
		AlignmentScore: score,
	}}

	if scoreOK {
		if trade, ok := tradeForScore(score); ok {
			actions = append(actions, trade)
		}
	}

	return Result{State: StateActionsEmitted, Actions: actions}
}

// scoreRecords asks the scorer for an alignment score. An unavailable or
// failed score degrades to zero; the notify still goes out.
func (o *Orchestrator) scoreRecords(ctx context.Context, records []newsstore.Record, item *event.Tweet) (int, bool) {
	var score int
	var ok bool
	err := retry.Do(ctx, o.retryCfg, func() error {
		var callErr error
		score, ok, callErr = o.scorer.Score(ctx, records)
		return callErr
	})
	if err != nil {
		o.logger.Error("scorer failed, notifying without score",
			"source", item.Source(),
			"error", err)
		return 0, false
	}
	if !ok {
		o.logger.Warn("score unavailable, notifying without score", "source", item.Source())
		return 0, false
	}
	if score < 1 || score > 10 {
		o.logger.Warn("score out of range, notifying without score",
			"source", item.Source(),
			"score", score)
		return 0, false
	}
	return score, true
}

// tokenBranch handles off-topic items: run the detectors in fixed order,
// merge by priority, snipe if a token was found.
func (o *Orchestrator) tokenBranch(ctx context.Context, item *event.Tweet) Result {
	sources := []struct {
		name     string
		detector TokenDetector
	}{
		{"text", o.detectors.Text},
		{"image", o.detectors.Image},
		{"link", o.detectors.Link},
	}

	outcomes := make([]SourcedOutcome, 0, len(sources))
	failures := 0
	for _, src := range sources {
		if src.detector == nil {
			outcomes = append(outcomes, SourcedOutcome{Source: src.name, Outcome: NoToken{}})
			continue
		}

		var outcome Outcome
		err := retry.Do(ctx, o.retryCfg, func() error {
			var callErr error
			outcome, callErr = src.detector.Detect(ctx, item)
			return callErr
		})
		if err != nil {
			// One failed analysis does not sink the item; its source
			// just contributes nothing to the merge.
			failures++
			o.logger.Error("token detector failed",
				"detector", src.name,
				"source", item.Source(),
				"error", err)
			outcome = NoToken{}
		}
		if outcome == nil {
			outcome = NoToken{}
		}
		outcomes = append(outcomes, SourcedOutcome{Source: src.name, Outcome: outcome})
	}

	if failures == len(sources) {
		return Result{State: StateFailed, Err: errors.WrapInvalid(
			fmt.Errorf("%w: all token detectors failed", errors.ErrCollaboratorFailed),
			"Orchestrator", "Process", "detect token")}
	}

	merged := Merge(outcomes)
	if found, ok := merged.Outcome.(TokenFound); ok {
		o.logger.Info("token found",
			"detector", merged.Source,
			"chain", found.ChainName,
			"address", found.Address)
		return Result{State: StateActionsEmitted, Actions: []Action{Snipe{
			ChainID:      found.ChainID,
			ChainName:    found.ChainName,
			TokenAddress: found.Address,
		}}}
	}

	return Result{State: StateDiscarded}
}
