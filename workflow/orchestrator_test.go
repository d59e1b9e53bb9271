package workflow

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/c360/signalstream/errors"
	"github.com/c360/signalstream/event"
	"github.com/c360/signalstream/newsstore"
	"github.com/c360/signalstream/pkg/retry"
)

// Stub collaborators

type stubFilter struct {
	matches bool
	err     error
	calls   int
}

func (s *stubFilter) Matches(_ context.Context, _ string) (bool, error) {
	s.calls++
	return s.matches, s.err
}

type stubFingerprinter struct {
	fp  string
	err error
}

func (s *stubFingerprinter) Fingerprint(_ context.Context, _ string) (string, error) {
	return s.fp, s.err
}

type stubScorer struct {
	score   int
	ok      bool
	err     error
	records int
}

func (s *stubScorer) Score(_ context.Context, records []newsstore.Record) (int, bool, error) {
	s.records = len(records)
	return s.score, s.ok, s.err
}

type stubDetector struct {
	outcome Outcome
	err     error
	calls   int
}

func (s *stubDetector) Detect(_ context.Context, _ *event.Tweet) (Outcome, error) {
	s.calls++
	return s.outcome, s.err
}

func noRetry() Option {
	return WithRetryConfig(retry.Fixed(1, 1))
}

func newTestItem() *event.Tweet {
	return &event.Tweet{
		DataSource: event.DataSource{Name: "twitter", AuthorName: "whale_alert"},
		CreatedAt:  1718000000,
		Text:       "Major protocol upgrade announced",
	}
}

func newOrchestrator(t *testing.T, filter *stubFilter, scorer *stubScorer, detectors Detectors) (*Orchestrator, *newsstore.Store) {
	t.Helper()
	store, err := newsstore.New()
	require.NoError(t, err)

	o, err := New(filter, &stubFingerprinter{fp: "fp-1"}, scorer, detectors, store, noRetry())
	require.NoError(t, err)
	return o, store
}

func TestNewOrchestratorValidation(t *testing.T) {
	store, err := newsstore.New()
	require.NoError(t, err)

	_, err = New(nil, &stubFingerprinter{}, &stubScorer{}, Detectors{}, store)
	require.Error(t, err)
	assert.True(t, cerrors.IsInvalid(err))

	_, err = New(&stubFilter{}, &stubFingerprinter{}, &stubScorer{}, Detectors{}, nil)
	require.Error(t, err)
}

func TestHighScoreEmitsNotifyAndAggressiveTrade(t *testing.T) {
	o, _ := newOrchestrator(t, &stubFilter{matches: true}, &stubScorer{score: 8, ok: true}, Detectors{})

	result := o.Process(context.Background(), newTestItem())

	require.Equal(t, StateActionsEmitted, result.State)
	require.Len(t, result.Actions, 2)

	notify := result.Actions[0].(Notify)
	assert.Equal(t, 8, notify.AlignmentScore)
	assert.Equal(t, "twitter/@whale_alert", notify.Source)
	assert.Equal(t, int64(1718000000), notify.CreatedAt)

	trade := result.Actions[1].(Trade)
	assert.Equal(t, 7, trade.Leverage)
	assert.Equal(t, float64(500), trade.MarginUSD)
}

func TestModerateScoreEmitsTierOneTrade(t *testing.T) {
	o, _ := newOrchestrator(t, &stubFilter{matches: true}, &stubScorer{score: 6, ok: true}, Detectors{})

	result := o.Process(context.Background(), newTestItem())

	require.Len(t, result.Actions, 2)
	trade := result.Actions[1].(Trade)
	assert.Equal(t, 5, trade.Leverage)
	assert.Equal(t, float64(300), trade.MarginUSD)
	assert.Equal(t, float64(70), trade.TakeProfitPercent)
}

func TestLowScoreEmitsNotifyOnly(t *testing.T) {
	o, _ := newOrchestrator(t, &stubFilter{matches: true}, &stubScorer{score: 5, ok: true}, Detectors{})

	result := o.Process(context.Background(), newTestItem())

	require.Equal(t, StateActionsEmitted, result.State)
	require.Len(t, result.Actions, 1)
	assert.Equal(t, 5, result.Actions[0].(Notify).AlignmentScore)
}

func TestDuplicateDiscardedWithZeroActions(t *testing.T) {
	o, _ := newOrchestrator(t, &stubFilter{matches: true}, &stubScorer{score: 8, ok: true}, Detectors{})

	first := o.Process(context.Background(), newTestItem())
	require.Equal(t, StateActionsEmitted, first.State)

	second := o.Process(context.Background(), newTestItem())
	assert.Equal(t, StateDiscarded, second.State)
	assert.Empty(t, second.Actions)
}

func TestScoreUnavailableNotifiesWithoutTrade(t *testing.T) {
	// ok=false even though the call succeeds
	o, _ := newOrchestrator(t, &stubFilter{matches: true}, &stubScorer{score: 9, ok: false}, Detectors{})

	result := o.Process(context.Background(), newTestItem())

	require.Equal(t, StateActionsEmitted, result.State)
	require.Len(t, result.Actions, 1)
	assert.Equal(t, 0, result.Actions[0].(Notify).AlignmentScore)
}

func TestScorerFailureStillNotifies(t *testing.T) {
	o, _ := newOrchestrator(t, &stubFilter{matches: true},
		&stubScorer{err: stderrors.New("model overloaded")}, Detectors{})

	result := o.Process(context.Background(), newTestItem())

	require.Equal(t, StateActionsEmitted, result.State)
	require.Len(t, result.Actions, 1)
	assert.Equal(t, 0, result.Actions[0].(Notify).AlignmentScore)
}

func TestScorerSeesSnapshotIncludingOwnItem(t *testing.T) {
	scorer := &stubScorer{score: 5, ok: true}
	o, store := newOrchestrator(t, &stubFilter{matches: true}, scorer, Detectors{})

	o.Process(context.Background(), newTestItem())

	assert.Equal(t, 1, scorer.records)
	assert.Equal(t, 1, store.Size())
}

func TestTopicFilterFailureIsTerminal(t *testing.T) {
	o, _ := newOrchestrator(t, &stubFilter{err: stderrors.New("api down")},
		&stubScorer{}, Detectors{})

	result := o.Process(context.Background(), newTestItem())

	assert.Equal(t, StateFailed, result.State)
	assert.Empty(t, result.Actions)
	assert.ErrorIs(t, result.Err, cerrors.ErrCollaboratorFailed)
}

func TestTokenFoundEmitsSnipe(t *testing.T) {
	detectors := Detectors{
		Text: &stubDetector{outcome: TokenFound{ChainID: 1, ChainName: "Ethereum", Address: "0xABC"}},
	}
	o, _ := newOrchestrator(t, &stubFilter{matches: false}, &stubScorer{}, detectors)

	result := o.Process(context.Background(), newTestItem())

	require.Equal(t, StateActionsEmitted, result.State)
	require.Len(t, result.Actions, 1)
	snipe := result.Actions[0].(Snipe)
	assert.Equal(t, 1, snipe.ChainID)
	assert.Equal(t, "Ethereum", snipe.ChainName)
	assert.Equal(t, "0xABC", snipe.TokenAddress)
}

func TestAllNoTokenDiscards(t *testing.T) {
	detectors := Detectors{
		Text:  &stubDetector{outcome: NoToken{}},
		Image: &stubDetector{outcome: NoToken{}},
		Link:  &stubDetector{outcome: NoToken{}},
	}
	o, _ := newOrchestrator(t, &stubFilter{matches: false}, &stubScorer{}, detectors)

	result := o.Process(context.Background(), newTestItem())

	assert.Equal(t, StateDiscarded, result.State)
	assert.Empty(t, result.Actions)
}

func TestReleaseOnlyEmitsNoAction(t *testing.T) {
	detectors := Detectors{
		Text: &stubDetector{outcome: ReleaseOnly{}},
	}
	o, _ := newOrchestrator(t, &stubFilter{matches: false}, &stubScorer{}, detectors)

	result := o.Process(context.Background(), newTestItem())

	assert.Equal(t, StateDiscarded, result.State)
	assert.Empty(t, result.Actions)
}

func TestDetectorMergeAcrossSources(t *testing.T) {
	detectors := Detectors{
		Text:  &stubDetector{outcome: ReleaseOnly{}},
		Image: &stubDetector{outcome: TokenFound{ChainID: 8453, ChainName: "Base", Address: "0xDEF"}},
		Link:  &stubDetector{outcome: NoToken{}},
	}
	o, _ := newOrchestrator(t, &stubFilter{matches: false}, &stubScorer{}, detectors)

	result := o.Process(context.Background(), newTestItem())

	require.Equal(t, StateActionsEmitted, result.State)
	assert.Equal(t, "0xDEF", result.Actions[0].(Snipe).TokenAddress)
}

func TestOneFailedDetectorDoesNotSinkItem(t *testing.T) {
	detectors := Detectors{
		Text:  &stubDetector{err: stderrors.New("vision api down")},
		Image: &stubDetector{outcome: TokenFound{ChainID: 1, ChainName: "Ethereum", Address: "0xABC"}},
		Link:  &stubDetector{outcome: NoToken{}},
	}
	o, _ := newOrchestrator(t, &stubFilter{matches: false}, &stubScorer{}, detectors)

	result := o.Process(context.Background(), newTestItem())

	require.Equal(t, StateActionsEmitted, result.State)
	assert.Equal(t, "0xABC", result.Actions[0].(Snipe).TokenAddress)
}

func TestAllDetectorsFailedIsTerminal(t *testing.T) {
	boom := stderrors.New("api down")
	detectors := Detectors{
		Text:  &stubDetector{err: boom},
		Image: &stubDetector{err: boom},
		Link:  &stubDetector{err: boom},
	}
	o, _ := newOrchestrator(t, &stubFilter{matches: false}, &stubScorer{}, detectors)

	result := o.Process(context.Background(), newTestItem())

	assert.Equal(t, StateFailed, result.State)
	assert.ErrorIs(t, result.Err, cerrors.ErrCollaboratorFailed)
}

func TestCollaboratorRetries(t *testing.T) {
	filter := &stubFilter{err: stderrors.New("flaky")}
	store, err := newsstore.New()
	require.NoError(t, err)

	o, err := New(filter, &stubFingerprinter{fp: "fp"}, &stubScorer{}, Detectors{}, store,
		WithRetryConfig(retry.Fixed(3, 1)))
	require.NoError(t, err)

	result := o.Process(context.Background(), newTestItem())

	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, 3, filter.calls)
}
