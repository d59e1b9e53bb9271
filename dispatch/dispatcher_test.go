package dispatch

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/c360/signalstream/errors"
	"github.com/c360/signalstream/event"
	"github.com/c360/signalstream/workflow"
)

var validPayload = []byte(`{
	"data_source": {"name": "twitter", "author_name": "whale_alert"},
	"createdAt": 1718000000,
	"text": "Major protocol upgrade announced"
}`)

// fakeDelivery counts settlements.
type fakeDelivery struct {
	acks atomic.Int32
	naks atomic.Int32
}

func (f *fakeDelivery) Data() []byte    { return validPayload }
func (f *fakeDelivery) Subject() string { return "events.inbound" }
func (f *fakeDelivery) Ack(_ context.Context) error {
	f.acks.Add(1)
	return nil
}
func (f *fakeDelivery) Nak(_ context.Context) error {
	f.naks.Add(1)
	return nil
}

// malformedDelivery carries an unparseable payload.
type malformedDelivery struct {
	fakeDelivery
}

func (m *malformedDelivery) Data() []byte { return []byte(`{broken`) }

// fakeProcessor returns a scripted result, optionally blocking first.
type fakeProcessor struct {
	result    workflow.Result
	block     chan struct{} // when set, Process waits for a signal or ctx
	panics    bool
	processed atomic.Int32
}

func (f *fakeProcessor) Process(ctx context.Context, _ *event.Tweet) workflow.Result {
	if f.panics {
		panic("processor exploded")
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return workflow.Result{State: workflow.StateFailed, Err: ctx.Err()}
		}
	}
	f.processed.Add(1)
	return f.result
}

// stubbornProcessor finishes its work regardless of the item deadline.
type stubbornProcessor struct {
	release chan struct{}
	result  workflow.Result
}

func (s *stubbornProcessor) Process(_ context.Context, _ *event.Tweet) workflow.Result {
	<-s.release
	return s.result
}

// fakePublisher records published actions.
type fakePublisher struct {
	mu   sync.Mutex
	sent map[string][]string // subject -> payloads
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if f.sent == nil {
		f.sent = make(map[string][]string)
	}
	f.sent[subject] = append(f.sent[subject], string(data))
	return nil
}

func (f *fakePublisher) subjects() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var subjects []string
	for subject := range f.sent {
		subjects = append(subjects, subject)
	}
	return subjects
}

func startedDispatcher(t *testing.T, capacity int, processor Processor, publisher ActionPublisher, opts ...Option) *Dispatcher {
	t.Helper()
	d, err := New(capacity, processor, publisher, opts...)
	require.NoError(t, err)
	require.NoError(t, d.Start(context.Background()))
	return d
}

func TestNewDispatcherValidation(t *testing.T) {
	_, err := New(10, nil, &fakePublisher{})
	require.Error(t, err)
	assert.True(t, cerrors.IsInvalid(err))
}

func TestOnDeliveryBeforeStart(t *testing.T) {
	d, err := New(10, &fakeProcessor{}, &fakePublisher{})
	require.NoError(t, err)

	delivery := &fakeDelivery{}
	err = d.OnDelivery(context.Background(), delivery)
	assert.ErrorIs(t, err, cerrors.ErrShuttingDown)
	assert.Equal(t, int32(1), delivery.naks.Load())
}

func TestMalformedDeliveryAckedAndDropped(t *testing.T) {
	processor := &fakeProcessor{}
	d := startedDispatcher(t, 10, processor, &fakePublisher{})

	delivery := &malformedDelivery{}
	require.NoError(t, d.OnDelivery(context.Background(), delivery))
	require.NoError(t, d.Shutdown(time.Second))

	assert.Equal(t, int32(1), delivery.acks.Load())
	assert.Equal(t, int32(0), delivery.naks.Load())
	assert.Equal(t, int32(0), processor.processed.Load())
	assert.Equal(t, int64(1), d.Stats().Malformed)
	assert.Equal(t, int64(0), d.Stats().Dispatched)
}

func TestSuccessfulItemPublishesAndAcks(t *testing.T) {
	processor := &fakeProcessor{result: workflow.Result{
		State: workflow.StateActionsEmitted,
		Actions: []workflow.Action{
			workflow.Notify{Source: "twitter/@whale_alert", Text: "hi", CreatedAt: 1, AlignmentScore: 8},
			workflow.Trade{Pair: "ETHUSDT", Side: "long", Leverage: 7, MarginUSD: 500},
		},
	}}
	publisher := &fakePublisher{}
	d := startedDispatcher(t, 10, processor, publisher)

	delivery := &fakeDelivery{}
	require.NoError(t, d.OnDelivery(context.Background(), delivery))
	require.NoError(t, d.Shutdown(time.Second))

	assert.Equal(t, int32(1), delivery.acks.Load())
	assert.Equal(t, int32(0), delivery.naks.Load())
	assert.ElementsMatch(t, []string{"actions.notify", "actions.trade"}, publisher.subjects())
	assert.Contains(t, publisher.sent["actions.notify"][0], `"action":"notify"`)
	assert.Equal(t, int64(1), d.Stats().Processed)
}

func TestFailedWorkflowStillAcks(t *testing.T) {
	processor := &fakeProcessor{result: workflow.Result{
		State: workflow.StateFailed,
		Err:   stderrors.New("collaborator down"),
	}}
	publisher := &fakePublisher{}
	d := startedDispatcher(t, 10, processor, publisher)

	delivery := &fakeDelivery{}
	require.NoError(t, d.OnDelivery(context.Background(), delivery))
	require.NoError(t, d.Shutdown(time.Second))

	// Logic failures are terminal per item: acked, never redelivered
	assert.Equal(t, int32(1), delivery.acks.Load())
	assert.Equal(t, int32(0), delivery.naks.Load())
	assert.Empty(t, publisher.subjects())
	assert.Equal(t, int64(1), d.Stats().Failed)
}

func TestDiscardedItemAcks(t *testing.T) {
	processor := &fakeProcessor{result: workflow.Result{State: workflow.StateDiscarded}}
	d := startedDispatcher(t, 10, processor, &fakePublisher{})

	delivery := &fakeDelivery{}
	require.NoError(t, d.OnDelivery(context.Background(), delivery))
	require.NoError(t, d.Shutdown(time.Second))

	assert.Equal(t, int32(1), delivery.acks.Load())
}

func TestTimeoutNaksForRedelivery(t *testing.T) {
	processor := &fakeProcessor{block: make(chan struct{})} // never signalled
	d := startedDispatcher(t, 10, processor, &fakePublisher{},
		WithTimeout(20*time.Millisecond))

	delivery := &fakeDelivery{}
	require.NoError(t, d.OnDelivery(context.Background(), delivery))
	require.NoError(t, d.Shutdown(time.Second))

	assert.Equal(t, int32(0), delivery.acks.Load())
	assert.Equal(t, int32(1), delivery.naks.Load())
	assert.Equal(t, int64(1), d.Stats().TimedOut)
}

func TestLateTerminalResultStillAcks(t *testing.T) {
	release := make(chan struct{})
	processor := &stubbornProcessor{
		release: release,
		result: workflow.Result{
			State: workflow.StateActionsEmitted,
			Actions: []workflow.Action{
				workflow.Snipe{ChainID: 1, ChainName: "ethereum", TokenAddress: "0xabc"},
			},
		},
	}
	publisher := &fakePublisher{}
	d := startedDispatcher(t, 10, processor, publisher,
		WithTimeout(20*time.Millisecond))

	delivery := &fakeDelivery{}
	require.NoError(t, d.OnDelivery(context.Background(), delivery))

	// Let the item deadline lapse before the workflow finishes.
	time.Sleep(50 * time.Millisecond)
	close(release)

	require.NoError(t, d.Shutdown(time.Second))

	// The workflow reached a real terminal state, so the delivery is acked
	// and the snipe goes out exactly once; a nak here would emit a second
	// snipe on redelivery.
	assert.Equal(t, int32(1), delivery.acks.Load())
	assert.Equal(t, int32(0), delivery.naks.Load())
	assert.Equal(t, int64(0), d.Stats().TimedOut)
	assert.Contains(t, publisher.subjects(), "actions.snipe")
}

func TestPanicNaksForRedelivery(t *testing.T) {
	processor := &fakeProcessor{panics: true}
	d := startedDispatcher(t, 10, processor, &fakePublisher{})

	delivery := &fakeDelivery{}
	require.NoError(t, d.OnDelivery(context.Background(), delivery))
	require.NoError(t, d.Shutdown(time.Second))

	assert.Equal(t, int32(0), delivery.acks.Load())
	assert.Equal(t, int32(1), delivery.naks.Load())
	assert.Equal(t, int64(1), d.Stats().Failed)
}

func TestBackpressureBlocksAtCap(t *testing.T) {
	release := make(chan struct{})
	processor := &fakeProcessor{block: release}
	d := startedDispatcher(t, 1, processor, &fakePublisher{})

	// First delivery takes the only slot
	require.NoError(t, d.OnDelivery(context.Background(), &fakeDelivery{}))

	// Second delivery must block until the slot frees
	secondDone := make(chan error, 1)
	go func() {
		secondDone <- d.OnDelivery(context.Background(), &fakeDelivery{})
	}()

	select {
	case <-secondDone:
		t.Fatal("second delivery dispatched past the concurrency cap")
	case <-time.After(50 * time.Millisecond):
		// Still blocked, as it should be
	}

	close(release)

	select {
	case err := <-secondDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("second delivery never unblocked")
	}

	require.NoError(t, d.Shutdown(time.Second))
	assert.Equal(t, int64(2), d.Stats().Dispatched)
}

func TestShutdownForceProceedsOnTimeout(t *testing.T) {
	release := make(chan struct{})
	processor := &fakeProcessor{block: release} // worker held until released
	d := startedDispatcher(t, 10, processor, &fakePublisher{},
		WithTimeout(time.Hour))
	defer close(release)

	delivery := &fakeDelivery{}
	require.NoError(t, d.OnDelivery(context.Background(), delivery))

	start := time.Now()
	err := d.Shutdown(50 * time.Millisecond)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 1, d.Stats().InFlight)
}

func TestShutdownRejectsNewDeliveries(t *testing.T) {
	d := startedDispatcher(t, 10, &fakeProcessor{result: workflow.Result{State: workflow.StateDiscarded}}, &fakePublisher{})
	require.NoError(t, d.Shutdown(time.Second))

	delivery := &fakeDelivery{}
	err := d.OnDelivery(context.Background(), delivery)
	assert.ErrorIs(t, err, cerrors.ErrShuttingDown)
	assert.Equal(t, int32(1), delivery.naks.Load())
}

func TestDoubleStart(t *testing.T) {
	d := startedDispatcher(t, 10, &fakeProcessor{}, &fakePublisher{})
	assert.ErrorIs(t, d.Start(context.Background()), cerrors.ErrAlreadyStarted)
	require.NoError(t, d.Shutdown(time.Second))
}
