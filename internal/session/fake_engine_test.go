package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

// fakeEngine is an in-memory Engine. With ack enabled it acknowledges
// publishes and grants subscriptions from inside the engine call.
type fakeEngine struct {
	mu       sync.Mutex
	state    ConnectionState
	listener Listener
	gen      int

	// epoch changes on every Connect and Disconnect; a handshake that
	// outlives its epoch fails unless lenient is set.
	epoch   int
	lenient bool

	ack        bool
	refuse     map[string]error
	connectErr error
	onConnect  func(ctx context.Context) error

	publishErr       error
	subscribeErr     error
	unsubscribeErr   error
	unsubscribeDelay time.Duration

	requests     []ConnectRequest
	disconnects  int
	published    []Message
	subscribed   []string
	unsubscribed []string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{ack: true, refuse: make(map[string]error)}
}

var errSuperseded = errors.New("fake engine: handshake superseded")

func (e *fakeEngine) Connect(ctx context.Context, req ConnectRequest) error {
	e.mu.Lock()
	e.requests = append(e.requests, req)
	e.epoch++
	epoch := e.epoch
	hook, err := e.onConnect, e.connectErr
	e.mu.Unlock()

	if hook != nil {
		err = hook(ctx)
	}
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.epoch != epoch && !e.lenient {
		return errSuperseded
	}
	e.state = StateConnected
	return nil
}

func (e *fakeEngine) Disconnect() {
	e.mu.Lock()
	e.epoch++
	e.disconnects++
	e.state = StateDisconnected
	e.mu.Unlock()
}

func (e *fakeEngine) Publish(topic string, _ QoS, payload []byte) error {
	e.mu.Lock()
	e.published = append(e.published, Message{Topic: topic, Body: string(payload)})
	err, ack := e.publishErr, e.ack
	l := e.listener
	e.mu.Unlock()

	if ack && l.OnPublished != nil {
		l.OnPublished(topic, payload)
	}
	return err
}

func (e *fakeEngine) Subscribe(topic string, _ QoS) error {
	e.mu.Lock()
	e.subscribed = append(e.subscribed, topic)
	err, ack := e.subscribeErr, e.ack
	refused, isRefused := e.refuse[topic]
	l := e.listener
	e.mu.Unlock()

	if err != nil {
		return err
	}
	switch {
	case isRefused && l.OnSubscribeFailed != nil:
		l.OnSubscribeFailed(topic, refused)
	case ack && l.OnSubscribed != nil:
		l.OnSubscribed(topic)
	}
	return nil
}

func (e *fakeEngine) Unsubscribe(topic string) error {
	e.mu.Lock()
	delay := e.unsubscribeDelay
	e.mu.Unlock()

	// A stalled broker round trip.
	time.Sleep(delay)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.unsubscribed = append(e.unsubscribed, topic)
	return e.unsubscribeErr
}

func (e *fakeEngine) State() ConnectionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *fakeEngine) Listen(l Listener) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gen++
	gen := e.gen
	e.listener = l
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.gen == gen {
			e.listener = Listener{}
		}
	}
}

// set runs fn with the engine lock held.
func (e *fakeEngine) set(fn func(e *fakeEngine)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e)
}

func (e *fakeEngine) current() Listener {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.listener
}

func (e *fakeEngine) connectCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.requests)
}

func (e *fakeEngine) lastRequest() ConnectRequest {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.requests[len(e.requests)-1]
}

func (e *fakeEngine) publishCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.published)
}

func (e *fakeEngine) subscribedTopics() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.subscribed...)
}

func (e *fakeEngine) unsubscribedTopics() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.unsubscribed...)
}

func (e *fakeEngine) disconnectCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disconnects
}

// emitConnectionLost simulates the transport dropping.
func (e *fakeEngine) emitConnectionLost(err error) {
	e.mu.Lock()
	e.state = StateFaulted
	l := e.listener
	e.mu.Unlock()
	if l.OnConnectionLost != nil {
		l.OnConnectionLost(err)
	}
}

func (e *fakeEngine) emitReconnecting() {
	if l := e.current(); l.OnReconnecting != nil {
		l.OnReconnecting()
	}
}

func (e *fakeEngine) emitConnected() {
	e.mu.Lock()
	e.state = StateConnected
	l := e.listener
	e.mu.Unlock()
	if l.OnConnected != nil {
		l.OnConnected()
	}
}

func (e *fakeEngine) emitPublished(topic, body string) {
	if l := e.current(); l.OnPublished != nil {
		l.OnPublished(topic, []byte(body))
	}
}

func (e *fakeEngine) emitMessages(batch ...Inbound) {
	if l := e.current(); l.OnMessages != nil {
		l.OnMessages(batch)
	}
}

// recordingLogger captures log messages.
type recordingLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (l *recordingLogger) record(msg string) {
	l.mu.Lock()
	l.msgs = append(l.msgs, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Debug(msg string, _ ...any) { l.record(msg) }
func (l *recordingLogger) Info(msg string, _ ...any)  { l.record(msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.record(msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.record(msg) }

func (l *recordingLogger) messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.msgs...)
}

// recordingObserver captures telemetry callbacks.
type recordingObserver struct {
	mu       sync.Mutex
	states   []ConnectionState
	ops      []Operation
	timeouts []string
}

func (o *recordingObserver) StateChanged(_, to ConnectionState) {
	o.mu.Lock()
	o.states = append(o.states, to)
	o.mu.Unlock()
}

func (o *recordingObserver) OperationCompleted(op Operation, _ string, _ time.Duration, _ error) {
	o.mu.Lock()
	o.ops = append(o.ops, op)
	o.mu.Unlock()
}

func (o *recordingObserver) TimedOut(op string) {
	o.mu.Lock()
	o.timeouts = append(o.timeouts, op)
	o.mu.Unlock()
}

func (o *recordingObserver) snapshot() ([]ConnectionState, []Operation, []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]ConnectionState(nil), o.states...),
		append([]Operation(nil), o.ops...),
		append([]string(nil), o.timeouts...)
}
