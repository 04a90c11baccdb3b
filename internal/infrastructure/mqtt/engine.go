package mqtt

import (
	"context"
	"fmt"
	"sync"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-session/internal/session"
)

// subscribeFailureCode is the lowest SUBACK return code that denotes failure.
const subscribeFailureCode = 0x80

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Error(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Engine implements session.Engine on top of paho.mqtt.golang.
//
// Each Connect builds a fresh paho client from the request. Publish,
// Subscribe and Unsubscribe hand work to paho and report completion
// through the registered session.Listener.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Listener callbacks are invoked without internal locks held.
type Engine struct {
	mu       sync.Mutex
	client   pahomqtt.Client
	listener session.Listener
	gen      uint64

	logger Logger
}

var _ session.Engine = (*Engine)(nil)

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithLogger sets a logger for paho-level failures that are not reported
// as events.
func WithLogger(logger Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine creates a disconnected engine.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{logger: noopLogger{}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Connect performs the handshake described by req, replacing any previous
// client. A handshake whose client was replaced before it completed is
// closed and reported as ErrSuperseded.
//
// Returns:
//   - error: wraps ErrConnectionFailed on a refused or failed handshake,
//     ctx.Err() when ctx ends first
func (e *Engine) Connect(ctx context.Context, req session.ConnectRequest) error {
	opts, err := buildClientOptions(ctx, req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		if l := e.current(); l.OnConnected != nil {
			l.OnConnected()
		}
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		if l := e.current(); l.OnConnectionLost != nil {
			l.OnConnectionLost(err)
		}
	})
	opts.SetReconnectingHandler(func(_ pahomqtt.Client, _ *pahomqtt.ClientOptions) {
		if l := e.current(); l.OnReconnecting != nil {
			l.OnReconnecting()
		}
	})
	opts.SetDefaultPublishHandler(e.deliver)

	client := pahomqtt.NewClient(opts)

	e.mu.Lock()
	previous := e.client
	e.client = client
	e.mu.Unlock()

	if previous != nil {
		previous.Disconnect(0)
	}

	token := client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		client.Disconnect(0)
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	e.mu.Lock()
	superseded := e.client != client
	e.mu.Unlock()
	if superseded {
		// A Disconnect or newer Connect replaced this client mid-handshake.
		client.Disconnect(0)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, ErrSuperseded)
	}
	return nil
}

// Disconnect closes the transport. It is safe to call when not connected.
func (e *Engine) Disconnect() {
	e.mu.Lock()
	client := e.client
	e.client = nil
	e.mu.Unlock()

	if client != nil {
		client.Disconnect(defaultDisconnectQuiesce)
	}
}

// Publish hands payload to paho. The acknowledgement (PUBACK/PUBCOMP, or
// the write for QoS 0) is reported through Listener.OnPublished.
//
// Returns session.ErrConnectionLost when there is no open connection.
func (e *Engine) Publish(topic string, qos session.QoS, payload []byte) error {
	client, err := e.openClient()
	if err != nil {
		return err
	}

	token := client.Publish(topic, byte(qos), false, payload)
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			e.logger.Warn("MQTT publish failed", "topic", topic, "error", err)
			return
		}
		if l := e.current(); l.OnPublished != nil {
			l.OnPublished(topic, payload)
		}
	}()
	return nil
}

// Subscribe asks the broker for a subscription. The SUBACK is reported
// through Listener.OnSubscribed or Listener.OnSubscribeFailed.
func (e *Engine) Subscribe(topic string, qos session.QoS) error {
	client, err := e.openClient()
	if err != nil {
		return err
	}

	token := client.Subscribe(topic, byte(qos), e.deliver)
	go func() {
		<-token.Done()
		err := token.Error()
		if err == nil {
			err = grantError(token, topic)
		}

		l := e.current()
		if err != nil {
			if l.OnSubscribeFailed != nil {
				l.OnSubscribeFailed(topic, err)
			}
			return
		}
		if l.OnSubscribed != nil {
			l.OnSubscribed(topic)
		}
	}()
	return nil
}

// grantError inspects the SUBACK return code for topic.
func grantError(token pahomqtt.Token, topic string) error {
	sub, ok := token.(*pahomqtt.SubscribeToken)
	if !ok {
		return nil
	}
	if code, ok := sub.Result()[topic]; ok && code >= subscribeFailureCode {
		return fmt.Errorf("%w: return code 0x%02x", ErrSubscriptionRefused, code)
	}
	return nil
}

// Unsubscribe asks the broker to drop a subscription. The UNSUBACK, or the
// failure to get one, is reported through Listener.OnUnsubscribed.
func (e *Engine) Unsubscribe(topic string) error {
	client, err := e.openClient()
	if err != nil {
		return err
	}

	token := client.Unsubscribe(topic)
	go func() {
		<-token.Done()
		err := token.Error()
		if err != nil {
			err = fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
			e.logger.Warn("MQTT unsubscribe failed", "topic", topic, "error", err)
		}
		if l := e.current(); l.OnUnsubscribed != nil {
			l.OnUnsubscribed(topic, err)
		}
	}()
	return nil
}

// State reports paho's view of the connection.
func (e *Engine) State() session.ConnectionState {
	e.mu.Lock()
	client := e.client
	e.mu.Unlock()

	switch {
	case client == nil:
		return session.StateDisconnected
	case client.IsConnectionOpen():
		return session.StateConnected
	case client.IsConnected():
		// paho reports connected while it is auto-reconnecting.
		return session.StateConnecting
	default:
		return session.StateDisconnected
	}
}

// Listen replaces the event listener.
func (e *Engine) Listen(l session.Listener) func() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.gen++
	gen := e.gen
	e.listener = l

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.gen == gen {
			e.listener = session.Listener{}
		}
	}
}

func (e *Engine) current() session.Listener {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.listener
}

// openClient returns the client when its connection is open.
func (e *Engine) openClient() (pahomqtt.Client, error) {
	e.mu.Lock()
	client := e.client
	e.mu.Unlock()

	if client == nil || !client.IsConnectionOpen() {
		return nil, session.ErrConnectionLost
	}
	return client, nil
}

// deliver forwards an inbound message. paho calls it in arrival order
// because order-matters is enabled.
func (e *Engine) deliver(_ pahomqtt.Client, msg pahomqtt.Message) {
	l := e.current()
	if l.OnMessages == nil {
		return
	}
	l.OnMessages([]session.Inbound{{Topic: msg.Topic(), Payload: msg.Payload()}})
}
