package mqtt

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/gray-logic-session/internal/session"
)

func newBrokerSession(t *testing.T, port int, clientID string) *session.Session {
	t.Helper()

	s, err := session.New(session.Config{
		Address:  "127.0.0.1",
		Port:     port,
		ClientID: clientID,
		Timeout:  5 * time.Second,
	}, NewEngine())
	require.NoError(t, err)
	t.Cleanup(s.Disconnect)
	return s
}

// =============================================================================
// Engine Tests
// =============================================================================

func TestEngine_ConnectFailure(t *testing.T) {
	e := NewEngine()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := e.Connect(ctx, session.ConnectRequest{
		Address:  "127.0.0.1",
		Port:     freePort(t),
		ClientID: "refused",
	})

	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.Equal(t, session.StateDisconnected, e.State())
}

func TestEngine_NotConnected(t *testing.T) {
	e := NewEngine()

	assert.ErrorIs(t, e.Publish("t", session.AtMostOnce, []byte("x")), session.ErrConnectionLost)
	assert.ErrorIs(t, e.Subscribe("t", session.AtMostOnce), session.ErrConnectionLost)
	assert.ErrorIs(t, e.Unsubscribe("t"), session.ErrConnectionLost)
	assert.Equal(t, session.StateDisconnected, e.State())
	assert.NotPanics(t, e.Disconnect)
}

func TestEngine_ListenerEvents(t *testing.T) {
	port := startBroker(t, nil)
	e := NewEngine()

	require.NoError(t, e.Connect(context.Background(), session.ConnectRequest{
		Address:  "127.0.0.1",
		Port:     port,
		ClientID: "engine-events",
	}))
	defer e.Disconnect()
	assert.Equal(t, session.StateConnected, e.State())

	subscribed := make(chan string, 1)
	unsubscribed := make(chan error, 1)
	published := make(chan string, 1)
	messages := make(chan session.Inbound, 1)
	stop := e.Listen(session.Listener{
		OnSubscribed:   func(topic string) { subscribed <- topic },
		OnUnsubscribed: func(_ string, err error) { unsubscribed <- err },
		OnPublished:    func(topic string, payload []byte) { published <- topic + "=" + string(payload) },
		OnMessages: func(batch []session.Inbound) {
			for _, in := range batch {
				messages <- in
			}
		},
	})
	defer stop()

	require.NoError(t, e.Subscribe("engine/events", session.AtLeastOnce))
	assert.Equal(t, "engine/events", receive(t, subscribed))

	require.NoError(t, e.Publish("engine/events", session.AtLeastOnce, []byte("ping")))
	assert.Equal(t, "engine/events=ping", receive(t, published))

	in := receive(t, messages)
	assert.Equal(t, "engine/events", in.Topic)
	assert.Equal(t, []byte("ping"), in.Payload)

	require.NoError(t, e.Unsubscribe("engine/events"))
	assert.NoError(t, receive(t, unsubscribed))
}

func TestEngine_ReplacedHandshakeFails(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	accepted := make(chan struct{})
	release := make(chan struct{})
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 256)
		_, _ = conn.Read(buf)
		close(accepted)
		<-release
		// CONNACK, session not present, accepted.
		_, _ = conn.Write([]byte{0x20, 0x02, 0x00, 0x00})
		_, _ = io.Copy(io.Discard, conn)
	}()

	e := NewEngine()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		errc <- e.Connect(ctx, session.ConnectRequest{
			Address:  "127.0.0.1",
			Port:     l.Addr().(*net.TCPAddr).Port,
			ClientID: "replaced",
		})
	}()

	receive(t, accepted)
	e.Disconnect()
	close(release)

	assert.ErrorIs(t, receive(t, errc), ErrConnectionFailed)
	assert.Equal(t, session.StateDisconnected, e.State())
}

func TestEngine_ListenCancel(t *testing.T) {
	e := NewEngine()

	first := e.Listen(session.Listener{OnConnected: func() {}})
	e.Listen(session.Listener{})
	first()

	e.mu.Lock()
	defer e.mu.Unlock()
	assert.Equal(t, uint64(2), e.gen)
}

// =============================================================================
// Session over a real broker
// =============================================================================

func TestSession_EndToEnd(t *testing.T) {
	port := startBroker(t, nil)
	s := newBrokerSession(t, port, "e2e")
	ctx := context.Background()

	require.NoError(t, s.Connect(ctx, "", ""))
	assert.True(t, s.IsConnected())

	received := make(chan string, 1)
	require.NoError(t, s.Subscribe(ctx, "e2e/topic", func(topic, body string) error {
		received <- topic + "=" + body
		return nil
	}, session.AtLeastOnce))

	msg, err := s.Publish(ctx, "e2e/topic", "hello", session.AtLeastOnce)
	require.NoError(t, err)
	assert.Equal(t, session.Message{Topic: "e2e/topic", Body: "hello"}, msg)
	assert.Equal(t, "e2e/topic=hello", receive(t, received))

	require.NoError(t, s.Unsubscribe(ctx, "e2e/topic"))
	assert.False(t, s.HasSubscription("e2e/topic"))

	s.Disconnect()
	assert.False(t, s.IsConnected())
}

func TestSession_IdenticalPublishesOverBroker(t *testing.T) {
	port := startBroker(t, nil)
	s := newBrokerSession(t, port, "coalesce")
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx, "", ""))

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Publish(ctx, "dup/topic", "same", session.ExactlyOnce)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestSession_RecoversFromDroppedTransport(t *testing.T) {
	port := startBroker(t, nil)
	engine := NewEngine()
	s, err := session.New(session.Config{
		Address:  "127.0.0.1",
		Port:     port,
		ClientID: "recover",
		Timeout:  5 * time.Second,
	}, engine)
	require.NoError(t, err)
	defer s.Disconnect()

	ctx := context.Background()
	require.NoError(t, s.Connect(ctx, "", ""))

	received := make(chan string, 4)
	require.NoError(t, s.Subscribe(ctx, "recover/topic", func(_, body string) error {
		received <- body
		return nil
	}, session.AtLeastOnce))

	// Close the transport behind the session's back.
	engine.Disconnect()

	_, err = s.Publish(ctx, "recover/topic", "lost", session.AtLeastOnce)
	require.ErrorIs(t, err, session.ErrConnectionLost)
	assert.Equal(t, session.StateFaulted, s.State())

	// The next call reconnects and restores the subscription.
	require.Eventually(t, func() bool {
		if _, err := s.Publish(ctx, "recover/topic", "again", session.AtLeastOnce); err != nil {
			return false
		}
		select {
		case body := <-received:
			return body == "again"
		case <-time.After(200 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)
	assert.True(t, s.IsConnected())
	assert.True(t, s.HasSubscription("recover/topic"))
}

func TestSession_SubscriptionRefusedByBroker(t *testing.T) {
	port := startBroker(t, &auth.Ledger{
		Auth: auth.AuthRules{{Allow: true}},
		ACL: auth.ACLRules{{
			Filters: auth.Filters{
				"secret/#": auth.Deny,
			},
		}},
	})
	s := newBrokerSession(t, port, "refused")
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx, "", ""))

	err := s.Subscribe(ctx, "secret/plans", func(string, string) error { return nil }, session.AtLeastOnce)

	assert.ErrorIs(t, err, session.ErrSubscriptionFailed)
	assert.False(t, s.HasSubscription("secret/plans"))
}

func receive[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	var zero T
	return zero
}
