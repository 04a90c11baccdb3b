package mqtt

import (
	"fmt"
	"net"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/require"
)

// freePort returns an available local TCP port.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

// startBroker runs an in-process broker on a free port. A nil ledger
// allows everything.
func startBroker(t *testing.T, ledger *auth.Ledger) int {
	t.Helper()

	server := mochi.New(&mochi.Options{InlineClient: true})
	if ledger == nil {
		require.NoError(t, server.AddHook(new(auth.AllowHook), nil))
	} else {
		require.NoError(t, server.AddHook(new(auth.Hook), &auth.Options{Ledger: ledger}))
	}

	port := freePort(t)
	require.NoError(t, server.AddListener(listeners.NewTCP(listeners.Config{
		ID:      fmt.Sprintf("test-%d", port),
		Address: fmt.Sprintf("127.0.0.1:%d", port),
	})))

	go func() {
		_ = server.Serve()
	}()
	t.Cleanup(func() {
		_ = server.Close()
	})

	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 100*time.Millisecond)
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 2*time.Second, 20*time.Millisecond)

	return port
}
