package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-session/internal/session"
)

// Connection constants.
const (
	// defaultConnectTimeout bounds the handshake when ctx has no deadline.
	defaultConnectTimeout = 10 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// maxReconnectInterval caps paho's auto-reconnect backoff.
	maxReconnectInterval = 30 * time.Second

	// websocketPath is the conventional broker path for MQTT over WebSocket.
	websocketPath = "/mqtt"

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// brokerURL builds the broker URL for a request.
//
//	tcp://host:1883   plain
//	ssl://host:8883   Secure
//	ws://host:80/mqtt WebSocket
//	wss://host/mqtt   Secure + WebSocket
func brokerURL(req session.ConnectRequest) string {
	var scheme, path string
	switch {
	case req.WebSocket && req.Secure:
		scheme, path = "wss", websocketPath
	case req.WebSocket:
		scheme, path = "ws", websocketPath
	case req.Secure:
		scheme = "ssl"
	default:
		scheme = "tcp"
	}
	return fmt.Sprintf("%s://%s:%d%s", scheme, req.Address, req.Port, path)
}

// buildClientOptions creates paho MQTT options from a connect request.
//
// This configures:
//   - Broker URL (tcp, ssl, ws or wss)
//   - Client ID and credentials (if provided)
//   - Clean session mode (the session layer restores subscriptions)
//   - Keep-alive and handshake timeout
//   - Engine auto-reconnect, when requested
//   - TLS trusting the request's certificate (if secure)
func buildClientOptions(ctx context.Context, req session.ConnectRequest) (*pahomqtt.ClientOptions, error) {
	opts := pahomqtt.NewClientOptions()

	opts.AddBroker(brokerURL(req))
	opts.SetClientID(req.ClientID)

	if req.Credentials.Username != "" {
		opts.SetUsername(req.Credentials.Username)
		opts.SetPassword(req.Credentials.Password)
	}

	opts.SetCleanSession(true)
	opts.SetOrderMatters(true)

	// The session decides when to retry a failed handshake.
	opts.SetConnectRetry(false)
	opts.SetAutoReconnect(req.AutoReconnect)
	opts.SetMaxReconnectInterval(maxReconnectInterval)

	timeout := defaultConnectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if timeout <= 0 {
		return nil, context.DeadlineExceeded
	}
	opts.SetConnectTimeout(timeout)

	if req.KeepAlive > 0 {
		opts.SetKeepAlive(req.KeepAlive)
	}

	if req.Secure {
		tlsConfig, err := buildTLSConfig(req)
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	return opts, nil
}

// buildTLSConfig trusts the PEM certificates at req.CertificatePath.
func buildTLSConfig(req session.ConnectRequest) (*tls.Config, error) {
	pem, err := os.ReadFile(req.CertificatePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCertificate, err)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("%w: no certificates in %s", ErrInvalidCertificate, req.CertificatePath)
	}

	return &tls.Config{
		MinVersion:         tlsMinVersion,
		RootCAs:            pool,
		ServerName:         req.Address,
		InsecureSkipVerify: req.AcceptBadCertificate, //nolint:gosec // opt-in for self-signed brokers
	}, nil
}
