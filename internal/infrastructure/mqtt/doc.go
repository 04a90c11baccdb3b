// Package mqtt provides the paho-based MQTT engine behind session.Session.
//
// The Engine owns the wire protocol: it builds a paho client per handshake,
// hands publishes, subscribes and unsubscribes to paho and reports their
// completion as session.Listener events. It keeps no subscription state;
// restoring subscriptions after a reconnect is the session's job.
//
// # Transport Selection
//
//	Secure=false WebSocket=false  tcp://host:port
//	Secure=true  WebSocket=false  ssl://host:port
//	Secure=false WebSocket=true   ws://host:port/mqtt
//	Secure=true  WebSocket=true   wss://host:port/mqtt
//
// # Security Considerations
//
//   - Secure sessions trust only the CA certificates in CertificatePath
//   - TLS 1.2 is the minimum version
//   - AcceptBadCertificate disables verification and is meant for
//     self-signed development brokers only
//
// # Usage
//
//	engine := mqtt.NewEngine(mqtt.WithLogger(logger))
//	s, err := session.New(cfg, engine, session.WithLogger(logger))
package mqtt
