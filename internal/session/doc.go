// Package session turns a fire-and-forget MQTT engine into a
// request/response API.
//
// A Session owns one logical connection to a broker and gates every
// operation through a single connectivity check that reconnects with the
// last successful credentials when needed. Publish and subscribe calls
// block until the engine reports the matching acknowledgement, and inbound
// messages are routed to the handler registered for their topic.
//
// # Components
//
//   - Timeout guard: every operation is bounded by Config.Timeout. An expired
//     operation marks the session timed out so the next connectivity check
//     drops the (possibly half-open) transport before reconnecting.
//   - Connection state machine: Disconnected, Connecting, Connected,
//     Disconnecting and Faulted. Only one connection attempt is in flight at
//     a time; concurrent callers share its result.
//   - Request correlator: pending publishes keyed by (topic, body) and
//     pending subscribes keyed by topic, resolved by engine events.
//     Identical concurrent publishes share one pending request.
//   - Message dispatcher: exact-topic registry of handlers fed by the
//     engine's inbound message batches.
//
// # Usage
//
//	s, err := session.New(session.Config{
//	    Address: "broker.local",
//	    Timeout: 5 * time.Second,
//	}, mqtt.NewEngine())
//	if err != nil {
//	    return err
//	}
//	if err := s.Connect(ctx, "", ""); err != nil {
//	    return err
//	}
//	defer s.Disconnect()
//
//	err = s.Subscribe(ctx, "sensors/temp", func(topic, body string) error {
//	    log.Printf("%s = %s", topic, body)
//	    return nil
//	}, session.AtLeastOnce)
//
//	msg, err := s.Publish(ctx, "sensors/temp", "21.5", session.AtLeastOnce)
//
// # Thread Safety
//
// All Session methods are safe for concurrent use. Internal tables are
// guarded by short critical sections that are never held across engine
// calls, waits or handler invocations.
package session
