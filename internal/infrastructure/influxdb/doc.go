// Package influxdb records MQTT session telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library and exposes a
// session.Observer that writes one point per state transition, completed
// operation and timeout.
//
// # Measurements
//
//	mqtt_session_state      tags: client_id, from, to        fields: state
//	mqtt_session_operation  tags: client_id, op, outcome     fields: elapsed_ms, topic
//	mqtt_session_timeout    tags: client_id, op              fields: count, topic
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	s, err := session.New(sessionCfg, engine,
//	    session.WithObserver(client.SessionObserver(sessionCfg.ClientID)))
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes, so observer
// callbacks never block the session.
package influxdb
