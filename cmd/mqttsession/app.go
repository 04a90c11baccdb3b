package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-session/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-session/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-session/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-session/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-session/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-session/internal/journal"
	"github.com/nerrad567/gray-logic-session/internal/session"
	"github.com/nerrad567/gray-logic-session/migrations"
)

// configEnv names the environment variable holding the config file path.
const configEnv = "MQTTSESSION_CONFIG"

// app carries state shared by every subcommand.
type app struct {
	configPath string
	jsonOutput bool

	cfg *config.Config
	log *logging.Logger
}

// getConfigPath resolves the config file: flag, then MQTTSESSION_CONFIG.
// An empty result runs on defaults plus environment overrides.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(configEnv)
}

// load reads configuration and builds the logger. It runs before every
// subcommand.
func (a *app) load(stderr io.Writer) error {
	path := getConfigPath(a.configPath)
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	a.cfg = cfg

	if cfg.Logging.Output == "stderr" {
		a.log = logging.NewWithWriter(cfg.Logging, version, stderr)
	} else {
		a.log = logging.New(cfg.Logging, version)
	}
	a.log.Debug("configuration loaded", "path", path, "commit", commit, "build_date", date)
	return nil
}

// sessionConfig maps the mqtt config section onto session.Config. A
// missing client ID is generated here so telemetry and the journal can
// tag with it.
func sessionConfig(cfg *config.Config) session.Config {
	m := cfg.MQTT

	clientID := m.Broker.ClientID
	if clientID == "" {
		clientID = "mqttsession-" + uuid.NewString()[:8]
	}

	return session.Config{
		Address:              m.Broker.Host,
		Port:                 m.Broker.Port,
		ClientID:             clientID,
		Secure:               m.Broker.TLS,
		CertificatePath:      m.Broker.CACert,
		AcceptBadCertificate: m.Broker.AcceptBadCert,
		WebSocket:            m.Broker.WebSocket,
		AutoReconnect:        m.Session.AutoReconnect,
		Timeout:              m.Session.Timeout,
		Logging:              m.Session.Logging,
		WaiterGrace:          m.Session.WaiterGrace,
		ReconnectGrace:       m.Session.ReconnectGrace,
		Breaker: session.BreakerConfig{
			FailureThreshold: m.Reconnect.FailureThreshold,
			ResetTimeout:     m.Reconnect.ResetTimeout,
		},
		PublishRate:  m.RateLimit.PublishesPerSecond,
		PublishBurst: m.RateLimit.Burst,
	}
}

// qosFlag returns the --qos value, falling back to the configured QoS.
func (a *app) qosFlag(cmd *cobra.Command) (session.QoS, error) {
	qos := a.cfg.MQTT.QoS
	if cmd.Flags().Changed("qos") {
		v, err := cmd.Flags().GetInt("qos")
		if err != nil {
			return 0, err
		}
		qos = v
	}
	if qos < 0 || qos > 2 {
		return 0, fmt.Errorf("qos must be 0, 1 or 2, got %d", qos)
	}
	return session.QoS(qos), nil
}

// connection is a connected session and the telemetry client attached
// to it.
type connection struct {
	session *session.Session
	influx  *influxdb.Client
	log     *logging.Logger
}

// close disconnects the session, then flushes telemetry.
func (c *connection) close() {
	c.session.Disconnect()
	c.closeInflux()
}

func (c *connection) closeInflux() {
	if c.influx == nil {
		return
	}
	if err := c.influx.Close(); err != nil {
		c.log.Error("error closing influxdb", "error", err)
	}
}

// connect builds the engine and session, attaches InfluxDB telemetry when
// enabled, and connects with the configured credentials.
func (a *app) connect(ctx context.Context) (*connection, error) {
	sc := sessionConfig(a.cfg)
	conn := &connection{log: a.log}

	opts := []session.Option{session.WithLogger(a.log.With("client_id", sc.ClientID))}

	if a.cfg.InfluxDB.Enabled {
		c, err := influxdb.Connect(ctx, a.cfg.InfluxDB)
		if err != nil {
			a.log.Warn("influxdb unavailable, continuing without telemetry", "error", err)
		} else {
			conn.influx = c
			c.SetOnError(func(err error) {
				a.log.Warn("influxdb write failed", "error", err)
			})
			opts = append(opts, session.WithObserver(c.SessionObserver(sc.ClientID)))
		}
	}

	engine := mqtt.NewEngine(mqtt.WithLogger(a.log))
	s, err := session.New(sc, engine, opts...)
	if err != nil {
		conn.closeInflux()
		return nil, err
	}

	if err := s.Connect(ctx, a.cfg.MQTT.Auth.Username, a.cfg.MQTT.Auth.Password); err != nil {
		conn.closeInflux()
		return nil, fmt.Errorf("connecting to %s:%d: %w", sc.Address, s.Config().Port, err)
	}
	a.log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", sc.Address, s.Config().Port),
		"client_id", sc.ClientID,
	)

	conn.session = s
	return conn, nil
}

// openJournal opens the journal database, applying pending migrations
// when migrate is set.
func (a *app) openJournal(ctx context.Context, migrate bool) (*database.DB, func(), error) {
	db, err := database.Open(a.cfg.Journal)
	if err != nil {
		return nil, nil, fmt.Errorf("opening journal: %w", err)
	}
	if migrate {
		if err := db.Migrate(ctx, migrations.FS); err != nil {
			db.Close() //nolint:errcheck // Best effort cleanup on error path
			return nil, nil, fmt.Errorf("migrating journal: %w", err)
		}
	}

	return db, func() {
		if err := db.Close(); err != nil {
			a.log.Error("error closing journal", "error", err)
		}
	}, nil
}

// closer releases one resource a command acquired.
type closer struct {
	name string
	fn   func()
}

// subscriber is what a subscribe run holds open.
type subscriber struct {
	session *session.Session
	handler session.Handler
	closers []closer
}

// openSubscriber opens the journal, when journaling, before connecting.
// close releases in reverse order, so the session stops delivering
// messages before the journal database closes.
func (a *app) openSubscriber(ctx context.Context, next session.Handler, useJournal bool) (*subscriber, error) {
	sub := &subscriber{handler: next}

	var repo *journal.SQLiteRepository
	if useJournal || a.cfg.Journal.Enabled {
		db, closeJournal, err := a.openJournal(ctx, true)
		if err != nil {
			return nil, err
		}
		sub.closers = append(sub.closers, closer{name: "journal", fn: closeJournal})
		repo = journal.NewSQLiteRepository(db.DB)
	}

	conn, err := a.connect(ctx)
	if err != nil {
		sub.close()
		return nil, err
	}
	sub.closers = append(sub.closers, closer{name: "session", fn: conn.close})
	sub.session = conn.session

	if repo != nil {
		sub.handler = journal.Handler(repo, conn.session.Config().ClientID, next)
	}
	return sub, nil
}

func (sub *subscriber) close() {
	for i := len(sub.closers) - 1; i >= 0; i-- {
		sub.closers[i].fn()
	}
	sub.closers = nil
}
