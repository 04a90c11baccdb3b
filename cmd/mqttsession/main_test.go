package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"

	"github.com/nerrad567/gray-logic-session/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-session/internal/journal"
)

func init() {
	color.NoColor = true
}

// startBroker runs an in-process broker and returns its port.
func startBroker(t *testing.T) int {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("finding free port: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	server := mochi.New(&mochi.Options{InlineClient: true})
	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		t.Fatalf("adding auth hook: %v", err)
	}
	if err := server.AddListener(listeners.NewTCP(listeners.Config{
		ID:      "cli-test",
		Address: fmt.Sprintf("127.0.0.1:%d", port),
	})); err != nil {
		t.Fatalf("adding listener: %v", err)
	}

	go func() {
		_ = server.Serve()
	}()
	t.Cleanup(func() {
		_ = server.Close()
	})

	deadline := time.Now().Add(2 * time.Second)
	for {
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 100*time.Millisecond)
		if err == nil {
			conn.Close()
			return port
		}
		if time.Now().After(deadline) {
			t.Fatalf("broker did not start: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func writeConfig(t *testing.T, port int, journalPath string) string {
	t.Helper()

	content := fmt.Sprintf(`
mqtt:
  broker:
    host: "127.0.0.1"
    port: %d
  qos: 1
  session:
    timeout: 5s
    waiter_grace: 50ms
    reconnect_grace: 50ms
logging:
  level: error
  format: text
journal:
  path: %q
`, port, journalPath)

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func runCmd(ctx context.Context, args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	err := run(ctx, args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

// TestRun_InvalidConfig verifies run fails with an invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, _, err := runCmd(ctx, "--config", "/nonexistent/path/config.yaml", "journal", "list")
	if err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
	if !strings.Contains(err.Error(), "loading config") {
		t.Errorf("error = %v, want loading config failure", err)
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	if _, _, err := runCmd(context.Background(), "frobnicate"); err == nil {
		t.Fatal("run() should fail for an unknown command")
	}
}

func TestRun_PublishArgs(t *testing.T) {
	t.Setenv(configEnv, "")

	if _, _, err := runCmd(context.Background(), "publish", "only-topic"); err == nil {
		t.Error("publish with one argument should fail")
	}

	_, _, err := runCmd(context.Background(), "publish", "--qos", "3", "t", "m")
	if err == nil || !strings.Contains(err.Error(), "qos") {
		t.Errorf("publish --qos 3 error = %v, want qos error", err)
	}

	_, _, err = runCmd(context.Background(), "publish", "--count", "0", "t", "m")
	if err == nil || !strings.Contains(err.Error(), "count") {
		t.Errorf("publish --count 0 error = %v, want count error", err)
	}
}

func TestRun_ConnectFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("finding free port: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	configPath := writeConfig(t, port, filepath.Join(t.TempDir(), "journal.db"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _, err = runCmd(ctx, "--config", configPath, "publish", "t", "m")
	if err == nil || !strings.Contains(err.Error(), "connecting to 127.0.0.1") {
		t.Errorf("error = %v, want connection failure", err)
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv(configEnv, "")
	if got := getConfigPath(""); got != "" {
		t.Errorf("getConfigPath() = %q, want empty", got)
	}

	t.Setenv(configEnv, "/env/config.yaml")
	if got := getConfigPath(""); got != "/env/config.yaml" {
		t.Errorf("getConfigPath() = %q, want env path", got)
	}
	if got := getConfigPath("/flag/config.yaml"); got != "/flag/config.yaml" {
		t.Errorf("getConfigPath() = %q, want flag path", got)
	}
}

func TestSessionConfig(t *testing.T) {
	cfg := config.Default()
	cfg.MQTT.Broker.Host = "broker.local"
	cfg.MQTT.Broker.TLS = true
	cfg.MQTT.Broker.ClientID = "gw-1"
	cfg.MQTT.Broker.CACert = "/ca.pem"
	cfg.MQTT.Session.Timeout = 3 * time.Second
	cfg.MQTT.RateLimit.PublishesPerSecond = 5

	sc := sessionConfig(cfg)
	if sc.Address != "broker.local" || !sc.Secure || sc.CertificatePath != "/ca.pem" {
		t.Errorf("sessionConfig() broker fields = %+v", sc)
	}
	if sc.ClientID != "gw-1" {
		t.Errorf("ClientID = %q, want gw-1", sc.ClientID)
	}
	if sc.Timeout != 3*time.Second || sc.PublishRate != 5 {
		t.Errorf("Timeout = %v, PublishRate = %v", sc.Timeout, sc.PublishRate)
	}
	if sc.Breaker.FailureThreshold != cfg.MQTT.Reconnect.FailureThreshold {
		t.Errorf("Breaker = %+v", sc.Breaker)
	}

	cfg.MQTT.Broker.ClientID = ""
	if id := sessionConfig(cfg).ClientID; !strings.HasPrefix(id, "mqttsession-") {
		t.Errorf("generated ClientID = %q, want mqttsession- prefix", id)
	}
}

func TestPrinter_StopsAtLimit(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf, false, 2)

	for _, body := range []string{"a", "b", "c"} {
		if err := p.handle("t", body); err != nil {
			t.Fatalf("handle() error = %v", err)
		}
	}

	select {
	case <-p.done:
	default:
		t.Fatal("done not closed after limit")
	}
	if got := strings.Count(buf.String(), "\n"); got != 2 {
		t.Errorf("printed %d lines, want 2: %q", got, buf.String())
	}
}

// TestRun_PublishSubscribeJournal drives the three commands against a
// local broker.
func TestRun_PublishSubscribeJournal(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping broker test in short mode")
	}

	port := startBroker(t)
	configPath := writeConfig(t, port, filepath.Join(t.TempDir(), "journal.db"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	type result struct {
		stdout string
		err    error
	}
	subDone := make(chan result, 1)
	go func() {
		out, _, err := runCmd(ctx, "--config", configPath, "--json",
			"subscribe", "-n", "1", "-t", "20s", "--journal", "sensors/cli")
		subDone <- result{out, err}
	}()

	var sub result
publishLoop:
	for {
		if _, _, err := runCmd(ctx, "--config", configPath, "publish", "sensors/cli", "21.5"); err != nil {
			t.Fatalf("publish error = %v", err)
		}
		select {
		case sub = <-subDone:
			break publishLoop
		case <-time.After(200 * time.Millisecond):
		case <-ctx.Done():
			t.Fatal("subscriber did not receive a message")
		}
	}

	if sub.err != nil {
		t.Fatalf("subscribe error = %v", sub.err)
	}

	scanner := bufio.NewScanner(strings.NewReader(sub.stdout))
	if !scanner.Scan() {
		t.Fatalf("subscribe printed nothing")
	}
	var msg receivedMessage
	if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
		t.Fatalf("decoding %q: %v", scanner.Text(), err)
	}
	if msg.Topic != "sensors/cli" || msg.Body != "21.5" {
		t.Errorf("received %+v", msg)
	}

	out, _, err := runCmd(ctx, "--config", configPath, "--json", "journal", "list", "--topic", "sensors/cli")
	if err != nil {
		t.Fatalf("journal list error = %v", err)
	}
	var listed journal.ListResult
	if err := json.Unmarshal([]byte(out), &listed); err != nil {
		t.Fatalf("decoding journal output %q: %v", out, err)
	}
	if listed.Total < 1 || listed.Entries[0].Payload != "21.5" {
		t.Errorf("journal = %+v", listed)
	}
	if !strings.HasPrefix(listed.Entries[0].ClientID, "mqttsession-") {
		t.Errorf("journal ClientID = %q", listed.Entries[0].ClientID)
	}

	out, _, err = runCmd(ctx, "--config", configPath, "journal", "prune", "--older-than", "1ns")
	if err != nil {
		t.Fatalf("journal prune error = %v", err)
	}
	if !strings.Contains(out, "pruned") {
		t.Errorf("prune output = %q", out)
	}

	out, _, err = runCmd(ctx, "--config", configPath, "journal", "list")
	if err != nil {
		t.Fatalf("journal list error = %v", err)
	}
	if !strings.Contains(out, "no messages") {
		t.Errorf("journal list after prune = %q", out)
	}
}

func TestOpenSubscriber_ClosesSessionBeforeJournal(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping broker test in short mode")
	}

	port := startBroker(t)
	a := &app{configPath: writeConfig(t, port, filepath.Join(t.TempDir(), "journal.db"))}
	if err := a.load(io.Discard); err != nil {
		t.Fatalf("load() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sub, err := a.openSubscriber(ctx, func(string, string) error { return nil }, true)
	if err != nil {
		t.Fatalf("openSubscriber() error = %v", err)
	}
	if err := sub.handler("sensors/order", "1"); err != nil {
		t.Fatalf("journaled handler error = %v", err)
	}

	var order []string
	for i := range sub.closers {
		c := sub.closers[i]
		sub.closers[i].fn = func() {
			order = append(order, c.name)
			c.fn()
		}
	}
	s := sub.session
	sub.close()

	if got := strings.Join(order, ","); got != "session,journal" {
		t.Errorf("close order = %s, want session,journal", got)
	}
	if s.IsConnected() {
		t.Error("session still connected after close")
	}
}

func TestRun_JournalStatusMigrateRollback(t *testing.T) {
	t.Setenv(configEnv, "")
	configPath := writeConfig(t, 1883, filepath.Join(t.TempDir(), "journal.db"))
	ctx := context.Background()

	out, _, err := runCmd(ctx, "--config", configPath, "journal", "status")
	if err != nil {
		t.Fatalf("journal status error = %v", err)
	}
	if !strings.Contains(out, "applied  0 ") || !strings.Contains(out, "pending  1 ") {
		t.Errorf("status before migrate = %q", out)
	}

	out, _, err = runCmd(ctx, "--config", configPath, "journal", "migrate")
	if err != nil {
		t.Fatalf("journal migrate error = %v", err)
	}
	if !strings.Contains(out, "applied  1 ") || !strings.Contains(out, "pending  0 ") {
		t.Errorf("status after migrate = %q", out)
	}

	out, _, err = runCmd(ctx, "--config", configPath, "--json", "journal", "status")
	if err != nil {
		t.Fatalf("journal status --json error = %v", err)
	}
	var status journalStatus
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("decoding %q: %v", out, err)
	}
	if !status.Healthy || len(status.Applied) != 1 || len(status.Pending) != 0 {
		t.Errorf("status = %+v", status)
	}

	out, _, err = runCmd(ctx, "--config", configPath, "journal", "rollback")
	if err != nil {
		t.Fatalf("journal rollback error = %v", err)
	}
	if !strings.Contains(out, "applied  0 ") {
		t.Errorf("status after rollback = %q", out)
	}
}

func TestRun_Health(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping broker test in short mode")
	}

	port := startBroker(t)
	configPath := writeConfig(t, port, filepath.Join(t.TempDir(), "journal.db"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if _, _, err := runCmd(ctx, "--config", configPath, "journal", "migrate"); err != nil {
		t.Fatalf("journal migrate error = %v", err)
	}

	out, _, err := runCmd(ctx, "--config", configPath, "--json", "health", "--journal")
	if err != nil {
		t.Fatalf("health error = %v, output %q", err, out)
	}
	var report []componentHealth
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decoding %q: %v", out, err)
	}

	got := make(map[string]string, len(report))
	for _, c := range report {
		got[c.Component] = c.Status
	}
	want := map[string]string{"mqtt": healthOK, "influxdb": healthDisabled, "journal": healthOK}
	for component, status := range want {
		if got[component] != status {
			t.Errorf("%s status = %q, want %q (report %+v)", component, got[component], status, report)
		}
	}
}

func TestRun_HealthBrokerDown(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("finding free port: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	configPath := writeConfig(t, port, filepath.Join(t.TempDir(), "journal.db"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out, _, err := runCmd(ctx, "--config", configPath, "health")
	if err == nil || !strings.Contains(err.Error(), "unhealthy") {
		t.Errorf("health error = %v, want unhealthy", err)
	}
	if !strings.Contains(out, "mqtt") || !strings.Contains(out, healthFailed) {
		t.Errorf("health output = %q", out)
	}
}
