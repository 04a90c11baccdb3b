package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// printer writes received messages. Handlers may run concurrently with
// the command's own output.
type printer struct {
	mu     sync.Mutex
	out    io.Writer
	asJSON bool

	limit    int
	received int
	done     chan struct{}
}

type receivedMessage struct {
	Topic string    `json:"topic"`
	Body  string    `json:"body"`
	At    time.Time `json:"received_at"`
}

func newPrinter(out io.Writer, asJSON bool, limit int) *printer {
	return &printer{out: out, asJSON: asJSON, limit: limit, done: make(chan struct{})}
}

func (p *printer) handle(topic, body string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.limit > 0 && p.received >= p.limit {
		return nil
	}
	p.received++

	var err error
	if p.asJSON {
		err = json.NewEncoder(p.out).Encode(receivedMessage{Topic: topic, Body: body, At: time.Now().UTC()})
	} else {
		_, err = fmt.Fprintf(p.out, "%s %s\n", color.CyanString(topic), body)
	}

	if p.limit > 0 && p.received == p.limit {
		close(p.done)
	}
	return err
}

func newSubscribeCmd(a *app) *cobra.Command {
	var (
		count      int
		timeout    time.Duration
		useJournal bool
	)

	cmd := &cobra.Command{
		Use:   "subscribe <topic> [topic...]",
		Short: "Subscribe to topics and print received messages",
		Long: `Subscribe to one or more exact topics and print every message received.
Subscriptions are restored automatically after a reconnect.

With --journal (or journal.enabled in the config) each message is also
stored in the SQLite journal.`,
		Example: `  mqttsession subscribe sensors/temperature
  mqttsession subscribe -n 10 --timeout 1m --journal sensors/a sensors/b`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, topics []string) error {
			qos, err := a.qosFlag(cmd)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			p := newPrinter(cmd.OutOrStdout(), a.jsonOutput, count)

			sub, err := a.openSubscriber(ctx, p.handle, useJournal)
			if err != nil {
				return err
			}
			defer sub.close()

			for _, topic := range topics {
				if err := sub.session.Subscribe(ctx, topic, sub.handler, qos); err != nil {
					return fmt.Errorf("subscribing to %s: %w", topic, err)
				}
				a.log.Info("subscribed", "topic", topic, "qos", int(qos))
			}
			if !a.jsonOutput {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %d topic(s), waiting for messages\n", color.GreenString("subscribed"), len(topics))
			}

			var expired <-chan time.Time
			if timeout > 0 {
				timer := time.NewTimer(timeout)
				defer timer.Stop()
				expired = timer.C
			}

			select {
			case <-ctx.Done():
			case <-p.done:
			case <-expired:
				a.log.Info("subscribe timeout reached", "timeout", timeout)
			}
			return nil
		},
	}

	cmd.Flags().Int("qos", 0, "QoS level 0, 1 or 2 (default from config)")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "Exit after this many messages (0 = unlimited)")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "Exit after this long (0 = no timeout)")
	cmd.Flags().BoolVar(&useJournal, "journal", false, "Record received messages in the journal")
	return cmd
}
