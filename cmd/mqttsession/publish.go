package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newPublishCmd(a *app) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "publish <topic> <message>",
		Short: "Publish a message and wait for the broker acknowledgement",
		Long: `Publish a message to a topic. The command returns once the broker has
acknowledged the publish or the session timeout expires.

A message starting with @ is read from the named file.`,
		Example: `  mqttsession publish sensors/temperature 25.5
  mqttsession publish --qos 2 --count 10 sensors/load @payload.json`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic, body := args[0], args[1]
			if rest, ok := strings.CutPrefix(body, "@"); ok {
				data, err := os.ReadFile(rest)
				if err != nil {
					return fmt.Errorf("reading message file: %w", err)
				}
				body = string(data)
			}

			qos, err := a.qosFlag(cmd)
			if err != nil {
				return err
			}
			if count < 1 {
				return fmt.Errorf("count must be at least 1")
			}

			conn, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer conn.close()
			s := conn.session

			out := cmd.OutOrStdout()
			enc := json.NewEncoder(out)
			for i := 0; i < count; i++ {
				msg, err := s.Publish(cmd.Context(), topic, body, qos)
				if err != nil {
					return fmt.Errorf("publishing to %s: %w", topic, err)
				}
				if a.jsonOutput {
					if err := enc.Encode(msg); err != nil {
						return err
					}
					continue
				}
				fmt.Fprintf(out, "%s %s %s\n", color.GreenString("published"), color.CyanString(msg.Topic), msg.Body)
			}
			return nil
		},
	}

	cmd.Flags().Int("qos", 0, "QoS level 0, 1 or 2 (default from config)")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of times to publish the message")
	return cmd
}
