package main

import (
	"io"

	"github.com/spf13/cobra"
)

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "mqttsession",
		Short: "Publish and subscribe through an acknowledged MQTT session",
		Long: `mqttsession connects to an MQTT broker through a managed session that
reconnects on demand, waits for broker acknowledgements and restores
subscriptions after a reconnect.

Configuration is read from --config, then $MQTTSESSION_CONFIG, and can be
overridden with MQTTSESSION_* environment variables.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd.ErrOrStderr())
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to the YAML config file")
	root.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "Print results as JSON")

	root.AddCommand(
		newPublishCmd(a),
		newSubscribeCmd(a),
		newJournalCmd(a),
		newHealthCmd(a),
	)
	return root
}
