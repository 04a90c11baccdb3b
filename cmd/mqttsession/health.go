package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-session/migrations"
)

// componentHealth is one line of the health report.
type componentHealth struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
}

// Health statuses.
const (
	healthOK       = "ok"
	healthFailed   = "failed"
	healthDisabled = "disabled"
)

func newHealthCmd(a *app) *cobra.Command {
	var useJournal bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check the broker, telemetry and journal",
		Long: `Connect to the broker and report the health of every configured
component: the MQTT session, InfluxDB telemetry and the SQLite journal.

Exits non-zero when any enabled component is unhealthy.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report := a.checkHealth(cmd.Context(), useJournal || a.cfg.Journal.Enabled)

			if err := printHealth(cmd, a.jsonOutput, report); err != nil {
				return err
			}
			failed := 0
			for _, c := range report {
				if c.Status == healthFailed {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d component(s) unhealthy", failed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&useJournal, "journal", false, "Check the journal even when journal.enabled is off")
	return cmd
}

// checkHealth runs every component check. It never returns early so the
// report is complete.
func (a *app) checkHealth(ctx context.Context, checkJournal bool) []componentHealth {
	report := make([]componentHealth, 0, 3)

	conn, err := a.connect(ctx)
	switch {
	case err != nil:
		report = append(report, componentHealth{Component: "mqtt", Status: healthFailed, Detail: err.Error()})
	default:
		defer conn.close()
		report = append(report, check("mqtt", conn.session.Config().ClientID, conn.session.HealthCheck(ctx)))
	}

	switch {
	case !a.cfg.InfluxDB.Enabled:
		report = append(report, componentHealth{Component: "influxdb", Status: healthDisabled})
	case conn == nil:
		report = append(report, componentHealth{Component: "influxdb", Status: healthFailed, Detail: "not checked, mqtt connect failed"})
	case conn.influx == nil:
		report = append(report, componentHealth{Component: "influxdb", Status: healthFailed, Detail: "unavailable"})
	default:
		report = append(report, check("influxdb", a.cfg.InfluxDB.URL, conn.influx.HealthCheck(ctx)))
	}

	if !checkJournal {
		return append(report, componentHealth{Component: "journal", Status: healthDisabled})
	}
	db, closeJournal, err := a.openJournal(ctx, false)
	if err != nil {
		return append(report, componentHealth{Component: "journal", Status: healthFailed, Detail: err.Error()})
	}
	defer closeJournal()

	if err := db.HealthCheck(ctx); err != nil {
		return append(report, check("journal", db.Path(), err))
	}
	status, err := db.Status(ctx, migrations.FS)
	if err == nil && len(status.Pending) > 0 {
		err = fmt.Errorf("%d pending migration(s), run journal migrate", len(status.Pending))
	}
	return append(report, check("journal", db.Path(), err))
}

func check(component, detail string, err error) componentHealth {
	if err != nil {
		return componentHealth{Component: component, Status: healthFailed, Detail: err.Error()}
	}
	return componentHealth{Component: component, Status: healthOK, Detail: detail}
}

func printHealth(cmd *cobra.Command, asJSON bool, report []componentHealth) error {
	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, c := range report {
		status := c.Status
		switch c.Status {
		case healthOK:
			status = color.GreenString(status)
		case healthFailed:
			status = color.RedString(status)
		default:
			status = color.HiBlackString(status)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.Component, status, c.Detail)
	}
	return w.Flush()
}
