package main

import (
	"encoding/json"
	"fmt"
	"time"

	"econbot/internal/app"
	"econbot/internal/calendar"
	"econbot/internal/config"
	"econbot/internal/eventbus"
	"econbot/internal/tracker"
	"econbot/pkg/logx"

	"github.com/spf13/cobra"
)

var (
	calendarNext bool
	calendarJSON bool
	calendarDate string
)

var calendarCmd = &cobra.Command{
	Use:   "calendar",
	Short: "Print the week's events from the store",
	Long: `Print the events stored for the week (Monday to Monday in the tracker
timezone). Nothing is fetched; run "econbot poll" or the bot to fill the store.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.NewManager(cfgPath).Parse()
		if err != nil {
			return err
		}
		log := logx.NewConsole("warn")
		st, _, err := app.OpenStore(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer st.Close()

		tcfg := tracker.FromConfig(*cfg)
		at := time.Now()
		if calendarDate != "" {
			at, err = time.ParseInLocation("2006-01-02", calendarDate, tcfg.Location)
			if err != nil {
				return fmt.Errorf("--date: %w", err)
			}
		}
		if calendarNext {
			at = at.AddDate(0, 0, 7)
		}

		tr := tracker.New(tcfg, nil, st, nil, eventbus.Nop{}, log)
		evs, weekStart, err := tr.Week(cmd.Context(), at)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if calendarJSON {
			if evs == nil {
				evs = []calendar.Event{}
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(evs)
		}
		_, err = fmt.Fprintln(out, calendar.FormatWeek(evs, weekStart, tcfg.Location))
		return err
	},
}

func init() {
	calendarCmd.Flags().BoolVar(&calendarNext, "next", false, "show the following week")
	calendarCmd.Flags().BoolVar(&calendarJSON, "json", false, "print events as JSON")
	calendarCmd.Flags().StringVar(&calendarDate, "date", "", "any day of the week to show (YYYY-MM-DD)")
}
