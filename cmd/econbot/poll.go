package main

import (
	"context"
	"fmt"
	"io"

	"econbot/internal/app"
	"econbot/internal/storage"
	kit "econbot/internal/transport"

	"github.com/spf13/cobra"
)

var pollDryRun bool

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run one fetch cycle and exit",
	Long: `Fetch every enabled source once, merge into the store and post whatever is
due. With --dry-run messages are printed instead of sent and an in-memory
store is used, so the real store is left untouched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var opts []app.Option
		if pollDryRun {
			opts = append(opts,
				app.WithAdapter(printAdapter{w: cmd.OutOrStdout()}),
				app.WithStore(storage.NewMemory()),
			)
		}
		a, err := app.New(cmd.Context(), cfgPath, opts...)
		if err != nil {
			return err
		}
		defer a.Stop(context.Background(), app.StopAppStop)

		rep, err := a.RunCycle(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), rep.Summary())
		for src, msg := range rep.SourceErrors {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", src, msg)
		}
		return nil
	},
}

func init() {
	pollCmd.Flags().BoolVar(&pollDryRun, "dry-run", false, "print messages instead of sending them")
}

// printAdapter writes outgoing messages to w.
type printAdapter struct{ w io.Writer }

func (printAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (printAdapter) Stop(context.Context) error                     { return nil }

func (p printAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	fmt.Fprintf(p.w, "[%d] %s\n", to.ChatID, text)
	return kit.MessageRef{ChatID: to.ChatID}, nil
}
