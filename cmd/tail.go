package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/kychandar/evwire/client"
	"github.com/spf13/cobra"
)

var errLimitReached = errors.New("limit reached")

var tailFlags struct {
	clientFlags
	from    int64
	since   time.Duration
	durable string
	matcher string
	limit   int
}

var tailCmd = &cobra.Command{
	Use:   "tail <channel>",
	Short: "Print the events of a channel as they arrive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := client.SubscribeOptions{
			Channel:   args[0],
			DurableID: tailFlags.durable,
			Matcher:   tailFlags.matcher,
		}
		switch {
		case tailFlags.from > 0 && tailFlags.since > 0:
			return errors.New("--from and --since are exclusive")
		case tailFlags.limit > 0 && tailFlags.durable != "":
			// the event that reaches the limit is never acknowledged
			return errors.New("--limit and --durable are exclusive")
		case tailFlags.from > 0:
			opts.StartPos = &tailFlags.from
		case tailFlags.since > 0:
			start := time.Now().Add(-tailFlags.since)
			opts.StartTime = &start
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		c, err := tailFlags.connect(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		out := cmd.OutOrStdout()
		var printed atomic.Int64
		sub, err := c.Subscribe(ctx, opts, func(d client.Delivery) error {
			if tailFlags.limit > 0 && printed.Load() >= int64(tailFlags.limit) {
				return errLimitReached
			}
			fmt.Fprintf(out, "%d %s %s\n", d.Pos, d.Timestamp.UTC().Format(time.RFC3339Nano), d.Event.String())
			if tailFlags.limit > 0 && printed.Add(1) == int64(tailFlags.limit) {
				return errLimitReached
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}

		select {
		case <-ctx.Done():
			return sub.Close()
		case <-c.Done():
			return errors.New("connection closed")
		case <-sub.Done():
			if err := sub.Err(); err != nil && !errors.Is(err, errLimitReached) {
				return err
			}
			return nil
		}
	},
}

func init() {
	tailFlags.register(tailCmd)
	tailCmd.Flags().Int64Var(&tailFlags.from, "from", 0, "first position to deliver (1 is the oldest event)")
	tailCmd.Flags().DurationVar(&tailFlags.since, "since", 0, "deliver events stored within this duration")
	tailCmd.Flags().StringVar(&tailFlags.durable, "durable", "", "durable subscription id")
	tailCmd.Flags().StringVar(&tailFlags.matcher, "matcher", "", "event filter expression")
	tailCmd.Flags().IntVar(&tailFlags.limit, "limit", 0, "exit after this many events")
	rootCmd.AddCommand(tailCmd)
}
