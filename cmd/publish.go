package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson"
)

var publishFlags struct {
	clientFlags
	create bool
}

var publishCmd = &cobra.Command{
	Use:   "publish <channel> <event>...",
	Short: "Publish events given as extended JSON documents",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		channel := args[0]
		events := make([]bson.Raw, 0, len(args)-1)
		for _, arg := range args[1:] {
			doc, err := parseDocument(arg)
			if err != nil {
				return err
			}
			events = append(events, doc)
		}

		ctx := cmd.Context()
		c, err := publishFlags.connect(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		if publishFlags.create {
			if _, err := c.CreateChannel(ctx, channel); err != nil {
				return fmt.Errorf("create channel: %w", err)
			}
		}
		for _, ev := range events {
			pos, err := c.Publish(ctx, channel, ev)
			if err != nil {
				return fmt.Errorf("publish: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d\n", channel, pos)
		}
		return nil
	},
}

func init() {
	publishFlags.register(publishCmd)
	publishCmd.Flags().BoolVar(&publishFlags.create, "create", false, "create the channel first if it does not exist")
	rootCmd.AddCommand(publishCmd)
}
