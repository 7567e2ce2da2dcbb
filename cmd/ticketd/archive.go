package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newArchiveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Inspect archived tickets",
	}

	var guildID string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List the most recently archived tickets",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			archived, err := rt.store.ListArchived(cmd.Context(), guildID, limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CHANNEL\tNAME\tTYPE\t#\tOWNER\tSTATUS\tARCHIVED")
			for _, a := range archived {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
					a.ChannelID, a.ChannelName, a.Type, a.SequenceNumber, a.UserID, a.Status,
					a.ArchivedAt.UTC().Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
	list.Flags().StringVarP(&guildID, "guild", "g", "", "Only list tickets of this guild")
	list.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of tickets")

	cmd.AddCommand(list)
	return cmd
}
