package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clipvault/clipvault/internal/message"
)

func newHistoryCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List the clipboard history",
		Long: `Prints the history, pinned items first, newest unpinned first.

Each line shows the item id, a pin marker, the capture time and a preview.
Use --json for the full item payloads.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runHistory(v) },
	}

	cmd.Flags().Bool("json", false, "print full items as JSON")
	addClientFlags(cmd)
	return cmd
}

func runHistory(v *viper.Viper) error {
	resp, err := roundTrip(v, message.Command("cli", message.CmdGetHistory))
	if err != nil {
		return err
	}

	if v.GetBool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp.Items)
	}

	for _, it := range resp.Items {
		pin := " "
		if it.Pinned {
			pin = "*"
		}
		preview := strings.ReplaceAll(it.Preview, "\n", "␤")
		fmt.Printf("%s %s %s  %s\n", it.ID, pin, it.CreatedAt.Local().Format("01-02 15:04:05"), preview)
	}
	return nil
}

func newPinCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:     "pin <id>",
		Short:   "Toggle the pin state of a history item",
		Args:    cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(_ *cobra.Command, args []string) error {
			msg := message.Command("cli", message.CmdTogglePin)
			msg.ItemID = args[0]
			resp, err := roundTrip(v, msg)
			if err != nil {
				return err
			}
			state := "unpinned"
			if resp.Item != nil && resp.Item.Pinned {
				state = "pinned"
			}
			fmt.Printf("%s %s\n", args[0], state)
			return nil
		},
	}
	addClientFlags(cmd)
	return cmd
}

func newDeleteCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:     "delete <id>",
		Short:   "Delete a history item",
		Args:    cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(_ *cobra.Command, args []string) error {
			msg := message.Command("cli", message.CmdDeleteItem)
			msg.ItemID = args[0]
			_, err := roundTrip(v, msg)
			return err
		},
	}
	addClientFlags(cmd)
	return cmd
}

func newClearCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:     "clear",
		Short:   "Remove all unpinned history items",
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(_ *cobra.Command, _ []string) error {
			resp, err := roundTrip(v, message.Command("cli", message.CmdClearHistory))
			if err != nil {
				return err
			}
			fmt.Printf("removed %d items\n", resp.Removed)
			return nil
		},
	}
	addClientFlags(cmd)
	return cmd
}
