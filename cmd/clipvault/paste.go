package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clipvault/clipvault/internal/message"
)

func newPasteCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "paste [id]",
		Short: "Paste a history item (or arbitrary text) into the focused window",
		Long: `Writes the chosen content to the system clipboard and synthesizes the
paste keystroke into whatever window holds focus.

  clipvault paste 3f2a...        paste a history item by id
  clipvault paste --text "hi"    paste literal text
  clipvault paste --emoji 🎉     paste an emoji and record its usage`,
		Args:    cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, args []string) error { return runPaste(v, args) },
	}

	cmd.Flags().String("text", "", "paste this literal text instead of a history item")
	cmd.Flags().String("emoji", "", "paste this emoji character and track its usage")
	addClientFlags(cmd)
	return cmd
}

func runPaste(v *viper.Viper, args []string) error {
	text := v.GetString("text")
	emojiChar := v.GetString("emoji")

	var msg *message.Message
	switch {
	case emojiChar != "":
		msg = message.Command("cli", message.CmdPasteEmoji)
		msg.Char = emojiChar
	case text != "":
		msg = message.Command("cli", message.CmdPasteText)
		msg.Text = text
	case len(args) == 1:
		msg = message.Command("cli", message.CmdPasteItem)
		msg.ItemID = args[0]
	default:
		return fmt.Errorf("need an item id, --text or --emoji")
	}

	_, err := roundTrip(v, msg)
	return err
}

func newStatusCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:     "status",
		Short:   "Show daemon status",
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE: func(_ *cobra.Command, _ []string) error {
			resp, err := roundTrip(v, message.Command("cli", message.CmdStatus))
			if err != nil {
				return err
			}
			if resp.Status == nil {
				fmt.Println("running")
				return nil
			}
			s := resp.Status
			fmt.Printf("clipvault %s\nbackend:  %s\nitems:    %d (%d pinned)\n", s.Version, s.Backend, s.Items, s.Pinned)
			if s.Degraded {
				fmt.Println("capture:  degraded")
			}
			return nil
		},
	}
	addClientFlags(cmd)
	return cmd
}
