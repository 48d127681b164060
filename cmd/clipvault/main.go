// clipvault: clipboard history daemon for X11 and Wayland.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/clipvault/clipvault/internal/logging"
)

// Version is set at build time via -ldflags "-X main.Version=x.y.z".
var Version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "clipvault",
		Short: "Clipboard history manager for X11 and Wayland",
		Long: `clipvault watches the system clipboard and keeps a bounded, deduplicated
history of text, rich text and images. Any prior item can be pasted back
into the focused application; on Wayland the paste keystroke is synthesized
through /dev/uinput, on X11 through xdotool.

Run "clipvault serve" as the background daemon. The other subcommands talk
to it over a local Unix socket; a UI shell connects to the same bridge over
the socket or the optional WebSocket listener.

Config file search order (first found wins):
  /etc/clipvault/clipvault.toml
  $HOME/.config/clipvault/clipvault.toml
  path supplied via --config

All flags can be set via CLIPVAULT_<FLAG> env vars or config-file keys.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		newServeCmd(),
		newHistoryCmd(),
		newPasteCmd(),
		newPinCmd(),
		newDeleteCmd(),
		newClearCmd(),
		newStatusCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("clipvault %s\n", Version)
		},
	}
}

// resolveLogging sets up the global slog logger after flags are parsed.
func resolveLogging(interactive bool, formatStr, levelStr string) {
	format := logging.ParseFormat(formatStr)
	level := logging.ParseLevel(levelStr)
	if levelStr == "" {
		if interactive {
			level = logging.ParseLevel("debug")
		} else {
			level = logging.ParseLevel("info")
		}
	}
	logging.Setup(format, level)
}
