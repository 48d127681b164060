package main

import (
	"encoding/base64"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clipvault/clipvault/internal/crypto"
	"github.com/clipvault/clipvault/internal/ipc"
	"github.com/clipvault/clipvault/internal/message"
	"github.com/clipvault/clipvault/internal/wire"
)

const responseTimeout = 10 * time.Second

// addClientFlags adds the flags shared by every daemon-talking subcommand.
func addClientFlags(cmd *cobra.Command) {
	cmd.Flags().String("server", "", "TCP bridge address (used when no local daemon socket)")
	cmd.Flags().String("token", "", "shared secret for --server")
	addConfigFlag(cmd)
}

// dialBridge connects to the daemon: the local Unix socket when one is
// running, otherwise the --server TCP address with token auth.
func dialBridge(v *viper.Viper) (*wire.Conn, error) {
	if ipc.IsRunning() {
		conn, err := ipc.Dial()
		if err == nil {
			return wire.New(conn, nil), nil
		}
	}

	server := v.GetString("server")
	if server == "" {
		return nil, fmt.Errorf("no clipvault daemon on %s (is \"clipvault serve\" running?)", ipc.SocketPath())
	}
	token := v.GetString("token")
	if token == "" {
		return nil, fmt.Errorf("--server requires --token")
	}
	key, err := crypto.DeriveKey(token)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialTimeout("tcp", server, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", server, err)
	}
	wc := wire.New(conn, key)
	if err := wc.WriteMsg(&message.Message{
		Type:    message.TypeAuth,
		Payload: base64.StdEncoding.EncodeToString([]byte(token)),
	}); err != nil {
		wc.Close()
		return nil, fmt.Errorf("auth: %w", err)
	}
	return wc, nil
}

// roundTrip sends one command and waits for its response.
func roundTrip(v *viper.Viper, cmd *message.Message) (*message.Message, error) {
	wc, err := dialBridge(v)
	if err != nil {
		return nil, err
	}
	defer wc.Close()

	if err := wc.WriteMsg(cmd); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	wc.SetReadDeadline(responseTimeout)
	resp, err := wc.ReadMsg()
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.Err != nil {
		return resp, resp.Err
	}
	return resp, nil
}
