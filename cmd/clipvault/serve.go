package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clipvault/clipvault/internal/adapter"
	"github.com/clipvault/clipvault/internal/bridge"
	"github.com/clipvault/clipvault/internal/capture"
	"github.com/clipvault/clipvault/internal/content"
	"github.com/clipvault/clipvault/internal/crypto"
	"github.com/clipvault/clipvault/internal/emoji"
	"github.com/clipvault/clipvault/internal/ipc"
	"github.com/clipvault/clipvault/internal/message"
	"github.com/clipvault/clipvault/internal/paste"
	"github.com/clipvault/clipvault/internal/storage"
	"github.com/clipvault/clipvault/internal/store"
)

func newServeCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the clipboard history daemon",
		Long: `Starts the clipvault daemon: clipboard capture, history store, paste
engine and the command/event bridge.

The bridge always listens on the local Unix socket. --listen adds a TCP
listener and --ws-listen a WebSocket listener for UI shells; both require
--token, which also enables message encryption on those transports.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runServe(v) },
	}

	f := cmd.Flags()
	f.String("data-dir", defaultDataDir(), "directory for history, emoji usage and pasted-image files")
	f.String("storage", storage.BackendSQLite, "history persistence: sqlite|json|none")
	f.Int("max-items", store.DefaultMaxItems, "unpinned history capacity")
	f.Int("dedup-window", store.DefaultDedupWindow, "recent unpinned items checked for duplicate content")
	f.Duration("settle", capture.DefaultSettle, "debounce quiet period before a clipboard change is captured")
	f.Duration("poll", 250*time.Millisecond, "clipboard poll interval")
	f.Int("max-image-bytes", 8<<20, "largest decoded image capture kept, in bytes (0 = unlimited)")
	f.String("listen", "", "optional TCP bridge listen address (requires --token)")
	f.String("ws-listen", "", "optional WebSocket bridge listen address (requires --token)")
	f.String("token", "", "shared secret for network bridge transports")
	f.Bool("notify", true, "desktop notification when capture degrades")
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runServe(v *viper.Viper) error {
	setupLogging(v)

	dataDir := v.GetString("data-dir")
	token := v.GetString("token")
	tcpAddr := v.GetString("listen")
	wsAddr := v.GetString("ws-listen")
	if (tcpAddr != "" || wsAddr != "") && token == "" {
		return fmt.Errorf("--listen/--ws-listen require --token")
	}

	slog.Info("clipvault starting",
		"version", Version,
		"data_dir", dataDir,
		"storage", v.GetString("storage"),
		"max_items", v.GetInt("max-items"),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st := store.New(store.Options{
		MaxItems:    v.GetInt("max-items"),
		DedupWindow: v.GetInt("dedup-window"),
	})

	// Persistence: load before anything can mutate, then snapshot on change.
	drv, err := storage.New(v.GetString("storage"), storagePath(v.GetString("storage"), dataDir))
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	var persist *storage.Persister
	if drv != nil {
		defer drv.Close()
		items, err := drv.Load()
		if err != nil {
			slog.Warn("history load failed, starting empty", "err", err)
		} else if len(items) > 0 {
			st.Load(items)
			slog.Info("history restored", "items", len(items))
		}
		persist = storage.NewPersister(drv, st)
		go persist.Run(ctx)
	}

	ad := adapter.New(adapter.Options{PollInterval: v.GetDuration("poll")})
	defer ad.Close()

	pastedDir := filepath.Join(dataDir, "pasted")
	norm := content.Normalizer{MaxImageBytes: v.GetInt("max-image-bytes")}
	loop := capture.New(ad, st, norm, capture.Options{
		Settle:   v.GetDuration("settle"),
		Notify:   v.GetBool("notify"),
		CacheDir: pastedDir,
	})
	go loop.Run(ctx)

	engine := paste.New(ad, st, pastedDir)

	srv := &bridge.Server{
		St:    st,
		Paste: engine,
		Emoji: emoji.New(dataDir),
		Token: token,
		Info: func() message.Status {
			items := st.List()
			pinned := 0
			for _, it := range items {
				if it.Pinned {
					pinned++
				}
			}
			return message.Status{
				Version:  Version,
				Backend:  ad.Name(),
				Items:    len(items),
				Pinned:   pinned,
				Degraded: loop.Degraded(),
			}
		},
	}
	if persist != nil {
		srv.Save = persist
	}
	if fk, ok := ad.(adapter.FocusKeeper); ok {
		srv.Focus = fk
	}

	// Bridge transports.
	ipcLn, err := ipc.Listen()
	if err != nil {
		return fmt.Errorf("ipc listen: %w", err)
	}
	defer ipcLn.Close()
	slog.Info("bridge socket listening", "path", ipc.SocketPath())
	go srv.Serve(ipcLn, nil, false)

	if tcpAddr != "" {
		key, err := crypto.DeriveKey(token)
		if err != nil {
			return fmt.Errorf("key derivation: %w", err)
		}
		ln, err := net.Listen("tcp", tcpAddr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", tcpAddr, err)
		}
		defer ln.Close()
		slog.Info("bridge TCP listening", "addr", ln.Addr())
		go srv.Serve(ln, key, true)
	}

	if wsAddr != "" {
		key, err := crypto.DeriveKey(token)
		if err != nil {
			return fmt.Errorf("key derivation: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/bridge", srv.WSHandler(key))
		httpSrv := &http.Server{Addr: wsAddr, Handler: mux}
		go func() {
			slog.Info("bridge WebSocket listening", "addr", wsAddr)
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("websocket listener failed", "err", err)
			}
		}()
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutCtx)
		}()
	}

	<-ctx.Done()
	slog.Info("shutting down")
	return nil
}

func storagePath(backend, dataDir string) string {
	switch backend {
	case storage.BackendJSON:
		return filepath.Join(dataDir, "history.json")
	default:
		return filepath.Join(dataDir, "history.db")
	}
}
