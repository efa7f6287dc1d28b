package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gosuda/relay-chat/simple-chat/history"
	"github.com/gosuda/relay-chat/simple-chat/session"
	"github.com/gosuda/relay-chat/simple-chat/transport"
)

var rootCmd = &cobra.Command{
	Use:   "simple-chat",
	Short: "Relay chat client (web or terminal view, local history)",
	RunE:  runChat,
}

var (
	flagConfig string
	flags      Config
)

func init() {
	d := defaultConfig()
	f := rootCmd.PersistentFlags()
	f.StringVar(&flagConfig, "config", "", "optional YAML config file")
	f.StringVar(&flags.ServerURL, "server-url", d.ServerURL, "relay websocket endpoint (env CHAT_SERVER_URL)")
	f.StringVar(&flags.Name, "name", d.Name, "identity shown on your messages (env CHAT_NAME)")
	f.StringVar(&flags.DataPath, "data-path", d.DataPath, "directory of the PebbleDB chat history; empty keeps history in memory only")
	f.StringVar(&flags.UI, "ui", d.UI, "view to run: web or terminal")
	f.IntVar(&flags.Port, "port", d.Port, "local HTTP port for the web view (negative to disable)")
	f.StringVar(&flags.Echo, "echo", d.Echo, "relay echo contract: none or echo")
	f.IntVar(&flags.HistoryLimit, "history-limit", 0, "keep only the newest N messages (0 keeps all)")
	f.StringVar(&flags.LogLevel, "log-level", d.LogLevel, "trace, debug, info, warn or error")
	f.StringVar(&flags.LogFile, "log-file", "", "write logs to this file (the terminal view discards them otherwise)")
	f.StringSliceVar(&flags.Portal.Relays, "portal-url", nil, "portal relay URL(s) to publish the web view on; repeat or comma-separated (env RELAY)")
	f.StringVar(&flags.Portal.Name, "portal-name", d.Portal.Name, "lease name on the portal relay")
	f.StringVar(&flags.Portal.CredKey, "cred-key", "", "optional credential key to use for the listener (base64 encoded)")
	f.StringVar(&flags.Portal.Description, "portal-description", d.Portal.Description, "lease description")
	f.StringVar(&flags.Portal.Owner, "portal-owner", d.Portal.Owner, "lease owner")
	f.StringSliceVar(&flags.Portal.Tags, "portal-tags", d.Portal.Tags, "comma-separated lease tags")
	f.BoolVar(&flags.Portal.Hide, "portal-hide", false, "hide this lease from portal listings")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute chat command")
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(flagConfig, flags, cmd.Flags().Changed)
	if err != nil {
		return err
	}
	closeLog, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	// Cancellation context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("[chat] store close error")
		}
	}()

	echo, err := session.ParseEchoMode(cfg.Echo)
	if err != nil {
		return err
	}

	tr := transport.New(cfg.ServerURL, transport.WithLogger(log.With().Str("component", "transport").Logger()))
	defer tr.Close()

	sess := session.New(cfg.Name, store, tr,
		session.WithLogger(log.With().Str("component", "session").Logger()),
		session.WithEcho(echo),
	)
	sess.Start()
	defer sess.Close()

	if err := tr.Connect(ctx); err != nil {
		return fmt.Errorf("connect relay: %w", err)
	}
	log.Info().Msgf("[chat] %s joining %s (echo=%s)", cfg.Name, cfg.ServerURL, echo)

	switch cfg.UI {
	case "terminal":
		err = runTerminal(ctx, sess)
	default:
		err = runWeb(ctx, cfg, sess)
	}
	log.Info().Msg("[chat] shutdown complete")
	return err
}

// openStore opens the Pebble history under cfg.DataPath, or in memory when it
// is empty, and loads it. A corrupt stored value is logged and replaced by an
// empty history on the next write.
func openStore(cfg Config) (*history.Store, error) {
	opts := []history.Option{history.WithLimit(cfg.HistoryLimit)}
	var store *history.Store
	var err error
	if cfg.DataPath != "" {
		store, err = history.Open(cfg.DataPath, opts...)
	} else {
		store, err = history.OpenInMemory(opts...)
	}
	if err != nil {
		return nil, err
	}

	msgs, err := store.Load()
	switch {
	case errors.Is(err, history.ErrCorrupt):
		log.Warn().Err(err).Msg("[chat] stored history unreadable; starting empty")
	case err != nil:
		_ = store.Close()
		return nil, fmt.Errorf("load history: %w", err)
	case len(msgs) > 0:
		log.Info().Msgf("[chat] loaded %d messages from store", len(msgs))
	}
	return store, nil
}

// setupLogging configures the global zerolog logger. The terminal view owns
// the screen, so its logs go to --log-file or nowhere.
func setupLogging(cfg Config) (func(), error) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	closer := func() {}
	switch {
	case cfg.LogFile != "":
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
		closer = func() { _ = f.Close() }
	case cfg.UI == "terminal":
		out = io.Discard
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return closer, nil
}

// runWeb serves the web view locally and, when configured, through portal
// relays until ctx ends.
func runWeb(ctx context.Context, cfg Config, sess *session.Session) error {
	h := newHub()
	off := sess.OnChange(h.notify)
	defer off()
	handler := NewHandler(fmt.Sprintf("Simple Chat: %s", cfg.Name), sess, h)

	unpublish := func() {}
	if len(cfg.Portal.Relays) > 0 {
		stop, err := publish(ctx, cfg.Portal, handler)
		if err != nil {
			return err
		}
		unpublish = stop
	}

	// Optional local server on --port
	var httpSrv *http.Server
	if cfg.Port >= 0 {
		httpSrv = &http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: handler, ReadHeaderTimeout: 5 * time.Second, IdleTimeout: 60 * time.Second}
		log.Info().Msgf("[chat] serving locally at http://127.0.0.1:%d", cfg.Port)
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Warn().Err(err).Msg("[chat] local http stopped")
			}
		}()
	}

	<-ctx.Done()
	unpublish()
	if httpSrv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(sctx); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("[chat] http server shutdown error")
		}
	}
	h.closeAll()
	h.wait()
	return nil
}
