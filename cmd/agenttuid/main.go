// Command agenttuid is the session daemon: it listens on a local socket,
// accepts JSON-RPC requests, and manages a pool of PTY-backed child
// sessions on behalf of short-lived CLI clients.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"agenttuid/internal/apperr"
	"agenttuid/internal/config"
	"agenttuid/internal/daemonlife"
	"agenttuid/internal/metrics"
	"agenttuid/internal/rpc"
	"agenttuid/internal/sessionmgr"
	"agenttuid/internal/socketpath"
	"agenttuid/internal/store"
	"agenttuid/internal/transport"
	"agenttuid/internal/usecase"
	"agenttuid/internal/version"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

// Exit codes, stable per category per the daemon lifecycle contract.
const (
	exitOK = iota
	exitSocketBind
	exitAlreadyRunning
	exitLockFailed
	exitSignalSetup
	exitThreadPool
	exitInternal
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		maxSessions int
		workers     int
		dbPath      string
		logPath     string
		socketPath  string
	)

	exitCode := exitOK
	root := &cobra.Command{
		Use:   "agenttuid",
		Short: "Session daemon for PTY-attached TUI children",
		RunE: func(cmd *cobra.Command, args []string) error {
			applyConfigDefaults(&maxSessions, &workers, &dbPath, &logPath, &socketPath)
			if socketPath != "" {
				os.Setenv(socketpath.EnvOverride, socketPath)
			}
			if logPath != "" {
				os.Setenv("AGENT_TUI_LOG", logPath)
			}
			code, err := runDaemonCode(maxSessions, workers, dbPath)
			exitCode = code
			return err
		},
	}
	root.Flags().IntVar(&maxSessions, "max-sessions", 0, "maximum concurrent PTY sessions (default 32, or config's max_sessions)")
	root.Flags().IntVar(&workers, "workers", 0, "size of the connection worker pool (default NumCPU, or config's workers)")
	root.Flags().StringVar(&dbPath, "db", "", "optional sqlite path for the session metadata mirror (disabled if empty)")
	root.Flags().StringVar(&logPath, "log", "", "optional path to send structured logs to instead of stderr")
	root.Flags().StringVar(&socketPath, "socket", "", "override the daemon's listening socket path")

	root.AddCommand(newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if exitCode == exitOK {
			exitCode = exitInternal
		}
		return exitCode
	}
	return exitCode
}

// applyConfigDefaults fills in any flag left at its zero value from
// ~/.agent-tui/config.yaml, then falls back to the daemon's own hardcoded
// defaults for whatever the config file also left unset.
func applyConfigDefaults(maxSessions, workers *int, dbPath, logPath, socketPath *string) {
	cfg, err := config.Load()
	if err != nil {
		cfg = &config.Config{}
	}
	cfg.ApplyDefaults(maxSessions, workers, dbPath, logPath, socketPath)
	if *maxSessions == 0 {
		*maxSessions = 32
	}
	if *workers == 0 {
		*workers = runtime.NumCPU()
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the daemon version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version.DisplayVersion())
			return nil
		},
	}
}

func runDaemonCode(maxSessions, workers int, dbPath string) (int, error) {
	log := newLogger()

	life := daemonlife.New(log)
	if err := life.Start(); err != nil {
		return exitCodeFor(err), err
	}
	defer life.Close(5 * time.Second)

	log.Info("daemon started", "socket", life.SocketPath, "max_sessions", maxSessions, "workers", workers)

	var persister sessionmgr.Persister
	var db *store.Store
	if dbPath != "" {
		db = store.Open(dbPath, log)
		defer db.Close()
		persister = db.AsPersister()
	}

	mgr := sessionmgr.New(maxSessions)
	if persister != nil {
		mgr.SetPersister(persister)
	}
	reg := metrics.New()
	mgr.SetFellBehindHook(func(sessionID string) {
		log.Warn("pty reader fell behind", "session_id", sessionID)
	})

	svc := &usecase.Service{
		Manager: mgr,
		Metrics: reg,
		Version: version.Version,
		GitSHA:  version.GitRef,
	}
	dispatcher := rpc.NewDispatcher(reg, log)
	usecase.Register(dispatcher, svc)

	go reapLoop(life, mgr)

	life.AcceptLoop(context.Background(), workers, func(conn transport.Conn) {
		handleConn(conn, dispatcher, reg, log)
	})

	log.Info("daemon shutting down")
	return exitOK, nil
}

func handleConn(conn transport.Conn, dispatcher *rpc.Dispatcher, reg *metrics.Registry, log *slog.Logger) {
	defer conn.Close()
	reg.ConnectionOpened()
	defer reg.ConnectionClosed()

	for {
		req, err := conn.ReadRequest(transport.DefaultMaxRequestBytes)
		if err != nil {
			return
		}
		resp := dispatcher.Dispatch(req)
		if err := conn.WriteResponse(resp); err != nil {
			log.Warn("write response failed", "error", err)
			return
		}
	}
}

func reapLoop(life *daemonlife.Lifecycle, mgr *sessionmgr.Manager) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-life.Notify():
			return
		case <-ticker.C:
			mgr.ReapExited()
		}
	}
}

// newLogger sends structured logs to AGENT_TUI_LOG if set, otherwise
// stderr. A log file (or any non-tty stderr, e.g. redirected to a file by
// the caller) gets the JSON handler since nothing will render ANSI there;
// an interactive stderr keeps the more readable text handler.
func newLogger() *slog.Logger {
	if path := os.Getenv("AGENT_TUI_LOG"); path != "" {
		if f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			return slog.New(slog.NewJSONHandler(f, nil))
		}
	}
	if isatty.IsTerminal(os.Stderr.Fd()) {
		return slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, nil))
}

func exitCodeFor(err error) int {
	aerr, ok := err.(*apperr.Error)
	if !ok {
		return exitInternal
	}
	switch aerr.Kind {
	case apperr.KindSocketBind:
		return exitSocketBind
	case apperr.KindAlreadyRunning:
		return exitAlreadyRunning
	case apperr.KindLockFailed:
		return exitLockFailed
	case apperr.KindSignalSetup:
		return exitSignalSetup
	case apperr.KindThreadPool:
		return exitThreadPool
	default:
		return exitInternal
	}
}
