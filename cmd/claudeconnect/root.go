package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/cobra"

	"github.com/claudeconnect/client/internal/auth"
	"github.com/claudeconnect/client/internal/background"
	"github.com/claudeconnect/client/internal/config"
	"github.com/claudeconnect/client/internal/eventbus"
	"github.com/claudeconnect/client/internal/eventlog"
	"github.com/claudeconnect/client/internal/logger"
	"github.com/claudeconnect/client/internal/session"
	"github.com/claudeconnect/client/internal/storage"
	apptls "github.com/claudeconnect/client/internal/tls"
	"github.com/claudeconnect/client/internal/transport"
)

type globalFlags struct {
	configPath string
	dataDir    string
	verbose    bool
}

// app carries what every subcommand shares: resolved config, the IO
// streams, and the lazily opened store.
type app struct {
	flags  globalFlags
	cfg    *config.Config
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	store *storage.SQLiteStore
}

func newRootCmd(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	a := &app{stdin: stdin, stdout: &syncWriter{w: stdout}, stderr: stderr}

	root := &cobra.Command{
		Use:   "claudeconnect",
		Short: "Connect to a Claude companion server from the terminal",
		Long: `claudeconnect pairs with a companion server on your network, keeps the
connection authenticated across restarts, and lets you browse repositories
and talk to the assistant from an interactive shell.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch cmd.Name() {
			case "version", "help", "init":
				return nil
			}
			return a.init()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}
	root.SetIn(stdin)
	root.SetOut(a.stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVarP(&a.flags.configPath, "config", "c", "", "config file path (default ~/.claudeconnect/config.toml)")
	root.PersistentFlags().StringVar(&a.flags.dataDir, "data-dir", "", "directory for the credential store")
	root.PersistentFlags().BoolVarP(&a.flags.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newInitCmd(a),
		newConnectCmd(a),
		newPairCmd(a),
		newStatusCmd(a),
		newForgetCmd(a),
		newLogsCmd(a),
		newDiscoverCmd(a),
		newDevserverCmd(a),
		newVersionCmd(a),
	)
	return root
}

func (a *app) init() error {
	cfg, err := config.Load(a.flags.configPath)
	if err != nil {
		return err
	}
	if a.flags.dataDir != "" {
		cfg.DataDir = a.flags.dataDir
	}
	a.cfg = cfg

	level := cfg.LogLevel
	if level == "" {
		level = "warn"
	}
	if a.flags.verbose {
		level = "debug"
	}
	return logger.Init(logger.Config{Level: level, Format: cfg.LogFormat, File: cfg.LogFile})
}

func (a *app) close() error {
	var err error
	if a.store != nil {
		err = a.store.Close()
		a.store = nil
	}
	if cerr := logger.Close(); err == nil {
		err = cerr
	}
	return err
}

// openStore opens the SQLite store, creating its directory.
func (a *app) openStore() (*storage.SQLiteStore, error) {
	if a.store != nil {
		return a.store, nil
	}
	path, err := a.cfg.ResolvedStore()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := storage.NewSQLiteStore(path)
	if err != nil {
		return nil, err
	}
	a.store = store
	return store, nil
}

func (a *app) credentials() (*auth.CredentialStore, error) {
	store, err := a.openStore()
	if err != nil {
		return nil, err
	}
	return auth.NewCredentialStore(store), nil
}

// diagnosticLog returns the persisted diagnostic log. When bus is non-nil
// every entry is also published as log_appended.
func (a *app) diagnosticLog(bus *eventbus.Bus) (*eventlog.Log, error) {
	store, err := a.openStore()
	if err != nil {
		return nil, err
	}
	opts := eventlog.Options{Limit: a.cfg.Limit(), Sink: store}
	if bus != nil {
		opts.OnAppend = func(e eventlog.Entry) {
			bus.Publish(eventbus.NewEvent(eventbus.EventLogAppended).
				WithSource("cli").
				WithData("level", string(e.Level)).
				WithData("category", string(e.Category)).
				WithData("message", e.Message))
		}
	}
	return eventlog.New(opts), nil
}

func (a *app) dialer() (*transport.WSDialer, error) {
	opts := transport.Options{
		HandshakeTimeout: a.cfg.Handshake(),
		WriteTimeout:     a.cfg.Write(),
		ConnectivityWait: a.cfg.Connectivity(),
	}
	if a.cfg.TLSCert != "" {
		tlsCfg, err := apptls.PinnedClientConfig(a.cfg.TLSCert, "")
		if err != nil {
			return nil, err
		}
		opts.TLSConfig = tlsCfg
	}
	return transport.NewDialer(opts), nil
}

// newSession wires a Session to the store. autoConnect overrides the
// config value when non-nil.
func (a *app) newSession(autoConnect *bool) (*session.Session, error) {
	creds, err := a.credentials()
	if err != nil {
		return nil, err
	}
	bus := eventbus.NewBus()
	diag, err := a.diagnosticLog(bus)
	if err != nil {
		return nil, err
	}
	dialer, err := a.dialer()
	if err != nil {
		return nil, err
	}

	auto := a.cfg.AutoConnectEnabled()
	if autoConnect != nil {
		auto = *autoConnect
	}
	return session.New(session.Config{
		Credentials:       creds,
		Dialer:            dialer,
		Bus:               bus,
		Log:               diag,
		Background:        background.TimedAdapter{Budget: a.cfg.Background()},
		KeepAliveInterval: a.cfg.KeepAlive(),
		PingTimeout:       a.cfg.Ping(),
		AuthTimeout:       a.cfg.Auth(),
		AutoConnect:       auto,
		AutoListRepos:     a.cfg.AutoListReposEnabled(),
	}), nil
}

// syncWriter serializes writes from the shell and its event printer.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func boolPtr(b bool) *bool { return &b }
