// Command lwm2m-client registers an endpoint with one or more management
// servers and keeps each registration in step with the enabled object
// instances.
//
// Usage:
//
//	lwm2m-client [flags]
//
// Flags:
//
//	-config string         Configuration file path (YAML)
//	-endpoint string       Endpoint name (overrides config)
//	-server name=host:port Management server, repeatable (overrides config)
//	-lifetime uint         Registration lifetime in seconds (overrides config)
//	-discover              Look up servers without an address via DNS-SD
//	-protocol-log string   Write a CBOR protocol log to this file
//	-state-file string     Write session records to this JSON file
//	-snapshot-file string  Persist the enabled instances to this file
//	-log-level string      Log level: debug, info, warn, error (default "info")
//	-interactive           Start the interactive shell
//
// Examples:
//
//	# Register with one server
//	lwm2m-client -endpoint node-1 -server primary=192.0.2.10:5683
//
//	# Two servers from a config file, with a shell and protocol capture
//	lwm2m-client -config client.yaml -interactive -protocol-log client.rlog
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lwm2m-go/regsync/cmd/lwm2m-client/interactive"
	"github.com/lwm2m-go/regsync/pkg/client"
	"github.com/lwm2m-go/regsync/pkg/config"
	"github.com/lwm2m-go/regsync/pkg/discovery"
	"github.com/lwm2m-go/regsync/pkg/dm"
	"github.com/lwm2m-go/regsync/pkg/exchange"
	"github.com/lwm2m-go/regsync/pkg/log"
	"github.com/lwm2m-go/regsync/pkg/persistence"
	"github.com/lwm2m-go/regsync/pkg/registry"
	"github.com/lwm2m-go/regsync/pkg/transport"
)

// shutdownTimeout bounds the deregistrations sent on exit.
const shutdownTimeout = 30 * time.Second

// serverFlags collects repeated -server name=address flags.
type serverFlags []config.ServerConfig

func (s *serverFlags) String() string {
	parts := make([]string, 0, len(*s))
	for _, srv := range *s {
		parts = append(parts, srv.Name+"="+srv.Address)
	}
	return strings.Join(parts, ",")
}

func (s *serverFlags) Set(value string) error {
	name, addr, ok := strings.Cut(value, "=")
	if !ok || name == "" {
		return fmt.Errorf("expected name=host:port, got %q", value)
	}
	// Servers given on the command line pair Security and Server
	// instances by position.
	id := dm.InstanceID(len(*s))
	*s = append(*s, config.ServerConfig{
		Name:             name,
		Address:          addr,
		SecurityInstance: id,
		ServerInstance:   id,
	})
	return nil
}

// Flags holds the command-line settings.
type Flags struct {
	ConfigFile   string
	Endpoint     string
	Servers      serverFlags
	Lifetime     uint
	Discover     bool
	ProtocolLog  string
	StateFile    string
	SnapshotFile string
	LogLevel     string
	Interactive  bool
}

var flags Flags

func init() {
	flag.StringVar(&flags.ConfigFile, "config", "", "Configuration file path (YAML)")
	flag.StringVar(&flags.Endpoint, "endpoint", "", "Endpoint name (overrides config)")
	flag.Var(&flags.Servers, "server", "Management server as name=host:port, repeatable (overrides config)")
	flag.UintVar(&flags.Lifetime, "lifetime", 0, "Registration lifetime in seconds (overrides config)")
	flag.BoolVar(&flags.Discover, "discover", false, "Look up servers without an address via DNS-SD")
	flag.StringVar(&flags.ProtocolLog, "protocol-log", "", "Write a CBOR protocol log to this file")
	flag.StringVar(&flags.StateFile, "state-file", "", "Write session records to this JSON file")
	flag.StringVar(&flags.SnapshotFile, "snapshot-file", "", "Persist the enabled instances to this file")
	flag.StringVar(&flags.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flag.BoolVar(&flags.Interactive, "interactive", false, "Start the interactive shell")
}

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, cancel, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if flags.ConfigFile != "" {
		loaded, err := config.Load(flags.ConfigFile)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}

	if flags.Endpoint != "" {
		cfg.Endpoint = flags.Endpoint
	}
	if len(flags.Servers) > 0 {
		cfg.Servers = flags.Servers
		cfg.Instances = pairedInstances(cfg.Instances, flags.Servers)
	}
	if flags.Lifetime > 0 {
		cfg.Lifetime = uint32(flags.Lifetime)
	}
	if flags.Discover {
		cfg.Discovery.Enabled = true
	}
	if flags.ProtocolLog != "" {
		cfg.ProtocolLog = flags.ProtocolLog
	}
	if flags.StateFile != "" {
		cfg.StateFile = flags.StateFile
	}
	if flags.SnapshotFile != "" {
		cfg.SnapshotFile = flags.SnapshotFile
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// pairedInstances adds the Security and Server instances of servers to
// instances.
func pairedInstances(instances []string, servers []config.ServerConfig) []string {
	seen := make(map[string]bool, len(instances))
	for _, p := range instances {
		seen[p] = true
	}
	for _, s := range servers {
		for _, p := range []string{
			dm.NewRef(dm.ObjectSecurity, s.SecurityInstance).Path(),
			dm.NewRef(dm.ObjectServer, s.ServerInstance).Path(),
		} {
			if !seen[p] {
				seen[p] = true
				instances = append(instances, p)
			}
		}
	}
	return instances
}

func run(ctx context.Context, cancel context.CancelFunc, cfg config.Config) error {
	var shell *interactive.Shell
	var console io.Writer = os.Stderr
	if flags.Interactive {
		var err error
		shell, err = interactive.New()
		if err != nil {
			return err
		}
		console = shell.Stderr()
	}
	logger := newLogger(console, flags.LogLevel)

	protocolLogger, closeLog, err := newProtocolLogger(cfg, logger)
	if err != nil {
		return err
	}
	defer closeLog()

	if err := resolveServers(ctx, &cfg, logger); err != nil {
		return err
	}

	// c is set before any read loop starts; teardown before that has no
	// session to reset.
	var c *client.Client

	conns := make(map[string]*transport.Conn, len(cfg.Servers))
	transports := make(map[string]exchange.Transport, len(cfg.Servers))
	defer func() {
		for _, conn := range conns {
			_ = conn.Close()
		}
	}()
	for _, s := range cfg.Servers {
		name := s.Name
		conn, err := transport.Dial(ctx, s.Address, transport.ConnConfig{
			Server:   s.Name,
			Endpoint: cfg.Endpoint,
			OnClose: func(err error) {
				if c == nil {
					return
				}
				if err != nil {
					logger.Warn("transport lost", "server", name, "error", err)
				}
				_ = c.Reset(name)
			},
			ProtocolLogger: protocolLogger,
			Logger:         debugLogger(logger),
		})
		if err != nil {
			return fmt.Errorf("server %s: %w", s.Name, err)
		}
		conns[s.Name] = conn
		transports[s.Name] = conn
	}

	opts := []client.Option{
		client.WithLogger(debugLogger(logger)),
		client.WithProtocolLogger(protocolLogger),
	}
	if cfg.StateFile != "" {
		opts = append(opts, client.WithStateStore(persistence.NewStateStore(cfg.StateFile)))
	}
	if cfg.SnapshotFile != "" {
		opts = append(opts, client.WithSnapshotStore(persistence.NewSnapshotStore(cfg.SnapshotFile)))
	}

	reg := registry.New(nil)
	c, err = client.New(cfg, reg, transports, opts...)
	if err != nil {
		return err
	}

	for name, conn := range conns {
		if err := conn.Serve(func(data []byte) { c.HandleDatagram(name, data) }); err != nil {
			return fmt.Errorf("server %s: %w", name, err)
		}
	}

	logger.Info("starting", "endpoint", cfg.Endpoint, "servers", len(cfg.Servers), "instances", reg.Current().Listing())
	if err := c.Start(ctx); err != nil {
		// Sessions that failed can be registered again from the shell.
		logger.Warn("registration failed", "error", err)
	}
	for _, st := range c.Status() {
		logger.Info("session", "server", st.Server, "state", st.State, "location", st.Location)
	}

	if shell != nil {
		shell.Run(ctx, cancel, c)
	} else {
		waitForSignal(ctx, logger)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()
	if err := c.Stop(stopCtx); err != nil {
		logger.Warn("deregistration failed", "error", err)
	}
	logger.Info("stopped")
	return nil
}

func waitForSignal(ctx context.Context, logger *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Info("received signal", "signal", sig.String())
	case <-ctx.Done():
	}
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: l}))
}

// debugLogger returns logger when debug output is enabled and nil
// otherwise, which disables the components' debug logging.
func debugLogger(logger *slog.Logger) *slog.Logger {
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		return logger
	}
	return nil
}

// newProtocolLogger builds the protocol event sink: the configured capture
// file and, at debug level, the console.
func newProtocolLogger(cfg config.Config, logger *slog.Logger) (log.Logger, func(), error) {
	var loggers []log.Logger
	closeFn := func() {}

	if cfg.ProtocolLog != "" {
		file, err := log.NewFileLogger(cfg.ProtocolLog)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create protocol logger: %w", err)
		}
		logger.Info("protocol logging", "path", file.Path())
		loggers = append(loggers, file)
		closeFn = func() { _ = file.Close() }
	}
	if debugLogger(logger) != nil {
		loggers = append(loggers, log.NewSlogAdapter(logger))
	}

	if len(loggers) == 0 {
		return log.NoopLogger{}, closeFn, nil
	}
	return log.NewMultiLogger(loggers...), closeFn, nil
}

// resolveServers fills in missing server addresses by DNS-SD lookup.
func resolveServers(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	var browser *discovery.MDNSBrowser
	for i := range cfg.Servers {
		s := &cfg.Servers[i]
		if s.Address != "" {
			continue
		}
		if browser == nil {
			bc := discovery.DefaultBrowserConfig()
			if cfg.Discovery.Timeout > 0 {
				bc.BrowseTimeout = cfg.Discovery.Timeout
			}
			var err error
			if browser, err = discovery.NewMDNSBrowser(bc); err != nil {
				return err
			}
			defer browser.Stop()
		}

		svc, err := browser.FindServer(ctx, s.Name)
		if err != nil {
			if errors.Is(err, discovery.ErrNotFound) {
				return fmt.Errorf("server %s: not found on the local network", s.Name)
			}
			return fmt.Errorf("server %s: %w", s.Name, err)
		}
		addr, err := svc.Address()
		if err != nil {
			return fmt.Errorf("server %s: %w", s.Name, err)
		}
		logger.Info("discovered server", "server", s.Name, "address", addr, "path", svc.Path)
		s.Address = addr
	}
	return nil
}
