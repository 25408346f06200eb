package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/medleyhq/medley/internal/catalog"
	"github.com/medleyhq/medley/internal/config"
	"github.com/medleyhq/medley/internal/database"
	"github.com/medleyhq/medley/internal/engine"
	"github.com/medleyhq/medley/internal/logging"
	"github.com/medleyhq/medley/internal/maintenance"
	"github.com/medleyhq/medley/internal/playback"
	"github.com/medleyhq/medley/internal/progress"
	"github.com/medleyhq/medley/internal/servers"
	"github.com/medleyhq/medley/internal/source"
	"github.com/medleyhq/medley/internal/web"
	"github.com/medleyhq/medley/internal/web/sse"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// CLI flags
var (
	configPath  string
	allowSubnet string
	logLevel    string

	// Timeout flags (advanced)
	httpTimeout   time.Duration
	websocketPing time.Duration
	searchTimeout time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "medley",
		Short: "Medley - Playback orchestration for Jellyfin and Emby",
		Long:  `Medley unifies multiple Jellyfin and Emby servers behind one playback API, resolving the best source for each item and driving a local player.`,
		RunE:  run,
	}

	rootCmd.Flags().StringVarP(&configPath, "config", "c", "./medley.toml", "Configuration file path (or set MEDLEY_CONFIG env var)")
	rootCmd.Flags().StringVarP(&allowSubnet, "allow-subnet", "a", "", "CIDR subnet allowed to connect (e.g., 192.168.1.0/24)")
	rootCmd.Flags().StringVarP(&logLevel, "log-level", "l", "info", "Log level (trace, debug, info, warn, error)")

	rootCmd.Flags().DurationVar(&httpTimeout, "http-timeout", 30*time.Second, "Timeout for HTTP requests to media-server backends")
	rootCmd.Flags().DurationVar(&websocketPing, "websocket-ping", 30*time.Second, "Interval between WebSocket keepalive pings")
	rootCmd.Flags().DurationVar(&searchTimeout, "search-timeout", 10*time.Second, "Timeout for a single cross-server search")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("medley %s (commit: %s, built: %s)\n", version, commit, date)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if configPath == "./medley.toml" {
		if envPath := os.Getenv("MEDLEY_CONFIG"); envPath != "" {
			configPath = envPath
		}
	}

	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}

	bind, port, err := splitListen(cfg.Listen)
	if err != nil {
		return err
	}

	var allowedNet *net.IPNet
	if allowSubnet != "" {
		_, parsedNet, err := net.ParseCIDR(allowSubnet)
		if err != nil {
			return fmt.Errorf("invalid allow-subnet CIDR: %s", allowSubnet)
		}
		allowedNet = parsedNet
	}

	config.SetGlobalTimeouts(&config.TimeoutConfig{
		HTTPClient:    httpTimeout,
		WebSocketPing: websocketPing,
		Search:        searchTimeout,
	})

	if (bind == "" || bind == "0.0.0.0" || bind == "::") && allowSubnet == "" {
		log.Warn().Msg("Server is accessible from all interfaces without subnet restrictions. Consider using --allow-subnet for security.")
	}

	db, err := database.New(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	loader := config.NewLoader(db)
	logging.Apply(logLevel, loader, logFilePath(cfg))

	log.Info().
		Str("version", version).
		Str("listen", cfg.Listen).
		Str("config", configPath).
		Str("database", cfg.Database).
		Msg("Starting Medley")

	seedServers(db, cfg.Servers)

	serverMgr := servers.NewManager(db)
	cat := catalog.NewStore(db, serverMgr)
	resolver := source.NewResolver(cat, serverMgr, loader)
	factory := engine.NewFactory(cfg.Engines)
	broker := sse.NewBroker()

	sessions := playback.NewManager(func() *playback.Session {
		session := playback.NewSession(db, cat, serverMgr, resolver, factory, loader)
		session.Subscribe(func(st playback.State) {
			broker.Broadcast(sse.Event{Type: sse.EventPlaybackState, Data: st})
			if st.AutoAdvancePending {
				broker.Broadcast(sse.Event{Type: sse.EventAutoAdvance, Data: st.Next})
			}
		})
		return session
	})
	defer sessions.Close()

	maint := maintenance.NewManager(db, resolver, loader)
	if err := maint.Start(); err != nil {
		log.Warn().Err(err).Msg("Failed to start maintenance scheduler")
	}
	defer maint.Stop()

	// Engine binaries only take effect on restart; a file reload picks up
	// the unsupported codec lists and maintenance schedule.
	watcher, err := config.WatchFile(configPath, func(updated *config.File) {
		factory.Reload(updated.Engines)
		if err := maint.Reschedule(); err != nil {
			log.Warn().Err(err).Msg("Failed to reschedule maintenance")
		}
	})
	if err != nil {
		log.Warn().Err(err).Msg("Config file watching disabled")
	} else {
		defer watcher.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go serverMgr.TestAll(ctx)

	progressWatcher := progress.NewWatcher(serverMgr, cat, resolver, broker)
	go progressWatcher.Run(ctx)

	server := web.NewServer(db, port, bind, allowedNet, serverMgr, cat, resolver, sessions, broker, loader)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server error")
	}

	log.Info().Msg("Medley stopped")
	return nil
}

// seedServers registers the servers named in the config file. Rows already
// present (matched by URL) are left alone so API edits survive restarts.
func seedServers(db *database.DB, seeds []config.ServerSeed) {
	if len(seeds) == 0 {
		return
	}

	existing, err := db.ListServers(false)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to list servers for seeding")
		return
	}
	known := make(map[string]struct{}, len(existing))
	for _, s := range existing {
		known[s.URL] = struct{}{}
	}

	for _, seed := range seeds {
		if _, ok := known[seed.URL]; ok {
			continue
		}
		s := &database.Server{
			Name:    seed.Name,
			Type:    database.ServerType(seed.Type),
			URL:     seed.URL,
			APIKey:  seed.APIKey,
			Enabled: true,
		}
		if err := db.CreateServer(s); err != nil {
			log.Warn().Err(err).Str("server", seed.Name).Msg("Failed to seed server")
			continue
		}
		log.Info().Str("server", seed.Name).Str("url", seed.URL).Msg("Seeded server from config")
	}
}

func splitListen(listen string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(listen)
	if err != nil {
		return "", 0, fmt.Errorf("invalid listen address %q: %w", listen, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid listen port %q", portStr)
	}
	if host != "" {
		if ip := net.ParseIP(strings.Trim(host, "[]")); ip == nil {
			return "", 0, fmt.Errorf("invalid listen host %q", host)
		}
	}
	return host, port, nil
}

func logFilePath(cfg *config.File) string {
	if cfg.LogFile != "" {
		return cfg.LogFile
	}
	return logging.FilePathForDB(cfg.Database)
}
