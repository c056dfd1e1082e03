package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"familyhub/internal/config"
	"familyhub/internal/database"
	"familyhub/internal/logging"
	"familyhub/internal/server"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "familyhub",
	Short: "FamilyHub real-time API and client",
	Long: `FamilyHub serves the family chat API, authorizes gateway channel
subscriptions, and ships a terminal client for following a chat room.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("familyhub version %s\nCommit: %s\n", Version, Commit))
	rootCmd.PersistentFlags().String("env-file", ".env", "Optional dotenv file read before the environment")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(listenCmd)
}

func loadConfig(cmd *cobra.Command) (*config.Config, zerolog.Logger, error) {
	envFile, _ := cmd.Flags().GetString("env-file")
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	log := logging.New(logging.Config{Level: cfg.LogLevel, JSONOutput: cfg.LogJSON})
	return cfg, log, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Run the HTTP API: login, channel authorization for the broadcast
gateway, chat messages and the typing relay.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		db, err := database.Open(cfg.DatabasePath, cfg.LogLevel == "debug")
		if err != nil {
			return err
		}
		if err := database.Migrate(db); err != nil {
			return err
		}

		router := server.NewRouter(server.FromConfig(cfg, db, log))
		ln, err := net.Listen("tcp", cfg.HTTPAddr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", cfg.HTTPAddr, err)
		}

		log.Info().
			Str("gateway", cfg.Gateway.HTTPBaseURL()).
			Str("version", Version).
			Msg("starting familyhub")
		log.Info().Msg("API endpoints:")
		log.Info().Msg("  POST   /api/login")
		log.Info().Msg("  GET    /api/realtime/config")
		log.Info().Msg("  POST   /broadcasting/auth")
		log.Info().Msg("  GET    /api/chat-rooms/:roomId/messages")
		log.Info().Msg("  POST   /api/chat-rooms/:roomId/messages")
		log.Info().Msg("  PATCH  /api/chat-rooms/:roomId/messages/:messageId")
		log.Info().Msg("  DELETE /api/chat-rooms/:roomId/messages/:messageId")
		log.Info().Msg("  POST   /api/chat-rooms/:roomId/typing")
		log.Info().Msg("  GET    /health")
		log.Info().Msg("  GET    /metrics")

		ctx, stop := signalContext()
		defer stop()
		return server.Serve(ctx, ln, router, log)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		db, err := database.Open(cfg.DatabasePath, false)
		if err != nil {
			return err
		}
		if err := database.Migrate(db); err != nil {
			return err
		}
		log.Info().Str("database", cfg.DatabasePath).Msg("schema is up to date")
		return nil
	},
}
