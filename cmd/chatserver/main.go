// chatserver is the central relay for the chat protocol. It validates,
// routes, and relays client messages; it never synthesizes content.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/kmetzger/chatrelay/internal/config"
	"github.com/kmetzger/chatrelay/internal/logging"
	"github.com/kmetzger/chatrelay/internal/server"
	"github.com/spf13/cobra"
)

var (
	cfgFile     string
	listenAddr  string
	logLevel    string
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "chatserver [port]",
	Short: "Relay server for the flag-tagged chat protocol",
	Long: `chatserver accepts client connections, arbitrates handle
registration, and relays unicast, multicast, and broadcast messages
between registered clients. Without a port argument the OS assigns one;
the bound address is logged on startup.`,
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file path (optional)")
	rootCmd.Flags().StringVar(&listenAddr, "listen", "", "address to listen on (e.g. :7775)")
	rootCmd.Flags().StringVar(&logLevel, "loglevel", "", "log level (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics", "", "address for the Prometheus /metrics listener")
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Flags override the config file; the positional port wins over both.
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}
	if len(args) == 1 {
		port, err := strconv.Atoi(args[0])
		if err != nil || port < 0 || port > 65535 {
			return fmt.Errorf("invalid port %q", args[0])
		}
		cfg.ListenAddr = ":" + args[0]
	}

	logger := logging.New(cfg.LogLevel)
	logger.Info("Starting chat relay...")

	srv := server.New(cfg, logger)
	if err := srv.Listen(); err != nil {
		return err
	}

	go func() {
		if err := srv.Serve(); err != nil {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	// Graceful shutdown on interrupt
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Infof("Signal received: %s, shutting down gracefully...", sig)

	shutdownTimeout := 5 * time.Second
	if err := srv.Stop(shutdownTimeout); err != nil {
		logger.Errorf("Shutdown error: %v", err)
	} else {
		logger.Info("Relay shut down cleanly")
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
