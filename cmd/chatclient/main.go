// chatclient is the interactive CLI client for the chat protocol.

package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/kmetzger/chatrelay/internal/client"
	"github.com/kmetzger/chatrelay/internal/logging"
	"github.com/kmetzger/chatrelay/internal/protocol"
	"github.com/spf13/cobra"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "chatclient <handle> <server-host> <server-port> [clientID]",
	Short: "CLI client for the flag-tagged chat protocol",
	Long: `chatclient registers a handle with the relay server and then
accepts commands on standard input:

  %M dest [text]          send a private message
  %B [text]               broadcast to everyone
  %C k d1 ... dk [text]   send to k destinations (2 <= k <= 9)
  %L                      list registered handles
  %H                      show help

The optional clientID is only shown in the greeting.`,
	Args:         cobra.RangeArgs(3, 4),
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&logLevel, "loglevel", "warn", "log level (debug, info, warn, error)")
}

func run(cmd *cobra.Command, args []string) error {
	opts := client.Options{
		Handle: args[0],
		Host:   args[1],
		Port:   args[2],
	}

	if len(opts.Handle) < protocol.MinHandleLength || len(opts.Handle) > protocol.MaxHandleLength {
		return fmt.Errorf("handle must be %d..%d bytes", protocol.MinHandleLength, protocol.MaxHandleLength)
	}
	if port, err := strconv.Atoi(opts.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid port %q", opts.Port)
	}
	if len(args) == 4 {
		id, err := strconv.Atoi(args[3])
		if err != nil {
			return fmt.Errorf("invalid client ID %q", args[3])
		}
		opts.ClientID = id
		opts.HasID = true
	}

	// Logs go to stderr so protocol output on stdout stays clean.
	logger := logging.New(logLevel, "stderr")

	engine := client.New(opts, logger, os.Stdin, os.Stdout)
	return engine.Run()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
