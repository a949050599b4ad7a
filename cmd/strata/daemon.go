package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/strataos/strata/internal/daemon"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the event bus daemon",
	Long: `Runs the strata daemon in the foreground: the event bus, the priority
router, configured external handlers, and (unless disabled in config) an
embedded NATS server mirroring events onto JetStream.

Stops cleanly on SIGINT/SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// The flag wins over both file and environment; config reads the
		// port from the environment, so route it through there.
		if cmd.Flags().Changed("nats-port") {
			port, _ := cmd.Flags().GetInt("nats-port")
			_ = os.Setenv("STRATA_NATS_PORT", strconv.Itoa(port))
		}

		d, err := daemon.New(viper.GetString("config"), Version)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return d.Run(ctx)
	},
}

func init() {
	daemonCmd.Flags().Int("nats-port", 0, "embedded NATS port (overrides config)")
	rootCmd.AddCommand(daemonCmd)
}
