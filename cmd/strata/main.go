// strata is the layered-platform event daemon and its CLI.
//
// The daemon hosts the inter-layer event bus, the priority router, and an
// embedded NATS server that mirrors events onto JetStream; tail follows the
// mirrored stream from any terminal.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "strata",
	Short: "strata - layered platform event daemon",
	Long:  `Event bus daemon for the layered device platform: typed events, priority routing, JetStream mirroring.`,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("strata version %s\n", Version)
			return
		}
		_ = cmd.Help()
	},
}

func init() {
	viper.SetEnvPrefix("STRATA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	rootCmd.PersistentFlags().String("config", defaultConfigPath(), "path to strata.yaml")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	rootCmd.Flags().BoolP("version", "V", false, "Print version information")
}

func defaultConfigPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir + "/strata/strata.yaml"
	}
	return "strata.yaml"
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
