package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vitalvas/openwire"
)

// Version is overridden at build time with -ldflags.
var Version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "openwire",
		Short: "OpenWire protocol client tools",
		Long: fmt.Sprintf(`openwire (%s)

Tools for talking to OpenWire message brokers: probe a broker through the
full transport chain or decode a captured wire frame.`, Version),
		SilenceUsage: true,
	}

	root.PersistentFlags().String("log-level", "warn", "log level: debug, info, warn, error, none")
	root.AddCommand(newProbeCmd(), newDecodeCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of openwire",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "openwire %s (protocol v%d)\n", Version, openwire.MaxSupportedVersion)
		},
	}
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	cobra.OnInitialize(initConfig)
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// initConfig loads .env files and maps OPENWIRE_* variables onto flag keys.
func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("openwire")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// bindFlags makes every flag of cmd, persistent ones included, resolvable
// through viper.
func bindFlags(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.InheritedFlags()); err != nil {
		return err
	}
	return viper.BindPFlags(cmd.Flags())
}

func newLogger(cmd *cobra.Command) (openwire.Logger, error) {
	level, err := openwire.ParseLogLevel(viper.GetString("log-level"))
	if err != nil {
		return nil, err
	}
	return openwire.NewConsoleLogger(cmd.ErrOrStderr(), level), nil
}
