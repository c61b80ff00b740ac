package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/orvnode/orv/config"
	"github.com/orvnode/orv/libs/cli"
	"github.com/orvnode/orv/libs/log"
)

// ParseConfig retrieves the default environment configuration,
// sets up the node root and ensures that the root exists
func ParseConfig(conf *config.Config) (*config.Config, error) {
	if err := viper.Unmarshal(conf); err != nil {
		return nil, err
	}

	conf.SetRoot(conf.RootDir)

	if err := conf.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("error in config file: %w", err)
	}
	return conf, nil
}

// RootCommand constructs the root command-line entry point for the node.
func RootCommand(conf *config.Config, logger log.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orvnode",
		Short: "Open representative voting node for a block-lattice ledger",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == VersionCmd.Name() {
				return nil
			}

			if err := cli.BindFlagsLoadViper(cmd, args); err != nil {
				return err
			}

			pconf, err := ParseConfig(conf)
			if err != nil {
				return err
			}
			*conf = *pconf
			config.EnsureRoot(conf.RootDir)
			return log.OverrideWithNewLogger(logger, conf.LogFormat, conf.LogLevel)
		},
	}
	cmd.PersistentFlags().StringP(cli.HomeFlag, "", os.ExpandEnv(filepath.Join("$HOME", config.DefaultOrvDir)), "directory for config and data")
	cmd.PersistentFlags().String(cli.LogLevelFlag, conf.LogLevel, "log level")
	cmd.PersistentFlags().String(cli.LogFormatFlag, conf.LogFormat, "log format (plain | json)")
	cobra.OnInitialize(func() { cli.InitEnv(cli.EnvPrefix) })
	return cmd
}
