package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/orvnode/orv/config"
	"github.com/orvnode/orv/libs/log"
	orvos "github.com/orvnode/orv/libs/os"
)

// MakeInitCommand returns the command that writes a default config file
// into the home directory.
func MakeInitCommand(conf *config.Config, logger log.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the node home directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return initFiles(conf, logger)
		},
	}
	cmd.Flags().String("network", conf.Network, "network to join (dev | test)")
	return cmd
}

func initFiles(conf *config.Config, logger log.Logger) error {
	configFile := filepath.Join(conf.RootDir, "config", "config.toml")
	if orvos.FileExists(configFile) {
		logger.Info("found config file", "path", configFile)
		return nil
	}
	if err := config.WriteConfigFile(conf.RootDir, conf); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	logger.Info("generated config file", "path", configFile, "network", conf.Network)
	return nil
}
