package commands

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orvnode/orv/config"
	"github.com/orvnode/orv/libs/log"
	orvos "github.com/orvnode/orv/libs/os"
	"github.com/orvnode/orv/version"
)

// writeConfigVals writes a toml file with the given values.
func writeConfigVals(t *testing.T, dir string, vals map[string]string) {
	t.Helper()
	data := ""
	for k, v := range vals {
		data += fmt.Sprintf("%s = \"%s\"\n", k, v)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(data), 0600))
}

// clearConfig resets viper and returns a default config rooted at dir.
func clearConfig(t *testing.T, dir string) *config.Config {
	t.Helper()
	viper.Reset()
	conf := config.DefaultConfig()
	conf.SetRoot(dir)
	return conf
}

// testRootCmd returns a root command with a subcommand that does nothing, so
// the persistent setup runs without starting a node.
func testRootCmd(t *testing.T, conf *config.Config) *cobra.Command {
	t.Helper()
	logger, err := log.NewDefaultLogger(config.LogFormatPlain, config.DefaultLogLevel)
	require.NoError(t, err)

	cmd := RootCommand(conf, logger)
	cmd.AddCommand(&cobra.Command{
		Use: "noop",
		Run: func(*cobra.Command, []string) {},
	}, MakeInitCommand(conf, logger), VersionCmd)
	return cmd
}

func execute(cmd *cobra.Command, args ...string) error {
	cmd.SetArgs(args)
	return cmd.Execute()
}

func TestRootHome(t *testing.T) {
	defaultRoot := t.TempDir()
	newRoot := filepath.Join(defaultRoot, "something-else")
	cases := []struct {
		args []string
		env  map[string]string
		root string
	}{
		{[]string{"--home", defaultRoot}, nil, defaultRoot},
		{[]string{"--home", newRoot}, nil, newRoot},
		{nil, map[string]string{"ORV_HOME": newRoot}, newRoot},
	}

	for i, tc := range cases {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			conf := clearConfig(t, defaultRoot)
			cmd := testRootCmd(t, conf)

			require.NoError(t, execute(cmd, append([]string{"noop"}, tc.args...)...))
			require.Equal(t, tc.root, conf.RootDir)
			require.Equal(t, tc.root, conf.Voting.RootDir)
			require.DirExists(t, filepath.Join(tc.root, "config"))
			require.DirExists(t, filepath.Join(tc.root, "data"))
		})
	}
}

func TestRootFlags(t *testing.T) {
	root := t.TempDir()
	cases := []struct {
		args     []string
		logLevel string
	}{
		{nil, config.DefaultLogLevel},
		{[]string{"--log_level", "debug"}, "debug"},
	}

	for i, tc := range cases {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			conf := clearConfig(t, root)
			cmd := testRootCmd(t, conf)

			args := append([]string{"noop", "--home", root}, tc.args...)
			require.NoError(t, execute(cmd, args...))
			assert.Equal(t, tc.logLevel, conf.LogLevel)
		})
	}
}

func TestRootConfig(t *testing.T) {
	cases := []struct {
		args   []string
		logLvl string
	}{
		{nil, "debug"},                           // should load config
		{[]string{"--log_level=error"}, "error"}, // flag over rides
	}

	for i, tc := range cases {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			root := t.TempDir()
			conf := clearConfig(t, root)

			configDir := filepath.Join(root, "config")
			require.NoError(t, orvos.EnsureDir(configDir, 0700))
			writeConfigVals(t, configDir, map[string]string{"log_level": "debug"})

			cmd := testRootCmd(t, conf)
			args := append([]string{"noop", "--home", root}, tc.args...)
			require.NoError(t, execute(cmd, args...))
			require.Equal(t, tc.logLvl, conf.LogLevel)
		})
	}
}

func TestRootRejectsInvalidConfig(t *testing.T) {
	root := t.TempDir()
	conf := clearConfig(t, root)
	cmd := testRootCmd(t, conf)
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	err := execute(cmd, "noop", "--home", root, "--log_format", "xml")
	require.Error(t, err)
	require.Contains(t, err.Error(), "log_format")
}

func TestInitWritesLoadableConfig(t *testing.T) {
	root := t.TempDir()
	conf := clearConfig(t, root)
	cmd := testRootCmd(t, conf)
	require.NoError(t, execute(cmd, "init", "--home", root, "--network", config.NetworkTest))

	configFile := filepath.Join(root, "config", "config.toml")
	require.FileExists(t, configFile)

	// a fresh run picks the written network up from the file
	conf = clearConfig(t, root)
	cmd = testRootCmd(t, conf)
	require.NoError(t, execute(cmd, "noop", "--home", root))
	require.Equal(t, config.NetworkTest, conf.Network)
}

func TestVersionCmd(t *testing.T) {
	conf := clearConfig(t, t.TempDir())
	cmd := testRootCmd(t, conf)
	var out bytes.Buffer
	cmd.SetOut(&out)

	require.NoError(t, execute(cmd, "version"))
	require.Equal(t, version.Version, strings.TrimSpace(out.String()))
}
