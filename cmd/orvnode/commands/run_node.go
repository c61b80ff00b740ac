package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/orvnode/orv/config"
	"github.com/orvnode/orv/libs/log"
	orvos "github.com/orvnode/orv/libs/os"
	"github.com/orvnode/orv/libs/service"
	"github.com/orvnode/orv/node"
)

const shutdownTimeout = 4 * time.Second

// AddNodeFlags exposes some common configuration options on the command-line
// These are exposed for convenience of commands embedding a node
func AddNodeFlags(cmd *cobra.Command, conf *config.Config) {
	cmd.Flags().String("moniker", conf.Moniker, "node name")
	cmd.Flags().String("network", conf.Network, "network to join (dev | test)")

	// elections flags
	cmd.Flags().Int("active_elections.size", conf.ActiveElections.Size, "maximum number of concurrent elections")

	// voting flags
	cmd.Flags().String(
		"voting.representative_key_file",
		conf.Voting.RepresentativeKeyFile,
		"file holding the hex encoded seed of the local representative")

	// instrumentation flags
	cmd.Flags().Bool("instrumentation.prometheus", conf.Instrumentation.Prometheus, "serve prometheus metrics")
	cmd.Flags().String(
		"instrumentation.prometheus_listen_addr",
		conf.Instrumentation.PrometheusListenAddr,
		"prometheus listen address")

	addDBFlags(cmd, conf)
}

func addDBFlags(cmd *cobra.Command, conf *config.Config) {
	cmd.Flags().String(
		"db_backend",
		conf.DBBackend,
		"database backend: goleveldb | memdb")
	cmd.Flags().String(
		"db_dir",
		conf.DBPath,
		"database directory")
}

// MakeRunNodeCommand returns the command that allows the CLI to start a node.
func MakeRunNodeCommand(conf *config.Config, logger log.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "start",
		Aliases: []string{"node", "run"},
		Short:   "Run the node",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := orvos.SignalContext(cmd.Context(), logger)
			defer cancel()
			return runNode(ctx, conf, logger)
		},
	}

	AddNodeFlags(cmd, conf)
	return cmd
}

func runNode(ctx context.Context, conf *config.Config, logger log.Logger) error {
	n, err := node.New(ctx, conf, logger)
	if err != nil {
		return fmt.Errorf("failed to create node: %w", err)
	}

	if err := n.Start(ctx); err != nil {
		return fmt.Errorf("failed to start node: %w", err)
	}
	logger.Info("started node", "moniker", conf.Moniker, "network", conf.Network,
		"blocks", n.Ledger().BlockCount(), "cemented", n.Ledger().CementedCount())

	g, ctx := errgroup.WithContext(ctx)
	if conf.Instrumentation.Prometheus {
		srv := &http.Server{
			Addr:              conf.Instrumentation.PrometheusListenAddr,
			Handler:           promhttp.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info("serving metrics", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		if n.IsRunning() {
			if err := n.Stop(); err != nil && !errors.Is(err, service.ErrAlreadyStopped) {
				logger.Error("unable to stop the node", "error", err)
			}
		}
		n.Wait()
		return nil
	})
	return g.Wait()
}
