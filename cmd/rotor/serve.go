package main

import (
	"fmt"
	"net"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/rotor-engine/rotor/dp/dpcodec/dpjson"
	"github.com/rotor-engine/rotor/dp/dpconsensus/dpconsensustest"
	"github.com/rotor-engine/rotor/dp/dpengine"
	"github.com/rotor-engine/rotor/dp/dpstore/dpmemstore"
	"github.com/rotor-engine/rotor/dptime"
	"github.com/rotor-engine/rotor/dpweb"
)

func newServeCommand() *cobra.Command {
	var (
		listenAddr string
		unixPath   string
		minerCount int
		intervalMS int64
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run an engine with the HTTP inspector",
		Long: `serve seeds an in-memory engine with a deterministic miner set and
exposes the inspector over TCP or a unix socket until interrupted.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := newLogger()

			var ln net.Listener
			var err error
			switch {
			case unixPath != "":
				// Stale sockets from a previous run would fail the bind.
				if err := os.Remove(unixPath); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("failed to remove stale socket %s: %w", unixPath, err)
				}
				ln, err = net.Listen("unix", unixPath)
			default:
				ln, err = net.Listen("tcp", listenAddr)
			}
			if err != nil {
				return fmt.Errorf("failed to listen: %w", err)
			}

			fx := dpconsensustest.NewFixture(minerCount)
			fx.IntervalMS = intervalMS

			store := dpmemstore.NewRoundStore()
			if err := store.SaveRound(ctx, fx.FirstRound(dptime.Now())); err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			eng, err := dpengine.New(ctx, log, dpengine.Config{
				Store:       store,
				HashScheme:  fx.Scheme,
				LocalHeight: func() uint64 { return 0 },
				Metrics:     dpengine.NewMetrics(reg),
			})
			if err != nil {
				return err
			}

			log.Info("Inspector listening", "addr", ln.Addr().String())

			srv := dpweb.NewHTTPServer(ctx, log, dpweb.HTTPServerConfig{
				Listener:        ln,
				Engine:          eng,
				Codec:           dpjson.Codec{},
				MetricsGatherer: reg,
			})
			srv.Wait()
			return nil
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "127.0.0.1:26780", "TCP listen address")
	cmd.Flags().StringVar(&unixPath, "unix", "", "unix socket path (overrides --listen)")
	cmd.Flags().IntVar(&minerCount, "miners", 5, "number of seeded miners")
	cmd.Flags().Int64Var(&intervalMS, "interval", 4000, "mining interval in milliseconds")

	return cmd
}
