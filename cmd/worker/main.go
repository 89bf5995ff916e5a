// Command worker runs one piccolo worker process: it registers with the
// master, then services PUT/GET traffic and kernel dispatch until told to
// shut down.
package main

import (
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/pingcap/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/tablekernel/piccolo/examples/kmeans"
	"github.com/tablekernel/piccolo/examples/matmul"
	"github.com/tablekernel/piccolo/internal/config"
	"github.com/tablekernel/piccolo/internal/logutil"
	"github.com/tablekernel/piccolo/internal/transport"
	"github.com/tablekernel/piccolo/internal/worker"
	"go.uber.org/zap"
)

func main() {
	var (
		configPath  string
		rank        int
		masterAddr  string
		metricsAddr string
		app         string
	)

	root := &cobra.Command{
		Use:   "piccolo-worker",
		Short: "Run a piccolo worker process",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if masterAddr != "" {
				cfg.MasterAddr = masterAddr
			}
			if err := logutil.Init(cfg.LogLevel); err != nil {
				return err
			}
			if rank <= 0 {
				return fmt.Errorf("--rank must be >= 1 (0 is reserved for the master)")
			}

			if metricsAddr != "" {
				go func() {
					http.Handle("/metrics", promhttp.Handler())
					log.Warn("metrics server exited", zap.Error(http.ListenAndServe(metricsAddr, nil)))
				}()
			}

			addrs := cfg.Addrs()
			if rank >= len(addrs) {
				return fmt.Errorf("no listen address configured for rank %d (worker-addrs has %d entries)", rank, len(addrs)-1)
			}
			tr, err := transport.NewGrpcTransport(rank, addrs)
			if err != nil {
				return err
			}
			defer tr.Close()

			w := worker.New(rank, cfg, tr)
			switch app {
			case "matmul":
				matmul.Register(w)
			case "kmeans":
				kmeans.Register(w)
			default:
				return fmt.Errorf("unknown --app %q (want matmul or kmeans)", app)
			}
			log.Info("worker started", zap.Int("rank", rank), zap.String("app", app))
			w.Run()
			return nil
		},
	}

	root.Flags().StringVarP(&configPath, "config", "c", "", "path to a TOML config file")
	root.Flags().IntVar(&rank, "rank", 0, "this worker's rank (1..num-workers)")
	root.Flags().StringVar(&masterAddr, "master-addr", "", "override the configured master address")
	root.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve /metrics on, empty disables it")
	root.Flags().StringVar(&app, "app", "matmul", "demo application to register tables and kernels for: matmul or kmeans")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
