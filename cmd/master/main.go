// Command master runs the cluster controller: it waits for the configured
// number of workers to register, then drives one of the bundled demo
// applications to completion before shutting the cluster down.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"github.com/tablekernel/piccolo/examples/kmeans"
	"github.com/tablekernel/piccolo/examples/matmul"
	"github.com/tablekernel/piccolo/internal/config"
	"github.com/tablekernel/piccolo/internal/logutil"
	"github.com/tablekernel/piccolo/internal/master"
	"github.com/tablekernel/piccolo/internal/transport"
	"go.uber.org/zap"
)

func main() {
	var (
		configPath  string
		app         string
		rounds      int
		grid        int
		numPoints   int
		numDists    int
		waitTimeout time.Duration
	)

	root := &cobra.Command{
		Use:   "piccolo-master",
		Short: "Run the piccolo cluster controller",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if err := logutil.Init(cfg.LogLevel); err != nil {
				return err
			}

			addrs := cfg.Addrs()
			tr, err := transport.NewGrpcTransport(masterRank, addrs)
			if err != nil {
				return err
			}
			defer tr.Close()

			m := master.New(cfg, tr)
			log.Info("waiting for workers", zap.Int("expected", cfg.NumWorkers))
			if err := m.WaitForWorkers(waitTimeout); err != nil {
				return err
			}
			log.Info("all workers registered, dispatching", zap.String("app", app))

			switch app {
			case "matmul":
				matmul.Grid = grid
				if err := runMatmul(m); err != nil {
					return err
				}
			case "kmeans":
				kmeans.NumPoints = numPoints
				kmeans.NumDistributions = numDists
				if err := runKMeans(m, rounds); err != nil {
					return err
				}
			default:
				return fmt.Errorf("unknown --app %q (want matmul or kmeans)", app)
			}

			log.Info("run complete, shutting cluster down")
			return m.Shutdown()
		},
	}

	root.Flags().StringVarP(&configPath, "config", "c", "", "path to a TOML config file")
	root.Flags().StringVar(&app, "app", "matmul", "demo application to run: matmul or kmeans")
	root.Flags().IntVar(&rounds, "rounds", 5, "kmeans expectation/maximization rounds")
	root.Flags().IntVar(&grid, "grid", matmul.Grid, "matmul block-grid dimension")
	root.Flags().IntVar(&numPoints, "num-points", kmeans.NumPoints, "kmeans point count")
	root.Flags().IntVar(&numDists, "num-dists", kmeans.NumDistributions, "kmeans cluster count")
	root.Flags().DurationVar(&waitTimeout, "wait-timeout", 60*time.Second, "how long to wait for workers to register")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// masterRank is fixed at rank 0, matching internal/worker.MasterRank.
const masterRank = 0

func runMatmul(m *master.Master) error {
	if err := m.RunAll("MatrixMultiplication", "Initialize", matmul.TableA); err != nil {
		return err
	}
	return m.RunAll("MatrixMultiplication", "Multiply", matmul.TableA)
}

func runKMeans(m *master.Master, rounds int) error {
	if err := m.RunOne("KMeans", "InitializeWorld", kmeans.TablePoints, 0); err != nil {
		return err
	}
	for i := 0; i < rounds; i++ {
		steps := []string{"InitializeExpectation", "ComputeExpectation", "ResetDistributions", "ComputeMaximization"}
		for _, method := range steps {
			if err := m.RunAll("KMeans", method, kmeans.TablePoints); err != nil {
				return err
			}
		}
		log.Info("kmeans round complete", zap.Int("round", i+1))
	}
	return m.RunAll("KMeans", "PrintResults", kmeans.TablePoints)
}
