package main

import (
	"github.com/nci/stacomp/metrics"
	"github.com/nci/stacomp/worker/compositor"
	"github.com/spf13/cobra"
)

var (
	listenAddr string
	poolSize   int
	outDir     string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve compositing jobs over gRPC",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := config().ServiceConfig
		if len(listenAddr) == 0 {
			listenAddr = svc.ListenAddress
		}
		if poolSize <= 0 {
			poolSize = svc.MaxConcurrentRequests
		}
		if len(outDir) == 0 {
			outDir = svc.OutputDir
		}

		var metricsLogger metrics.Logger = metrics.NewStdoutLogger(logger)
		if len(svc.MetricsLogDir) > 0 {
			fileLogger := metrics.NewFileLogger(svc.MetricsLogDir, 0, 0, verbose, logger)
			defer fileLogger.Close()
			metricsLogger = fileLogger
		}

		runner := compositor.NewRunner(configs, outDir, metricsLogger, logger)
		pool := compositor.CreateWorkerPool(poolSize, runner, logger)
		defer pool.Close()

		s := compositor.NewGRPCServer(compositor.NewServer(pool, logger), svc.MaxGrpcRecvMsgSize)
		return compositor.ListenAndServe(cmd.Context(), listenAddr, s, logger)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "gRPC listening address, the configured listen_address when empty")
	serveCmd.Flags().IntVarP(&poolSize, "workers", "n", 0, "maximum number of jobs handled concurrently")
	serveCmd.Flags().StringVar(&outDir, "out", "", "output directory, the configured output_dir when empty")
}
