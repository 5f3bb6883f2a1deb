package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/nci/stacomp/metrics"
	"github.com/nci/stacomp/utils"
	"github.com/nci/stacomp/worker/compositor"
	"go.uber.org/zap"
)

func main() {
	addr := flag.String("l", "", "gRPC listening address, defaults to the configured listen_address.")
	poolSize := flag.Int("n", 0, "Maximum number of jobs handled concurrently.")
	confDir := flag.String("conf_dir", utils.EtcDir, "Configuration directory.")
	outDir := flag.String("out", "", "Output directory, defaults to the configured output_dir.")
	debug := flag.Bool("debug", false, "verbose logging")
	flag.Parse()

	logger, err := utils.NewLogger(*debug)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	utils.EtcDir = *confDir
	configs, err := utils.LoadAllConfigFiles(utils.EtcDir, logger)
	if err != nil {
		logger.Fatal("Error in loading config files", zap.Error(err))
	}
	store := utils.NewConfigStore(configs)
	utils.WatchConfig(logger, store)

	svc := utils.DefaultConfig().ServiceConfig
	if c, ok := store.Get(""); ok {
		svc = c.ServiceConfig
	}
	if len(*addr) == 0 {
		*addr = svc.ListenAddress
	}
	if *poolSize <= 0 {
		*poolSize = svc.MaxConcurrentRequests
	}
	if len(*outDir) == 0 {
		*outDir = svc.OutputDir
	}

	var metricsLogger metrics.Logger = metrics.NewStdoutLogger(logger)
	if len(svc.MetricsLogDir) > 0 {
		fileLogger := metrics.NewFileLogger(svc.MetricsLogDir, 0, 0, *debug, logger)
		defer fileLogger.Close()
		metricsLogger = fileLogger
	}

	utils.InitGdal()
	runner := compositor.NewRunner(store, *outDir, metricsLogger, logger)
	pool := compositor.CreateWorkerPool(*poolSize, runner, logger)
	defer pool.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	s := compositor.NewGRPCServer(compositor.NewServer(pool, logger), svc.MaxGrpcRecvMsgSize)
	if err := compositor.ListenAndServe(ctx, *addr, s, logger); err != nil {
		logger.Error("failed to serve", zap.Error(err))
		os.Exit(1)
	}
}
