package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nci/stacomp/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	verbose   bool
	confDir   string
	envFile   string
	startTime time.Time

	logger  *zap.Logger
	configs *utils.ConfigStore
)

var rootCmd = &cobra.Command{
	Use:   "stac-composite",
	Short: "search, load and composite STAC imagery",
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		startTime = time.Now()
		var err error
		if logger, err = utils.NewLogger(verbose); err != nil {
			return fmt.Errorf("logger: %w", err)
		}

		if err := loadEnv(envFile); err != nil {
			return err
		}

		if len(confDir) > 0 {
			utils.EtcDir = confDir
			confMap, err := utils.LoadAllConfigFiles(utils.EtcDir, logger)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			configs = utils.NewConfigStore(confMap)
		} else {
			configs = utils.NewConfigStore(map[string]*utils.Config{"": utils.DefaultConfig()})
		}
		utils.InitGdal()
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, _ []string) {
		logger.Debug("command finished", zap.String("command", cmd.Name()),
			zap.Float64("seconds", time.Since(startTime).Seconds()))
		logger.Sync()
	},
}

// loadEnv reads KEY=value pairs such as AZURE_STORAGE_SAS_TOKEN. A
// missing default .env file is not an error.
func loadEnv(path string) error {
	if len(path) > 0 {
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("env file %s: %w", path, err)
		}
		return nil
	}
	if _, err := os.Stat(".env"); err == nil {
		return godotenv.Load(".env")
	}
	return nil
}

func config() *utils.Config {
	if c, ok := configs.Get(""); ok {
		return c
	}
	return utils.DefaultConfig()
}

func parseBBox(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("bbox must be west,south,east,north: %q", s)
	}
	out := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid bbox value %q: %v", p, err)
		}
		out[i] = v
	}
	return out, nil
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&confDir, "conf_dir", "", "configuration directory, built-in collection presets when empty")
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", ".env file with storage credentials, ./.env when present")
	rootCmd.AddCommand(searchCmd, compositeCmd, demCmd, serveCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
