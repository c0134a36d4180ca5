// Copyright (C) 2026 Datagate Authors.
// See LICENSE for copying information.

// datagate is the declarative data-service gateway daemon.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/datagate/datagate/gateway"
	"github.com/datagate/datagate/gateway/rdb"
	"github.com/datagate/datagate/gateway/web"
)

var (
	rootCmd = &cobra.Command{
		Use:   "datagate",
		Short: "declarative data-service gateway",
	}
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "serve the gateway",
		RunE:  cmdRun,
	}
	setupCmd = &cobra.Command{
		Use:   "setup",
		Short: "create the configuration directory",
		RunE:  cmdSetup,
	}

	confDir string
	devMode bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&confDir, "config-dir", defaultConfigDir(), "directory with datagate.yaml and the model files")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "development logging")
	rootCmd.AddCommand(runCmd, setupCmd)

	viper.SetEnvPrefix("DATAGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

func defaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".datagate"
	}
	return filepath.Join(home, ".datagate")
}

func openLog() (*zap.Logger, error) {
	if devMode {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func loadConfig() (gateway.Config, error) {
	viper.SetConfigName("datagate")
	viper.AddConfigPath(confDir)

	viper.SetDefault("model-dir", filepath.Join(confDir, "models"))
	viper.SetDefault("web.address", ":8080")
	viper.SetDefault("workers", 0)

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return gateway.Config{}, errs.Wrap(err)
		}
	}

	return gateway.Config{
		ModelDir: viper.GetString("model-dir"),
		CacheURL: viper.GetString("cache-url"),
		Workers:  viper.GetInt("workers"),
		Web: web.Config{
			Address:     viper.GetString("web.address"),
			TokenSecret: viper.GetString("web.token-secret"),
			AdminRole:   viper.GetString("web.admin-role"),
		},
		Executor: rdb.Config{
			DataPermission: viper.GetBool("executor.data-permission"),
			SnowflakeNode:  viper.GetInt64("executor.snowflake-node"),
		},
		Scheduler: gateway.SchedulerIdentity{
			UserID:   viper.GetString("scheduler.user-id"),
			UserName: viper.GetString("scheduler.user-name"),
			Roles:    viper.GetStringSlice("scheduler.roles"),
		},
	}, nil
}

func cmdRun(cmd *cobra.Command, args []string) error {
	log, err := openLog()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	config, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	peer, err := gateway.New(ctx, log, config, nil)
	if err != nil {
		return err
	}
	runErr := peer.Run(ctx)
	closeErr := peer.Close()
	return errs.Combine(runErr, closeErr)
}

func cmdSetup(cmd *cobra.Command, args []string) error {
	modelDir := filepath.Join(confDir, "models")
	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		return errs.Wrap(err)
	}
	configPath := filepath.Join(confDir, "datagate.yaml")
	if _, err := os.Stat(configPath); err == nil {
		return errs.New("%s already exists", configPath)
	}
	sample := "" +
		"model-dir: " + modelDir + "\n" +
		"cache-url: \"\"\n" +
		"workers: 0\n" +
		"web:\n" +
		"  address: :8080\n" +
		"  token-secret: \"\"\n" +
		"  admin-role: \"\"\n" +
		"executor:\n" +
		"  data-permission: false\n" +
		"  snowflake-node: 0\n" +
		"scheduler:\n" +
		"  user-id: \"\"\n" +
		"  user-name: \"\"\n" +
		"  roles: []\n"
	if err := os.WriteFile(configPath, []byte(sample), 0o644); err != nil {
		return errs.Wrap(err)
	}
	fmt.Println("wrote", configPath)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
