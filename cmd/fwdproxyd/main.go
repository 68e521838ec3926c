package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	fwdproxy "github.com/grolleau/fwdproxy"
)

func main() {
	var logLevel uint32

	cmd := &cobra.Command{
		Use:   "fwdproxyd [config]",
		Short: "A filtering forward HTTP proxy",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := "conf/proxy.config"
			if len(args) == 1 {
				configPath = args[0]
			}
			return run(configPath, logLevel)
		},
	}
	cmd.Flags().Uint32VarP(&logLevel, "log-level", "l", uint32(logrus.InfoLevel), "log level, uses logrus levels")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string, logLevel uint32) error {
	cfg, err := loadFileConfig(configPath)
	if err != nil {
		return err
	}

	logger, err := fwdproxy.InitLogger(cfg.LoggerFile)
	if err != nil {
		return err
	}
	logger.SetLevel(logrus.Level(logLevel))

	for _, key := range cfg.UnknownKeys {
		fwdproxy.Log.WithField("key", key).Warn("unknown config key")
	}

	if cfg.SyslogAddress != "" {
		network := cfg.SyslogNetwork
		if network == "" {
			network = "udp"
		}
		if err := fwdproxy.AttachSyslog(logger, network, cfg.SyslogAddress, "fwdproxyd"); err != nil {
			fwdproxy.Log.WithError(err).Warn("failed to attach syslog hook")
		}
	}

	rules, err := fwdproxy.LoadRules(cfg.RulesFile)
	if err != nil {
		return err
	}

	backend := buildCacheBackend(cfg)
	cache := fwdproxy.NewResolverCache(backend)

	eng, err := fwdproxy.NewEngine(fwdproxy.Config{
		Address:    cfg.Address,
		Port:       cfg.Port,
		MaxClients: cfg.MaxClient,
	}, rules, cache)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		fwdproxy.Log.Info("shutting down")
		cancel()
	}()

	fwdproxy.Log.WithFields(map[string]interface{}{
		"address": cfg.Address,
		"port":    cfg.Port,
	}).Info("starting proxy")

	return eng.Run(ctx)
}

func buildCacheBackend(cfg fileConfig) fwdproxy.CacheBackend {
	if cfg.ResolverCacheBackend != "redis" {
		return fwdproxy.NewMemoryBackend()
	}
	return fwdproxy.NewRedisBackend(fwdproxy.RedisBackendOptions{
		Address: cfg.ResolverCacheRedis,
	})
}
