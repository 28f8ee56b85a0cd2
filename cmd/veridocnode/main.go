package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.veridoc.io/veridoc/log"
	"go.veridoc.io/veridoc/service"
)

func loadConfig() (*service.Config, error) {
	cfg := &service.Config{}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("cannot get user home directory: %w", err)
	}

	flag.StringVarP(&cfg.DataDir, "dataDir", "d", home+"/.veridoc",
		"directory where data and config files are stored")
	cfg.LogLevel = *flag.StringP("logLevel", "l", "info",
		"log level (debug, info, warn, error)")
	cfg.LogOutput = *flag.String("logOutput", "stdout",
		"log output (stdout, stderr or filepath)")
	cfg.ListenAddr = *flag.String("listen", "127.0.0.1:9090",
		"local API listen address")
	cfg.RegistryURL = *flag.String("registryUrl", "https://registry.veridoc.io",
		"base URL of the remote registry service")
	cfg.RelayURL = *flag.String("relayUrl", "wss://relay.veridoc.io",
		"base URL of the session relay")
	cfg.RootsFile = *flag.String("rootsFile", "",
		"JSON file with the trusted certificate authorities")
	cfg.SecretFile = *flag.String("secretFile", "",
		"file holding the identity secret")
	cfg.Workers = *flag.Int("workers", 4,
		"number of concurrent registration refresh workers")
	saveConfig := *flag.Bool("saveConfig", false,
		"overwrite the config file with the current CLI flags")

	flag.CommandLine.SortFlags = false
	flag.Parse()

	v := viper.New()
	v.SetConfigName("veridoc")
	v.SetConfigType("yml")
	v.SetEnvPrefix("VERIDOC")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.BindPFlag("dataDir", flag.Lookup("dataDir"))
	cfg.DataDir = filepath.Clean(v.GetString("dataDir"))
	v.AddConfigPath(cfg.DataDir)

	v.BindPFlag("logLevel", flag.Lookup("logLevel"))
	v.BindPFlag("logOutput", flag.Lookup("logOutput"))
	v.BindPFlag("listen", flag.Lookup("listen"))
	v.BindPFlag("registryUrl", flag.Lookup("registryUrl"))
	v.BindPFlag("relayUrl", flag.Lookup("relayUrl"))
	v.BindPFlag("rootsFile", flag.Lookup("rootsFile"))
	v.BindPFlag("secretFile", flag.Lookup("secretFile"))
	v.BindPFlag("workers", flag.Lookup("workers"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("cannot read config file: %w", err)
		}
		if err := os.MkdirAll(cfg.DataDir, os.ModePerm); err != nil {
			return nil, err
		}
		if err := v.SafeWriteConfig(); err != nil {
			return nil, fmt.Errorf("cannot write config file: %w", err)
		}
	} else if saveConfig {
		if err := v.WriteConfig(); err != nil {
			return nil, fmt.Errorf("cannot overwrite config file: %w", err)
		}
	}

	cfg.LogLevel = v.GetString("logLevel")
	cfg.LogOutput = v.GetString("logOutput")
	cfg.ListenAddr = v.GetString("listen")
	cfg.RegistryURL = v.GetString("registryUrl")
	cfg.RelayURL = v.GetString("relayUrl")
	cfg.RootsFile = v.GetString("rootsFile")
	cfg.SecretFile = v.GetString("secretFile")
	cfg.Workers = v.GetInt("workers")
	return cfg, nil
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	log.Init(cfg.LogLevel, cfg.LogOutput)
	log.Infow("starting veridoc node", "dataDir", cfg.DataDir,
		"registry", cfg.RegistryURL, "relay", cfg.RelayURL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	node, err := service.New(ctx, *cfg)
	if err != nil {
		log.Fatalf("cannot start node: %v", err)
	}
	node.Start()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := node.Close(shutdownCtx); err != nil {
		log.Warnw("shutdown error", "error", err)
	}
}
