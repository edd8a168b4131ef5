package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ratebook/internal/config"
	"ratebook/internal/server"
)

var (
	port       = flag.Int("port", 0, "服务端口 (config.toml 优先；仅当未显式配置 port 时生效)")
	devMode    = flag.Bool("dev", false, "开发模式")
	dataDir    = flag.String("dataDir", "", "数据目录 (覆盖配置文件)")
	configPath = flag.String("config", "", "配置文件路径 (默认为可执行文件同目录的 config.toml)")
)

func main() {
	flag.Parse()

	cfg, info, err := loadConfig()
	if err != nil {
		log.Warn().Err(err).Msg("加载配置失败，使用默认配置")
		cfg = config.DefaultConfig()
		info = config.LoadConfigInfo{}
	}

	// 命令行参数覆盖配置
	if *port > 0 && !info.PortSpecified {
		cfg.Server.Port = *port
	}
	if *devMode {
		cfg.Server.DevMode = true
	}
	if *dataDir != "" {
		cfg.Data.DataDir = *dataDir
	}

	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.Server.DevMode {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := server.NewServer(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("服务初始化失败")
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	go func() {
		log.Info().Str("addr", addr).Str("config", info.Path).Msg("服务启动")
		if err := srv.Run(addr); err != nil {
			log.Error().Err(err).Msg("服务启动失败")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("正在关闭服务...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("关闭服务失败")
		os.Exit(1)
	}
}

func loadConfig() (*config.AppConfig, config.LoadConfigInfo, error) {
	if *configPath != "" {
		return config.LoadFrom(*configPath)
	}
	return config.LoadConfigWithInfo()
}
