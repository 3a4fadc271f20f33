package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chaos-io/rembg/cache"
	"github.com/chaos-io/rembg/composite"
	"github.com/chaos-io/rembg/config"
	"github.com/chaos-io/rembg/pipeline"
	"github.com/chaos-io/rembg/server"
	"github.com/chaos-io/rembg/session"
	"github.com/chaos-io/rembg/util"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("config", "", "configuration file (yaml)")
	inputPath := flag.String("in", "", "input image")
	outputPath := flag.String("out", "output/out.png", "output png")
	background := flag.String("background", "transparent", "transparent, #rrggbb or r,g,b")
	feather := flag.Int("feather", 0, "edge feather radius in pixels")
	soft := flag.Bool("soft", false, "keep soft alpha when not feathering")
	serve := flag.Bool("serve", false, "run the http server")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	if err := util.InitLogger(cfg.Server.Mode, "rembg"); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer util.Sync()

	codec, err := cfg.Codec()
	if err != nil {
		util.Logger.Fatal("invalid model config", zap.Error(err))
	}
	mgr := session.NewManager(cfg.Runtime(util.Logger), cfg.IOSpec(codec), util.Logger)
	defer mgr.Unload()

	p := pipeline.New(cfg.PipelineConfig(), codec, mgr, util.Logger)
	defer p.Close()

	if *serve {
		runServer(cfg, p)
		return
	}

	if *inputPath == "" {
		flag.Usage()
		os.Exit(2)
	}
	if err := runOnce(p, *inputPath, *outputPath, *background, *feather, *soft); err != nil {
		util.Logger.Error("failed to remove background", zap.String("in", *inputPath), zap.Error(err))
		util.Sync()
		os.Exit(1)
	}
}

func runOnce(p *pipeline.Pipeline, in, out, background string, feather int, soft bool) error {
	bg, err := composite.ParseBackground(background)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(in)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	png, res, err := p.RemoveBackgroundBytes(context.Background(), data, pipeline.Options{
		Background:    bg,
		FeatherRadius: feather,
		SoftAlpha:     soft,
	})
	if err != nil {
		return err
	}
	if err := util.WriteFile(out, png); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	util.Logger.Info("done",
		zap.String("request_id", res.RequestID),
		zap.String("out", out),
		zap.Duration("cost", res.Elapsed))
	return nil
}

func runServer(cfg *config.AppConfig, p *pipeline.Pipeline) {
	util.Logger.Info("starting rembg server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit))

	// 初始化Redis, 连接失败时禁用缓存
	var rc server.ResultCache
	if cfg.Redis.Addr != "" {
		redisCache := cache.NewResultCache(cache.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
		}, util.Logger)
		defer redisCache.Close()
		if err := redisCache.Ping(context.Background()); err != nil {
			util.Logger.Warn("redis connection failed, cache disabled", zap.Error(err))
		} else {
			util.Logger.Info("redis connected successfully")
			rc = redisCache
		}
	}

	reporter, err := server.StartStatsReporter(cfg.Server.Stats, p)
	if err != nil {
		util.Logger.Fatal("invalid stats schedule", zap.String("spec", cfg.Server.Stats), zap.Error(err))
	}
	if reporter != nil {
		defer reporter.Stop()
	}

	gin.SetMode(cfg.Server.Mode)
	r := server.New(server.NewHandler(p, rc), server.BuildInfo{
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
	})

	errCh := make(chan error, 1)
	go func() {
		util.Logger.Info("server starting", zap.String("port", cfg.Server.Port))
		errCh <- r.Run(cfg.Server.Port)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		util.Logger.Error("server stopped", zap.Error(err))
	case sig := <-quit:
		util.Logger.Info("shutting down", zap.String("signal", sig.String()))
	}
}
