// Package main 评测服务入口
//
// 同一进程内运行 HTTP API 和运行处理器。
// 配置了 etcd 时，只有持有单实例锁的进程才会处理 Run，其余进程只提供 API。
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"agents-eval/internal/apiserver/auth"
	"agents-eval/internal/apiserver/server"
	"agents-eval/internal/app"
	"agents-eval/internal/config"
	"agents-eval/internal/processor"
	"agents-eval/internal/shared/infra"
	"agents-eval/internal/shared/instancelock"
)

func main() {
	// 加载配置（自动加载 .env，根据 APP_ENV 选择 YAML）
	cfg := config.Load()
	logger := app.NewLogger(cfg, "eval-server")

	log.Printf("Starting eval server... [env=%s]", cfg.Env)
	log.Printf("Config: %s", cfg.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inf, err := infra.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open infrastructure: %v", err)
	}
	defer inf.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a, err := app.New(cfg, inf, logger, app.Options{Registerer: reg})
	if err != nil {
		log.Fatalf("Failed to assemble pipeline: %v", err)
	}

	proc := a.NewProcessor(processor.Config{})
	procDone := make(chan struct{})
	go func() {
		defer close(procDone)
		runProcessor(ctx, inf.Locker, proc)
	}()

	authCfg := auth.DefaultConfig()
	authCfg.JWTSecret = cfg.Auth.JWTSecret
	if cfg.Auth.Issuer != "" {
		authCfg.Issuer = cfg.Auth.Issuer
	}
	if !authCfg.Enabled() {
		log.Println("JWT_SECRET not set, API authentication disabled")
	}

	h := server.NewHandler(server.Deps{
		Runs:       a.Runs,
		Evaluators: a.Evaluators,
		EventBus:   inf.EventBus,
		Auth:       authCfg,
		Config:     cfg,
		Registerer: reg,
		Gatherer:   reg,
		Logger:     logger,
	})

	srv := &http.Server{
		Addr:        ":" + cfg.APIPort,
		Handler:     h.Router(),
		ReadTimeout: 15 * time.Second,
		// WebSocket 长连接不设置 WriteTimeout，写超时由网关逐条设置
		IdleTimeout: 60 * time.Second,
	}

	// 优雅关闭：先停 HTTP，再等待执行中的 Run 结束
	idle := make(chan struct{})
	go func() {
		defer close(idle)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("Eval server listening on :%s", cfg.APIPort)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server error: %v", err)
	}
	<-idle

	cancel()
	<-procDone
	log.Println("Server stopped")
}

// runProcessor 获取单实例锁后启动处理器，锁丢失时停止处理并重新竞争
//
// ctx 取消后先等执行中的 Run 结束再释放锁，避免其他实例提前接手。
func runProcessor(ctx context.Context, locker instancelock.Locker, proc *processor.Processor) {
	for {
		lease, err := locker.Acquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("[processor.lock.failed] error=%v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		proc.Start(ctx)

		select {
		case <-ctx.Done():
			proc.Stop()
			if err := lease.Release(); err != nil {
				log.Printf("[processor.lock.release.failed] error=%v", err)
			}
			return
		case <-lease.Done():
			log.Println("[processor.lock.lost] stopping processor")
			proc.Stop()
		}
	}
}
