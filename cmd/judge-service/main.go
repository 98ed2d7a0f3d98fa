package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	commonmw "fujudge/internal/common/http/middleware"
	"fujudge/internal/judge/app"
	"fujudge/internal/judge/config"
	"fujudge/internal/judge/controller"
	appErr "fujudge/pkg/errors"
	"fujudge/pkg/utils/logger"
	"fujudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/judge_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	judgeApp, err := app.New(context.Background(), appCfg)
	if err != nil {
		logger.Error(context.Background(), "init judge service failed", zap.Error(err))
		return
	}
	defer func() {
		if err := judgeApp.Close(); err != nil {
			logger.Warn(context.Background(), "close judge clients failed", zap.Error(err))
		}
	}()

	opts := []controller.Option{controller.WithCheckerLoader(judgeApp.LoadChecker)}
	if judgeApp.Compiler != nil {
		opts = append(opts, controller.WithCompiler(judgeApp.Compiler))
	}
	judgeController := controller.NewJudgeController(judgeApp.Service, appCfg.Judge.WorkRoot, opts...)
	httpServer := buildHTTPServer(appCfg, judgeController, judgeApp)

	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "judge http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), appCfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
	judgeController.Wait()
}

func buildHTTPServer(cfg *config.Config, judgeController *controller.JudgeController, judgeApp *app.App) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		if err := judgeApp.Ping(c.Request.Context()); err != nil {
			response.ErrorWithCode(c, appErr.ServiceUnavailable, err.Error())
			return
		}
		c.Status(http.StatusOK)
	})
	judgeController.RegisterRoutes(router.Group("/api/v1/judge"))
	if metrics := judgeApp.MetricsHandler(); metrics != nil {
		router.GET(cfg.Metrics.Path, gin.WrapH(metrics))
	}

	return &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
