// Package main is the signal pipeline's entry point. It wires every phase
// together via internal/orchestrator, exposes the Prometheus metrics surface
// over HTTP, and runs until an interrupt or terminate signal arrives.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atlas-desktop/signal-pipeline/internal/notify"
	"github.com/atlas-desktop/signal-pipeline/internal/orchestrator"
	"github.com/atlas-desktop/signal-pipeline/pkg/types"
)

func main() {
	symbols := flag.String("symbols", "BTCUSD,ETHUSD,SOLUSD", "Comma-separated symbols to track")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics listen address")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	symbolList := strings.Split(*symbols, ",")
	logger.Info("starting signal pipeline",
		zap.Strings("symbols", symbolList),
		zap.String("metricsAddr", *metricsAddr),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	promReg := prometheus.NewRegistry()
	config := orchestrator.DefaultConfig(symbolList, []types.Timeframe{
		types.Timeframe1m, types.Timeframe5m, types.Timeframe15m,
	})

	// No sink integration is wired in by default; an operator embedding this
	// binary replaces this with a real delivery mechanism (chat bot, webhook,
	// email). This one just logs, which is enough to observe P4 behavior.
	sink := notify.SinkFunc(func(dispatchCtx context.Context, envelope notify.Envelope) (notify.Outcome, error) {
		logger.Info("notification dispatched",
			zap.String("subject", envelope.Subject),
			zap.String("symbol", envelope.Body.Symbol),
			zap.String("direction", envelope.Body.Direction),
			zap.Float64("confidence", envelope.Body.Confidence),
		)
		return notify.Ok, nil
	})

	// No exchange connectors are wired in here: the pipeline has no compiled
	// dependency on a live exchange. A real deployment passes its own
	// exchange.Connector implementations; this binary runs the full P1-P5
	// wiring against whatever ticks IngestTick is fed.
	pipeline := orchestrator.New(logger, nil, sink, promReg, config)
	if err := pipeline.Start(ctx); err != nil {
		logger.Fatal("failed to start pipeline", zap.Error(err))
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	metricsServer := &http.Server{Addr: *metricsAddr, Handler: mux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down metrics server", zap.Error(err))
	}

	cancel()
	pipeline.Stop()
	logger.Info("signal pipeline stopped")
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
