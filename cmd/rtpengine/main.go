// Команда rtpengine запускает медиа движок с метриками Prometheus.
//
// Управление каналами выполняется встраивающим приложением через пакет
// channel, команда только поднимает движок и endpoint метрик.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/arzzra/rtpengine/pkg/channel"
	"github.com/arzzra/rtpengine/pkg/codec"
	"github.com/arzzra/rtpengine/pkg/config"
	"github.com/arzzra/rtpengine/pkg/dtmf"
	"github.com/arzzra/rtpengine/pkg/jitter"
	"github.com/arzzra/rtpengine/pkg/metrics"
	"github.com/arzzra/rtpengine/pkg/rtp"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	log := logger.WithField("component", "main")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mc := metrics.DefaultConfig()
	mc.Enabled = cfg.Metrics.Enabled
	collector := metrics.NewCollector(mc, reg)

	engine, err := channel.NewEngine(engineConfig(cfg),
		channel.WithLogger(logger.WithField("component", "engine")),
		channel.WithMetrics(collector),
	)
	if err != nil {
		return err
	}
	if err := engine.Start(ctx); err != nil {
		return err
	}

	var srv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		go func() {
			log.WithField("addr", cfg.Metrics.Listen).Info("Метрики доступны")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("Ошибка HTTP сервера метрик")
				cancel()
			}
		}()
	}

	log.WithFields(logrus.Fields{
		"bind":  cfg.Engine.BindAddress,
		"ports": fmt.Sprintf("%d-%d", cfg.Engine.PortMin, cfg.Engine.PortMax),
	}).Info("Медиа движок запущен")

	<-ctx.Done()
	log.Info("Остановка")

	if srv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("Принудительная остановка сервера метрик")
		}
	}
	return engine.Close()
}

func newLogger(cfg config.LogConfig) (*logrus.Logger, error) {
	logger := logrus.New()
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("неизвестный уровень логов %q: %w", cfg.Level, err)
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger, nil
}

func engineConfig(cfg *config.Config) channel.EngineConfig {
	ec := channel.DefaultEngineConfig()
	ec.BindAddress = cfg.Engine.BindAddress
	ec.PublicAddress = cfg.Engine.PublicAddress
	ec.Ports = rtp.PortRange{Min: cfg.Engine.PortMin, Max: cfg.Engine.PortMax}
	ec.IdleTimeout = cfg.Engine.IdleTimeout
	ec.TickInterval = cfg.Engine.TickInterval
	ec.Socket = rtp.SocketOptions{
		RecvBuffer: cfg.Socket.RecvBuffer,
		SendBuffer: cfg.Socket.SendBuffer,
		DSCP:       cfg.Socket.DSCP,
	}
	ec.Jitter = jitter.Config{
		Window:      cfg.Jitter.Window,
		SkipAfter:   cfg.Jitter.SkipAfter,
		MaxWait:     cfg.Jitter.MaxWait,
		HighWater:   cfg.Jitter.HighWater,
		ResyncAfter: cfg.Jitter.ResyncAfter,
		MaxPayload:  cfg.Jitter.MaxPayload,
		ClockRate:   codec.SampleRate,
	}
	ec.DTMF = dtmf.GeneratorConfig{
		ToneDuration: cfg.DTMF.ToneDuration,
		Volume:       cfg.DTMF.Volume,
		PauseTicks:   cfg.DTMF.PauseTicks,
		ClockRate:    codec.SampleRate,
	}
	ec.DTMFPayloadType = codec.PayloadType(cfg.DTMF.PayloadType)
	ec.MP3Command = cfg.Recorder.MP3Command
	return ec
}
