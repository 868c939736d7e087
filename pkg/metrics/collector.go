// Package metrics экспортирует метрики медиа движка в Prometheus.
//
// Collector безопасен для вызова с nil получателем и в выключенном состоянии,
// поэтому горячий путь тика не проверяет наличие метрик.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config конфигурация метрик
type Config struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
	Subsystem string `mapstructure:"subsystem"`
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Namespace: "rtpengine",
		Subsystem: "channel",
	}
}

// Collector собирает метрики каналов
type Collector struct {
	channelsOpened prometheus.Counter
	channelsActive prometheus.Gauge
	channelsClosed *prometheus.CounterVec
	packetsIn      *prometheus.CounterVec
	packetsOut     prometheus.Counter
	mos            prometheus.Histogram
	tickDuration   prometheus.Histogram
	tickOverruns   prometheus.Counter

	// Счетчики для внутренней диагностики
	active  int64
	enabled bool
}

// NewCollector регистрирует метрики в reg. Для reg=nil используется
// prometheus.DefaultRegisterer.
func NewCollector(config Config, reg prometheus.Registerer) *Collector {
	if !config.Enabled {
		return &Collector{enabled: false}
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)
	c := &Collector{enabled: true}

	c.channelsOpened = factory.NewCounter(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Subsystem: config.Subsystem,
		Name:      "opened_total",
		Help:      "Общее количество открытых каналов",
	})

	c.channelsActive = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: config.Namespace,
		Subsystem: config.Subsystem,
		Name:      "active",
		Help:      "Количество активных каналов",
	})

	c.channelsClosed = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Subsystem: config.Subsystem,
		Name:      "closed_total",
		Help:      "Закрытые каналы по причине",
	}, []string{"reason"})

	c.packetsIn = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Subsystem: config.Subsystem,
		Name:      "packets_in_total",
		Help:      "Входящие RTP пакеты по результату допуска",
	}, []string{"verdict"})

	c.packetsOut = factory.NewCounter(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Subsystem: config.Subsystem,
		Name:      "packets_out_total",
		Help:      "Отправленные RTP пакеты",
	})

	c.mos = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: config.Namespace,
		Subsystem: config.Subsystem,
		Name:      "mos",
		Help:      "Оценка MOS закрытых каналов",
		Buckets:   []float64{1, 2, 2.5, 3, 3.5, 4, 4.2, 4.4, 4.5},
	})

	c.tickDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Namespace: config.Namespace,
		Subsystem: "engine",
		Name:      "tick_duration_seconds",
		Help:      "Длительность обработки тика",
		Buckets:   []float64{.0001, .0005, .001, .002, .005, .01, .02, .05},
	})

	c.tickOverruns = factory.NewCounter(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Subsystem: "engine",
		Name:      "tick_overruns_total",
		Help:      "Тики, не уложившиеся в 20 мс",
	})

	return c
}

func (c *Collector) on() bool {
	return c != nil && c.enabled
}

// ChannelOpened уведомляет об открытии канала
func (c *Collector) ChannelOpened() {
	if !c.on() {
		return
	}
	c.channelsOpened.Inc()
	c.channelsActive.Inc()
	atomic.AddInt64(&c.active, 1)
}

// ChannelClosed уведомляет о закрытии канала с итоговым MOS
func (c *Collector) ChannelClosed(reason string, mos float64) {
	if !c.on() {
		return
	}
	c.channelsActive.Dec()
	c.channelsClosed.WithLabelValues(reason).Inc()
	c.mos.Observe(mos)
	atomic.AddInt64(&c.active, -1)
}

// PacketIn учитывает входящий пакет с результатом допуска
func (c *Collector) PacketIn(verdict string) {
	if !c.on() {
		return
	}
	c.packetsIn.WithLabelValues(verdict).Inc()
}

// PacketOut учитывает отправленный пакет
func (c *Collector) PacketOut() {
	if !c.on() {
		return
	}
	c.packetsOut.Inc()
}

// Tick учитывает длительность обработки тика
func (c *Collector) Tick(d, budget time.Duration) {
	if !c.on() {
		return
	}
	c.tickDuration.Observe(d.Seconds())
	if d > budget {
		c.tickOverruns.Inc()
	}
}

// Active возвращает количество активных каналов
func (c *Collector) Active() int64 {
	if !c.on() {
		return 0
	}
	return atomic.LoadInt64(&c.active)
}
