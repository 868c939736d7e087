// Package config загружает конфигурацию движка из YAML файла и переменных окружения.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/arzzra/rtpengine/pkg/rtp"
)

// EnvPrefix префикс переменных окружения: RTPENGINE_ENGINE_PORT_MIN и т.д.
const EnvPrefix = "RTPENGINE"

// Config конфигурация движка, собранная из файла, окружения и значений по умолчанию
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Socket   SocketConfig   `mapstructure:"socket"`
	Jitter   JitterConfig   `mapstructure:"jitter"`
	DTMF     DTMFConfig     `mapstructure:"dtmf"`
	Recorder RecorderConfig `mapstructure:"recorder"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// LogConfig параметры logrus
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text | json
}

// EngineConfig сетевые параметры и тайминги движка.
// Порты каналов выделяются из диапазона [PortMin, PortMax].
type EngineConfig struct {
	BindAddress   string        `mapstructure:"bind_address"`
	PublicAddress string        `mapstructure:"public_address"`
	PortMin       int           `mapstructure:"port_min"`
	PortMax       int           `mapstructure:"port_max"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	TickInterval  time.Duration `mapstructure:"tick_interval"`
}

// SocketConfig опции UDP сокета. Нулевое значение оставляет настройку ОС.
type SocketConfig struct {
	RecvBuffer int `mapstructure:"recv_buffer"`
	SendBuffer int `mapstructure:"send_buffer"`
	DSCP       int `mapstructure:"dscp"`
}

// JitterConfig параметры jitter буфера, размеры в пакетах и тиках
type JitterConfig struct {
	Window      int `mapstructure:"window"`
	SkipAfter   int `mapstructure:"skip_after"`
	MaxWait     int `mapstructure:"max_wait"`
	HighWater   int `mapstructure:"high_water"`
	ResyncAfter int `mapstructure:"resync_after"`
	MaxPayload  int `mapstructure:"max_payload"`
}

// DTMFConfig параметры исходящих RFC 4733 событий
type DTMFConfig struct {
	PayloadType  uint8         `mapstructure:"payload_type"`
	ToneDuration time.Duration `mapstructure:"tone_duration"`
	Volume       uint8         `mapstructure:"volume"`
	PauseTicks   int           `mapstructure:"pause_ticks"`
}

// RecorderConfig параметры записи
type RecorderConfig struct {
	MP3Command string `mapstructure:"mp3_command"`
}

// MetricsConfig HTTP эндпоинт Prometheus
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("engine.bind_address", "0.0.0.0")
	v.SetDefault("engine.public_address", "")
	v.SetDefault("engine.port_min", 10000)
	v.SetDefault("engine.port_max", 20000)
	v.SetDefault("engine.idle_timeout", "20s")
	v.SetDefault("engine.tick_interval", "20ms")

	v.SetDefault("socket.recv_buffer", 65535)
	v.SetDefault("socket.send_buffer", 65535)
	v.SetDefault("socket.dscp", 46)

	v.SetDefault("jitter.window", 20)
	v.SetDefault("jitter.skip_after", 6)
	v.SetDefault("jitter.max_wait", 10)
	v.SetDefault("jitter.high_water", 10)
	v.SetDefault("jitter.resync_after", 10)
	v.SetDefault("jitter.max_payload", rtp.MaxPayloadSize)

	v.SetDefault("dtmf.payload_type", 101)
	v.SetDefault("dtmf.tone_duration", "100ms")
	v.SetDefault("dtmf.volume", 10)
	v.SetDefault("dtmf.pause_ticks", 2)

	v.SetDefault("recorder.mp3_command", "lame")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen", ":9100")
	v.SetDefault("metrics.path", "/metrics")
}

// Load читает конфигурацию. Если path пуст, файл rtpengine.yaml ищется в
// текущем каталоге и ./config, его отсутствие не является ошибкой.
// Переменные окружения с префиксом RTPENGINE перекрывают значения файла.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("rtpengine")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("ошибка чтения конфигурации: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора конфигурации: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет конфигурацию
func (c *Config) Validate() error {
	if err := rtp.ValidatePortRange(rtp.PortRange{Min: c.Engine.PortMin, Max: c.Engine.PortMax}); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	if c.Engine.IdleTimeout <= 0 {
		return fmt.Errorf("engine.idle_timeout должен быть положительным")
	}
	if c.Engine.TickInterval <= 0 {
		return fmt.Errorf("engine.tick_interval должен быть положительным")
	}
	if c.DTMF.PayloadType < 96 || c.DTMF.PayloadType > 127 {
		return fmt.Errorf("dtmf.payload_type должен быть динамическим (96-127): %d", c.DTMF.PayloadType)
	}
	if c.Jitter.MaxPayload > rtp.MaxDatagramSize-rtp.HeaderSize {
		return fmt.Errorf("jitter.max_payload превышает размер датаграммы: %d", c.Jitter.MaxPayload)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("неизвестный формат логов: %s", c.Log.Format)
	}
	return nil
}
