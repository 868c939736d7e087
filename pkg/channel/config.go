package channel

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/arzzra/rtpengine/pkg/codec"
	"github.com/arzzra/rtpengine/pkg/dtmf"
	"github.com/arzzra/rtpengine/pkg/jitter"
	"github.com/arzzra/rtpengine/pkg/rtp"
)

// Remote удаленная сторона канала
type Remote struct {
	Address string            `json:"address" mapstructure:"address"`
	Port    int               `json:"port" mapstructure:"port"`
	Codec   codec.PayloadType `json:"codec" mapstructure:"codec"`
}

// IsZero сообщает, что удаленная сторона не задана
func (r Remote) IsZero() bool {
	return r.Address == "" && r.Port == 0
}

// resolve проверяет и разрешает адрес удаленной стороны
func (r Remote) resolve() (*net.UDPAddr, error) {
	if r.Port <= 0 || r.Port > 65535 {
		return nil, fmt.Errorf("недопустимый порт: %d", r.Port)
	}
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(r.Address, strconv.Itoa(r.Port)))
	if err != nil {
		return nil, fmt.Errorf("не удалось разрешить адрес %s: %w", r.Address, err)
	}
	return addr, nil
}

// Config параметры открытия канала
type Config struct {
	// ID идентификатор канала, при пустом значении генерируется UUID
	ID     string `json:"id,omitempty" mapstructure:"id"`
	Remote Remote `json:"target" mapstructure:"target"`
}

// EngineConfig параметры движка
type EngineConfig struct {
	BindAddress string
	// PublicAddress адрес для SDP, если отличается от BindAddress
	PublicAddress   string
	Ports           rtp.PortRange
	Socket          rtp.SocketOptions
	IdleTimeout     time.Duration
	TickInterval    time.Duration
	Jitter          jitter.Config
	DTMF            dtmf.GeneratorConfig
	DTMFPayloadType codec.PayloadType
	MP3Command      string
}

// DefaultEngineConfig возвращает параметры движка по умолчанию
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BindAddress:     "0.0.0.0",
		Ports:           rtp.PortRange{Min: 10000, Max: 20000},
		Socket:          rtp.DefaultSocketOptions(),
		IdleTimeout:     20 * time.Second,
		TickInterval:    20 * time.Millisecond,
		Jitter:          jitter.DefaultConfig(),
		DTMF:            dtmf.DefaultGeneratorConfig(),
		DTMFPayloadType: codec.PayloadTypeTelephoneEvent,
		MP3Command:      "lame",
	}
}

// Validate проверяет параметры движка
func (c EngineConfig) Validate() error {
	if err := rtp.ValidatePortRange(c.Ports); err != nil {
		return err
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("интервал тика должен быть положительным")
	}
	if c.IdleTimeout < c.TickInterval {
		return fmt.Errorf("таймаут простоя (%v) меньше интервала тика (%v)", c.IdleTimeout, c.TickInterval)
	}
	return c.Jitter.Validate()
}

// idleTicks возвращает таймаут простоя в тиках
func (c EngineConfig) idleTicks() uint64 {
	return uint64(c.IdleTimeout / c.TickInterval)
}
