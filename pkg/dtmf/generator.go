package dtmf

import (
	"sync"
	"time"
)

// Параметры генерации по умолчанию
const (
	DefaultToneDuration = 100 * time.Millisecond
	DefaultVolume       = 10
	DefaultPauseTicks   = 2
	EndPackets          = 3
	samplesPerTick      = 160
)

// GeneratorConfig параметры генератора
type GeneratorConfig struct {
	ToneDuration time.Duration // Длительность тона одной цифры
	Volume       uint8
	PauseTicks   int // Тиков тишины между цифрами
	ClockRate    uint32
}

// DefaultGeneratorConfig возвращает параметры по умолчанию
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		ToneDuration: DefaultToneDuration,
		Volume:       DefaultVolume,
		PauseTicks:   DefaultPauseTicks,
		ClockRate:    8000,
	}
}

// Packet один пакет telephone-event для текущего тика
type Packet struct {
	Payload   []byte
	Marker    bool
	Timestamp uint32 // Timestamp начала события, общий для всех его пакетов
	Digit     Digit
	End       bool
}

type genState int

const (
	stateIdle genState = iota
	stateTone
	stateEnd
	statePause
)

// Generator выдает по одному пакету telephone-event за тик.
// Потокобезопасен: Enqueue вызывается из управляющих вызовов, Next из тика.
type Generator struct {
	config GeneratorConfig
	queue  []Digit

	state    genState
	current  Digit
	eventTS  uint32
	duration uint16
	endSent  int
	pause    int

	mutex sync.Mutex
}

// NewGenerator создает генератор
func NewGenerator(config GeneratorConfig) *Generator {
	d := DefaultGeneratorConfig()
	if config.ToneDuration <= 0 {
		config.ToneDuration = d.ToneDuration
	}
	if config.ClockRate == 0 {
		config.ClockRate = d.ClockRate
	}
	if config.PauseTicks < 0 {
		config.PauseTicks = 0
	}
	if config.Volume > 63 {
		config.Volume = 63
	}
	return &Generator{config: config}
}

// Enqueue добавляет цифры в очередь
func (g *Generator) Enqueue(digits ...Digit) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	g.queue = append(g.queue, digits...)
}

// Pending сообщает, есть ли незавершённая генерация
func (g *Generator) Pending() bool {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	return g.state != stateIdle || len(g.queue) > 0
}

// Active сообщает, занят ли текущий тик событием (тон или пакеты окончания)
func (g *Generator) Active() bool {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	return g.state == stateTone || g.state == stateEnd || (g.state == stateIdle && len(g.queue) > 0)
}

// Reset очищает очередь и прерывает текущее событие
func (g *Generator) Reset() {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	g.queue = nil
	g.state = stateIdle
}

func (g *Generator) toneUnits() uint16 {
	units := g.config.ToneDuration * time.Duration(g.config.ClockRate) / time.Second
	if units > 0xffff {
		return 0xffff
	}
	return uint16(units)
}

// Next возвращает пакет для тика с исходящим timestamp ts.
// ok=false означает, что в этом тике DTMF не передаётся.
func (g *Generator) Next(ts uint32) (Packet, bool) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	switch g.state {
	case statePause:
		g.pause--
		if g.pause > 0 {
			return Packet{}, false
		}
		g.state = stateIdle
		fallthrough

	case stateIdle:
		if len(g.queue) == 0 {
			return Packet{}, false
		}
		g.current = g.queue[0]
		g.queue = g.queue[1:]
		g.eventTS = ts
		g.duration = samplesPerTick
		g.state = stateTone
		return g.packet(false, true), true

	case stateTone:
		if int(g.duration)+samplesPerTick < int(g.toneUnits()) {
			g.duration += samplesPerTick
			return g.packet(false, false), true
		}
		g.duration = g.toneUnits()
		g.state = stateEnd
		g.endSent = 0
		fallthrough

	case stateEnd:
		g.endSent++
		pkt := g.packet(true, false)
		if g.endSent >= EndPackets {
			if g.config.PauseTicks > 0 {
				g.state = statePause
				g.pause = g.config.PauseTicks + 1
			} else {
				g.state = stateIdle
			}
		}
		return pkt, true
	}

	return Packet{}, false
}

func (g *Generator) packet(end, marker bool) Packet {
	p := Payload{
		Event:    g.current,
		End:      end,
		Volume:   g.config.Volume,
		Duration: g.duration,
	}
	return Packet{
		Payload:   p.Marshal(),
		Marker:    marker,
		Timestamp: g.eventTS,
		Digit:     g.current,
		End:       end,
	}
}
