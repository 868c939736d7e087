// Package jitter реализует приёмный буфер канала: допуск пакетов, переупорядочивание,
// обнаружение потерь и ресинхронизацию, а также статистику приёма с оценкой MOS.
//
// Буфер не имеет собственного таймера. Push вызывается из горутины приёма при
// каждой датаграмме, Pop вызывается движком ровно один раз за тик (20 мс) и
// возвращает не более одного пакета в порядке возрастания sequence number.
package jitter

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/rtp"

	rtpmodel "github.com/arzzra/rtpengine/pkg/rtp"
)

// Verdict результат допуска пакета
type Verdict int

const (
	// Accepted пакет помещён в буфер
	Accepted Verdict = iota
	// Skipped пакет отвергнут по payload или SSRC
	Skipped
	// Dropped пакет вне окна или дубликат
	Dropped
)

func (v Verdict) String() string {
	switch v {
	case Accepted:
		return "accepted"
	case Skipped:
		return "skipped"
	case Dropped:
		return "dropped"
	default:
		return fmt.Sprintf("Verdict(%d)", int(v))
	}
}

// Config параметры политики буфера
type Config struct {
	Window      int // Окно допуска вперед от головы, в пакетах
	SkipAfter   int // Сколько более поздних пакетов в буфере объявляют голову потерянной
	MaxWait     int // Сколько тиков ждать недостающую голову
	HighWater   int // При большем заполнении старейшие пакеты отбрасываются
	ResyncAfter int // Сколько подряд пакетов вне окна при пустом буфере отбросить до ресинхронизации
	MaxPayload  int // Максимальный размер payload в байтах
	ClockRate   uint32
}

// DefaultConfig возвращает параметры по умолчанию для 8 кГц потока
func DefaultConfig() Config {
	return Config{
		Window:      20,
		SkipAfter:   6,
		MaxWait:     10,
		HighWater:   10,
		ResyncAfter: 10,
		MaxPayload:  rtpmodel.MaxPayloadSize,
		ClockRate:   8000,
	}
}

// withDefaults подставляет значения по умолчанию вместо нулевых
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.SkipAfter <= 0 {
		c.SkipAfter = d.SkipAfter
	}
	if c.MaxWait <= 0 {
		c.MaxWait = d.MaxWait
	}
	if c.HighWater <= 0 {
		c.HighWater = d.HighWater
	}
	if c.ResyncAfter <= 0 {
		c.ResyncAfter = d.ResyncAfter
	}
	if c.MaxPayload <= 0 {
		c.MaxPayload = d.MaxPayload
	}
	if c.ClockRate == 0 {
		c.ClockRate = d.ClockRate
	}
	return c
}

// Validate проверяет согласованность параметров
func (c Config) Validate() error {
	c = c.withDefaults()
	if c.HighWater >= c.Window {
		return fmt.Errorf("HighWater (%d) должен быть меньше Window (%d)", c.HighWater, c.Window)
	}
	if c.SkipAfter > c.Window {
		return fmt.Errorf("SkipAfter (%d) не может превышать Window (%d)", c.SkipAfter, c.Window)
	}
	return nil
}

// Buffer приёмный буфер одного канала. Потокобезопасен.
type Buffer struct {
	config Config

	locked  bool
	ssrc    uint32
	head    uint16
	packets map[uint16]*rtp.Packet

	waited       int // Тиков ожидания недостающей головы
	resyncStreak int // Подряд пакетов вне окна при пустом буфере

	// RFC 3550 interarrival jitter в единицах timestamp
	jitter      float64
	lastArrival int64
	lastTS      uint32
	haveTransit bool
	baseTime    time.Time

	stats Stats
	mutex sync.Mutex
}

// New создает буфер с указанной конфигурацией
func New(config Config) *Buffer {
	return &Buffer{
		config:  config.withDefaults(),
		packets: make(map[uint16]*rtp.Packet),
	}
}

// Push выполняет допуск пакета. Каждый вызов увеличивает Received,
// каждый отвергнутый пакет увеличивает ровно один счётчик.
func (b *Buffer) Push(pkt *rtp.Packet, arrival time.Time) Verdict {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.stats.Received++

	if len(pkt.Payload) > b.config.MaxPayload {
		b.stats.Skip++
		return Skipped
	}

	if !b.locked {
		b.locked = true
		b.ssrc = pkt.SSRC
		b.head = pkt.SequenceNumber
		b.baseTime = arrival
	} else if pkt.SSRC != b.ssrc {
		b.stats.Skip++
		return Skipped
	}

	offset := rtpmodel.SeqDiff(pkt.SequenceNumber, b.head)
	if offset < 0 || offset >= b.config.Window {
		if len(b.packets) > 0 {
			b.stats.Dropped++
			return Dropped
		}
		b.resyncStreak++
		if b.resyncStreak <= b.config.ResyncAfter {
			b.stats.Dropped++
			return Dropped
		}
		// Отправитель перешел на новую позицию, перезахватываемся на неё
		b.head = pkt.SequenceNumber
		b.waited = 0
		b.haveTransit = false
		b.stats.Resyncs++
	}
	b.resyncStreak = 0

	if _, dup := b.packets[pkt.SequenceNumber]; dup {
		b.stats.Dropped++
		return Dropped
	}

	b.packets[pkt.SequenceNumber] = pkt
	b.updateJitter(pkt.Timestamp, arrival)
	return Accepted
}

// Reject учитывает датаграмму, которую не удалось разобрать или принять
// (например, при выключенном приёме). Она считается как skip.
func (b *Buffer) Reject() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.stats.Received++
	b.stats.Skip++
}

// updateJitter обновляет оценку interarrival jitter по RFC 3550 6.4.1.
// Разница transit считается через разности соседних пакетов, поэтому
// переход timestamp через 2^32 не даёт скачка.
func (b *Buffer) updateJitter(ts uint32, arrival time.Time) {
	us := int64(arrival.Sub(b.baseTime) / time.Microsecond)
	arrivalUnits := us * int64(b.config.ClockRate) / 1e6

	if b.haveTransit {
		d := (arrivalUnits - b.lastArrival) - rtpmodel.TSDiff(ts, b.lastTS)
		if d < 0 {
			d = -d
		}
		b.jitter += (float64(d) - b.jitter) / 16
	}
	b.lastArrival = arrivalUnits
	b.lastTS = ts
	b.haveTransit = true
}

// Pop возвращает следующий пакет по порядку или nil.
// Вызывается один раз за тик.
func (b *Buffer) Pop() *rtp.Packet {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !b.locked {
		return nil
	}

	// Догоняем отправителя, если буфер переполнен
	for len(b.packets) > b.config.HighWater {
		if _, ok := b.packets[b.head]; ok {
			delete(b.packets, b.head)
			b.stats.Dropped++
		} else {
			b.stats.Lost++
		}
		b.head++
		b.waited = 0
	}

	for {
		if pkt, ok := b.packets[b.head]; ok {
			delete(b.packets, b.head)
			b.head++
			b.waited = 0
			b.stats.Released++
			return pkt
		}

		if len(b.packets) == 0 {
			b.waited = 0
			return nil
		}

		// Голова отсутствует, но более поздние пакеты уже есть
		if len(b.packets) >= b.config.SkipAfter || b.waited >= b.config.MaxWait {
			b.stats.Lost++
			b.head++
			b.waited = 0
			continue
		}

		b.waited++
		return nil
	}
}

// Buffered возвращает количество пакетов в буфере
func (b *Buffer) Buffered() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	return len(b.packets)
}

// Stats возвращает снимок статистики приёма
func (b *Buffer) Stats() Stats {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	s := b.stats
	s.Jitter = time.Duration(b.jitter * float64(time.Second) / float64(b.config.ClockRate))
	s.MOS = s.mos()
	return s
}
