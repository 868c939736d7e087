package rtp

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNoFreePort возвращается, когда в диапазоне не осталось свободных портов
var ErrNoFreePort = errors.New("нет свободных портов")

// PortRange диапазон локальных портов для RTP
type PortRange struct {
	Min int
	Max int
}

// PortPool выделяет четные локальные порты из диапазона.
// Порт считается занятым с момента Allocate до Release.
type PortPool struct {
	portRange PortRange
	usedPorts map[int]bool
	next      int
	mutex     sync.Mutex
}

// NewPortPool создает пул портов для указанного диапазона
func NewPortPool(portRange PortRange) (*PortPool, error) {
	if err := ValidatePortRange(portRange); err != nil {
		return nil, err
	}

	return &PortPool{
		portRange: portRange,
		usedPorts: make(map[int]bool),
		next:      evenUp(portRange.Min),
	}, nil
}

// Allocate выделяет следующий свободный четный порт.
// bind вызывается для кандидата, и порт считается выделенным только если bind
// вернул nil. Так занятые системой порты пропускаются без гонки между
// проверкой и реальным открытием сокета.
func (pp *PortPool) Allocate(bind func(port int) error) (int, error) {
	pp.mutex.Lock()
	defer pp.mutex.Unlock()

	total := (pp.portRange.Max - evenUp(pp.portRange.Min)) / 2
	var lastErr error

	for i := 0; i <= total; i++ {
		port := pp.next
		pp.next += 2
		if pp.next > pp.portRange.Max {
			pp.next = evenUp(pp.portRange.Min)
		}

		if pp.usedPorts[port] {
			continue
		}

		if err := bind(port); err != nil {
			lastErr = err
			continue
		}

		pp.usedPorts[port] = true
		return port, nil
	}

	if lastErr != nil {
		return 0, fmt.Errorf("%w в диапазоне %d-%d: %v", ErrNoFreePort, pp.portRange.Min, pp.portRange.Max, lastErr)
	}
	return 0, fmt.Errorf("%w в диапазоне %d-%d", ErrNoFreePort, pp.portRange.Min, pp.portRange.Max)
}

// Release освобождает порт
func (pp *PortPool) Release(port int) {
	pp.mutex.Lock()
	defer pp.mutex.Unlock()

	delete(pp.usedPorts, port)
}

// InUse возвращает количество выделенных портов
func (pp *PortPool) InUse() int {
	pp.mutex.Lock()
	defer pp.mutex.Unlock()

	return len(pp.usedPorts)
}

// ValidatePortRange проверяет корректность диапазона портов
func ValidatePortRange(portRange PortRange) error {
	if portRange.Min < 1024 {
		return fmt.Errorf("минимальный порт не может быть меньше 1024 (привилегированные порты)")
	}

	if portRange.Max > 65535 {
		return fmt.Errorf("максимальный порт не может быть больше 65535")
	}

	if portRange.Min >= portRange.Max {
		return fmt.Errorf("минимальный порт должен быть меньше максимального: Min=%d, Max=%d",
			portRange.Min, portRange.Max)
	}

	return nil
}

func evenUp(port int) int {
	if port%2 != 0 {
		return port + 1
	}
	return port
}
