package jitter

import "time"

// Параметры оценки качества
const (
	maxMOS          = 4.5
	minMOS          = 1.0
	lossPenalty     = 0.1 // За каждый процент потерь
	jitterTolerance = 40 * time.Millisecond
	jitterPenalty   = 0.01 // За каждую мс сверх допуска
)

// Stats статистика приёма канала
type Stats struct {
	Received uint64 // Все поступившие датаграммы
	Dropped  uint64 // Вне окна, дубликаты, отброшенные при догоне
	Skip     uint64 // Отвергнутые по payload или SSRC
	Lost     uint64 // Пропуски, объявленные потерянными
	Released uint64 // Выданные по порядку
	Resyncs  uint64

	Jitter time.Duration // RFC 3550 interarrival jitter
	MOS    float64
}

// mos оценивает качество приёма.
// Чистая сессия без потерь и джиттера даёт ровно 4.5.
func (s Stats) mos() float64 {
	if s.Received == 0 {
		return maxMOS
	}

	bad := float64(s.Lost + s.Dropped + s.Skip)
	lossPct := bad / float64(s.Received) * 100

	score := maxMOS - lossPct*lossPenalty
	if s.Jitter > jitterTolerance {
		over := float64(s.Jitter-jitterTolerance) / float64(time.Millisecond)
		score -= over * jitterPenalty
	}

	if score < minMOS {
		return minMOS
	}
	return score
}
