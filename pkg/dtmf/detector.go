package dtmf

// Detector распознаёт входящие события telephone-event.
// Цифра сообщается один раз, по первому пакету события.
type Detector struct {
	lastTS   uint32
	lastSeen bool
}

// NewDetector создает детектор
func NewDetector() *Detector {
	return &Detector{}
}

// Process обрабатывает payload входящего пакета с timestamp ts.
// Возвращает цифру и true, если началось новое событие.
func (d *Detector) Process(payload []byte, ts uint32) (Digit, bool, error) {
	p, err := Unmarshal(payload)
	if err != nil {
		return 0, false, err
	}

	// Все пакеты одного события несут одинаковый timestamp
	if d.lastSeen && ts == d.lastTS {
		return p.Event, false, nil
	}

	d.lastTS = ts
	d.lastSeen = true
	return p.Event, true, nil
}
