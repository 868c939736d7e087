package channel

import (
	"sync"
)

// Действия событий канала
const (
	ActionOpen           = "open"
	ActionClose          = "close"
	ActionMix            = "mix"
	ActionPlay           = "play"
	ActionRecord         = "record"
	ActionTelephoneEvent = "telephone-event"
)

// Значения поля Event
const (
	EventMixStarted  = "started"
	EventMixFinished = "finished"
	EventPlayStart   = "start"
	EventPlayEnd     = "end"
)

// Причины закрытия и завершения
const (
	ReasonRequested = "requested"
	ReasonIdle      = "idle"
	ReasonCompleted = "completed"
	ReasonReplaced  = "replaced"
	ReasonMixed     = "mixed"
)

// InStats статистика приёма
type InStats struct {
	Count   uint64  `json:"count"`
	Dropped uint64  `json:"dropped"`
	Skip    uint64  `json:"skip"`
	MOS     float64 `json:"mos"`
}

// OutStats статистика передачи
type OutStats struct {
	Count uint64 `json:"count"`
}

// Stats итоговая статистика канала
type Stats struct {
	In  InStats  `json:"in"`
	Out OutStats `json:"out"`
}

// Event уведомление канала
type Event struct {
	Action  string `json:"action"`
	Event   string `json:"event,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Channel string `json:"channel"`
	Port    int    `json:"port,omitempty"`
	File    string `json:"file,omitempty"`
	Digit   string `json:"digit,omitempty"`
	Stats   *Stats `json:"stats,omitempty"`
}

// eventQueue неограниченная упорядоченная очередь событий.
// push никогда не блокирует тик, доставка в канал Go идёт отдельной горутиной.
type eventQueue struct {
	items  []Event
	closed bool
	wake   chan struct{}
	out    chan Event
	stop   <-chan struct{}
	mutex  sync.Mutex
}

func newEventQueue(stop <-chan struct{}) *eventQueue {
	q := &eventQueue{
		wake: make(chan struct{}, 1),
		out:  make(chan Event),
		stop: stop,
	}
	go q.run()
	return q
}

func (q *eventQueue) push(ev Event) {
	q.mutex.Lock()
	if q.closed {
		q.mutex.Unlock()
		return
	}
	q.items = append(q.items, ev)
	q.mutex.Unlock()

	q.signal()
}

// close завершает очередь. Уже поставленные события будут доставлены.
func (q *eventQueue) close() {
	q.mutex.Lock()
	q.closed = true
	q.mutex.Unlock()

	q.signal()
}

func (q *eventQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *eventQueue) run() {
	defer close(q.out)

	for {
		q.mutex.Lock()
		if len(q.items) == 0 {
			closed := q.closed
			q.mutex.Unlock()
			if closed {
				return
			}
			select {
			case <-q.wake:
			case <-q.stop:
				return
			}
			continue
		}
		ev := q.items[0]
		q.items = q.items[1:]
		q.mutex.Unlock()

		select {
		case q.out <- ev:
		case <-q.stop:
			return
		}
	}
}
