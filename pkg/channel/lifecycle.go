package channel

import (
	"context"

	"github.com/looplab/fsm"
	"github.com/sirupsen/logrus"
)

// State состояние жизненного цикла канала
type State string

const (
	StateCreated State = "created"
	StateActive  State = "active"
	StateClosing State = "closing"
	StateClosed  State = "closed"
)

const (
	eventActivate = "activate"
	eventClose    = "close"
	eventClosed   = "closed"
)

// newLifecycle создает автомат created -> active -> closing -> closed.
// Состояния mixed/unmixed ортогональны и определяются таблицей смешивания.
func newLifecycle(logger *logrus.Entry) *fsm.FSM {
	return fsm.NewFSM(
		string(StateCreated),
		fsm.Events{
			{Name: eventActivate, Src: []string{string(StateCreated)}, Dst: string(StateActive)},
			{Name: eventClose, Src: []string{string(StateCreated), string(StateActive)}, Dst: string(StateClosing)},
			{Name: eventClosed, Src: []string{string(StateClosing)}, Dst: string(StateClosed)},
		},
		fsm.Callbacks{
			"after_event": func(ctx context.Context, e *fsm.Event) {
				logger.WithFields(logrus.Fields{
					"from":  e.Src,
					"to":    e.Dst,
					"event": e.Event,
				}).Debug("Смена состояния канала")
			},
		},
	)
}
