package channel

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"
	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"

	"github.com/arzzra/rtpengine/pkg/codec"
	"github.com/arzzra/rtpengine/pkg/dtmf"
	"github.com/arzzra/rtpengine/pkg/jitter"
	"github.com/arzzra/rtpengine/pkg/recorder"
	rtpmodel "github.com/arzzra/rtpengine/pkg/rtp"
	"github.com/arzzra/rtpengine/pkg/soundsoup"
)

// Channel логическая медиа точка: один локальный порт, одна удаленная сторона
type Channel struct {
	id        string
	engine    *Engine
	transport rtpmodel.Transport
	port      int
	logger    *logrus.Entry
	fsm       *fsm.FSM
	events    *eventQueue

	buffer    *jitter.Buffer
	detector  *dtmf.Detector
	generator *dtmf.Generator

	// Флаги, читаемые горутиной приёма
	recv   atomic.Bool
	send   atomic.Bool
	echo   atomic.Bool
	lastRx atomic.Uint64 // Номер тика последней датаграммы

	// Управляющее состояние
	remote      Remote
	remoteAddr  *net.UDPAddr
	encoder     codec.Codec
	soup        *soundsoup.Soup
	recorders   []*recorder.Session
	closeReason string
	mutex       sync.Mutex

	// Состояние тика, используется только горутиной тика
	decoders map[codec.PayloadType]codec.Codec
	inFrame  []int16
	hasIn    bool
	inPkt    *rtp.Packet
	outFrame []int16
	ssrc     uint32
	seq      uint16
	ts       uint32
	outCount atomic.Uint64

	done chan struct{}
}

func newChannel(e *Engine, cfg Config) (*Channel, error) {
	ch := &Channel{
		id:        cfg.ID,
		engine:    e,
		logger:    e.logger.WithField("channel", cfg.ID),
		buffer:    jitter.New(e.config.Jitter),
		detector:  dtmf.NewDetector(),
		generator: dtmf.NewGenerator(e.config.DTMF),
		decoders:  make(map[codec.PayloadType]codec.Codec),
		inFrame:   make([]int16, codec.SamplesPerFrame),
		outFrame:  make([]int16, codec.SamplesPerFrame),
		ssrc:      rand.Uint32(),
		seq:       uint16(rand.Uint32()),
		ts:        rand.Uint32(),
		done:      make(chan struct{}),
	}
	ch.recv.Store(true)
	ch.send.Store(true)
	ch.fsm = newLifecycle(ch.logger)

	if !cfg.Remote.IsZero() {
		if err := ch.setRemote(cfg.Remote); err != nil {
			return nil, err
		}
	}

	ch.events = newEventQueue(e.stop)
	return ch, nil
}

func (ch *Channel) attach(transport rtpmodel.Transport, tick uint64) {
	ch.transport = transport
	ch.port = transport.LocalPort()
	ch.lastRx.Store(tick)
}

// setRemote проверяет и применяет удаленную сторону
func (ch *Channel) setRemote(r Remote) error {
	addr, err := r.resolve()
	if err != nil {
		return newError(ErrorCodeInvalidConfig, ch.id, "некорректная удаленная сторона", err)
	}
	enc, err := ch.engine.registry.New(r.Codec)
	if err != nil {
		return newError(ErrorCodeUnsupportedCodec, ch.id, "кодек удаленной стороны", err)
	}

	ch.mutex.Lock()
	defer ch.mutex.Unlock()

	ch.remote = r
	ch.remoteAddr = addr
	ch.encoder = enc
	return nil
}

// ID возвращает идентификатор канала
func (ch *Channel) ID() string {
	return ch.id
}

// Port возвращает локальный порт
func (ch *Channel) Port() int {
	return ch.port
}

// Events возвращает упорядоченный поток событий канала.
// Поток закрывается после события close.
func (ch *Channel) Events() <-chan Event {
	return ch.events.out
}

// Done закрывается, когда канал полностью закрыт
func (ch *Channel) Done() <-chan struct{} {
	return ch.done
}

// State возвращает текущее состояние жизненного цикла
func (ch *Channel) State() State {
	return State(ch.fsm.Current())
}

// Mixed сообщает, смешан ли канал хотя бы с одним другим
func (ch *Channel) Mixed() bool {
	return ch.engine.table.Mixed(ch.id)
}

// Stats возвращает текущую статистику канала
func (ch *Channel) Stats() Stats {
	s := ch.buffer.Stats()
	return Stats{
		In: InStats{
			Count:   s.Received,
			Dropped: s.Dropped,
			Skip:    s.Skip,
			MOS:     s.MOS,
		},
		Out: OutStats{Count: ch.outCount.Load()},
	}
}

func (ch *Channel) active() bool {
	return ch.State() == StateActive
}

func (ch *Channel) closedError() error {
	return newError(ErrorCodeChannelClosed, ch.id, "операция над закрытым каналом", nil)
}

func (ch *Channel) emit(ev Event) {
	ev.Channel = ch.id
	ch.events.push(ev)
}

// Close запрашивает закрытие. Канал завершается на ближайшем тике,
// итоговая статистика приходит событием close.
func (ch *Channel) Close() error {
	if !ch.beginClose(ReasonRequested) {
		return ch.closedError()
	}
	return nil
}

// beginClose переводит канал в closing. Возвращает false, если канал уже закрывается.
func (ch *Channel) beginClose(reason string) bool {
	if err := ch.fsm.Event(context.Background(), eventClose); err != nil {
		return false
	}

	ch.mutex.Lock()
	ch.closeReason = reason
	ch.mutex.Unlock()

	ch.engine.table.Remove(ch.id)
	return true
}

// Mix смешивает канал с other. Изменение применяется на ближайшем тике
// и подтверждается событием mix started.
func (ch *Channel) Mix(other *Channel) error {
	if err := ch.checkPeer(other); err != nil {
		return err
	}
	ch.engine.table.Mix(ch.id, other.id)
	return nil
}

// Unmix разрывает связь с other
func (ch *Channel) Unmix(other *Channel) error {
	if err := ch.checkPeer(other); err != nil {
		return err
	}
	if !ch.engine.table.Linked(ch.id, other.id) {
		return newError(ErrorCodeNotMixed, ch.id, "нет связи с "+other.id, nil)
	}
	ch.engine.table.Unmix(ch.id, other.id)
	return nil
}

// UnmixAll разрывает все связи канала
func (ch *Channel) UnmixAll() error {
	if !ch.active() {
		return ch.closedError()
	}
	ch.engine.table.UnmixAll(ch.id)
	return nil
}

func (ch *Channel) checkPeer(other *Channel) error {
	if !ch.active() {
		return ch.closedError()
	}
	if other == nil || other == ch || other.engine != ch.engine {
		return newError(ErrorCodeInvalidConfig, ch.id, "недопустимый канал для смешивания", nil)
	}
	if !other.active() {
		return newError(ErrorCodeChannelClosed, other.id, "канал для смешивания закрыт", nil)
	}
	return nil
}

// DTMF ставит цифры в очередь передачи RFC 2833.
// При недопустимом символе ничего не добавляется.
func (ch *Channel) DTMF(digits string) error {
	if !ch.active() {
		return ch.closedError()
	}
	parsed, err := dtmf.Parse(digits)
	if err != nil {
		return newError(ErrorCodeInvalidDigit, ch.id, "ошибка разбора DTMF", err)
	}
	ch.generator.Enqueue(parsed...)
	return nil
}

// Echo включает возврат принятых пакетов отправителю, когда канал не смешан
func (ch *Channel) Echo(enable bool) error {
	if !ch.active() {
		return ch.closedError()
	}
	ch.echo.Store(enable)
	return nil
}

// Direction включает или выключает передачу и приём
func (ch *Channel) Direction(send, recv bool) error {
	if !ch.active() {
		return ch.closedError()
	}
	ch.send.Store(send)
	ch.recv.Store(recv)
	return nil
}

// Remote задает или меняет удаленную сторону
func (ch *Channel) Remote(r Remote) error {
	if !ch.active() {
		return ch.closedError()
	}
	return ch.setRemote(r)
}

// Play заменяет текущее воспроизведение новым списком.
// Файлы декодируются синхронно, ошибка чтения возвращается сразу.
func (ch *Channel) Play(cfg soundsoup.PlayConfig) error {
	if !ch.active() {
		return ch.closedError()
	}

	soup, err := soundsoup.Load(cfg)
	if err != nil {
		if errors.Is(err, soundsoup.ErrFileOpen) {
			return newError(ErrorCodeFileOpen, ch.id, "ошибка загрузки файла", err)
		}
		return newError(ErrorCodeInvalidConfig, ch.id, "некорректный список воспроизведения", err)
	}

	ch.mutex.Lock()
	defer ch.mutex.Unlock()

	if ch.soup != nil {
		ch.emit(Event{Action: ActionPlay, Event: EventPlayEnd, Reason: ReasonReplaced})
	}
	ch.soup = soup
	ch.emit(Event{Action: ActionPlay, Event: EventPlayStart})
	return nil
}

// Record запускает запись или управляет уже идущей записью того же файла
// через флаги Pause и Finish.
func (ch *Channel) Record(cfg recorder.Config) error {
	if !ch.active() {
		return ch.closedError()
	}

	if cfg.Pause || cfg.Finish {
		return ch.controlRecording(cfg)
	}

	session, err := recorder.NewSession(cfg,
		recorder.WithLogger(ch.logger.WithField("file", cfg.File)),
		recorder.WithMP3Encoder(ch.engine.mp3),
	)
	if err != nil {
		if errors.Is(err, recorder.ErrFileOpen) {
			return newError(ErrorCodeFileOpen, ch.id, "ошибка создания файла записи", err)
		}
		return newError(ErrorCodeInvalidConfig, ch.id, "некорректные параметры записи", err)
	}

	ch.mutex.Lock()
	ch.recorders = append(ch.recorders, session)
	ch.mutex.Unlock()
	return nil
}

func (ch *Channel) controlRecording(cfg recorder.Config) error {
	ch.mutex.Lock()
	defer ch.mutex.Unlock()

	found := false
	kept := ch.recorders[:0]
	for _, s := range ch.recorders {
		if cfg.File != "" && s.File() != cfg.File {
			kept = append(kept, s)
			continue
		}
		found = true
		if cfg.Finish {
			if ev := s.Finish(recorder.ReasonRequested); ev != recorder.EventNone {
				ch.emit(Event{Action: ActionRecord, Event: string(ev), File: s.File()})
			}
			continue
		}
		s.Pause()
		kept = append(kept, s)
	}
	ch.recorders = kept

	if !found {
		return newError(ErrorCodeInvalidConfig, ch.id, "запись не найдена: "+cfg.File, nil)
	}
	return nil
}

// receiveLoop читает датаграммы до закрытия транспорта
func (ch *Channel) receiveLoop() {
	buf := make([]byte, rtpmodel.MaxDatagramSize)
	for {
		n, _, err := ch.transport.ReadDatagram(buf)
		if err != nil {
			if errors.Is(err, rtpmodel.ErrTransportClosed) || ch.State() == StateClosed {
				return
			}
			ch.logger.WithError(err).Debug("Ошибка чтения датаграммы")
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		ch.ingest(data, time.Now())
	}
}
