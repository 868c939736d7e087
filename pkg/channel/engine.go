// Package channel реализует медиа каналы и движок, который их обслуживает.
//
// Engine владеет всеми каналами (арена по ID), таблицей смешивания и общим
// тиком 20 мс. За один тик выполняются фазы:
//
//  1. параллельно для всех каналов: выдача пакета из jitter буфера и декодирование;
//  2. применение накопленных изменений смешивания;
//  3. параллельно для всех каналов: формирование исходящего кадра, кодирование,
//     отправка и запись;
//  4. завершение закрывающихся каналов.
//
// Приём датаграмм выполняется отдельной горутиной на канал и только кладёт
// пакеты в jitter буфер. Все изменения состояния наблюдаются через Events().
package channel

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/arzzra/rtpengine/pkg/codec"
	"github.com/arzzra/rtpengine/pkg/metrics"
	"github.com/arzzra/rtpengine/pkg/mixer"
	"github.com/arzzra/rtpengine/pkg/recorder"
	"github.com/arzzra/rtpengine/pkg/rtp"
)

// TransportFactory открывает транспорт для нового канала
type TransportFactory func() (rtp.Transport, error)

// Engine движок медиа каналов
type Engine struct {
	config   EngineConfig
	registry *codec.Registry
	pool     *rtp.PortPool
	table    *mixer.Table
	metrics  *metrics.Collector
	logger   *logrus.Entry
	mp3      *recorder.MP3Encoder

	newTransport TransportFactory

	channels map[string]*Channel
	ticks    uint64 // атомарный счётчик тиков

	running bool
	closed  bool
	cancel  context.CancelFunc
	stop    chan struct{}
	wg      sync.WaitGroup
	mutex   sync.RWMutex
}

// Option настройка движка
type Option func(*Engine)

// WithLogger задает логгер движка
func WithLogger(logger *logrus.Entry) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithRegistry задает реестр кодеков
func WithRegistry(registry *codec.Registry) Option {
	return func(e *Engine) {
		e.registry = registry
	}
}

// WithMetrics задает сборщик метрик
func WithMetrics(collector *metrics.Collector) Option {
	return func(e *Engine) {
		e.metrics = collector
	}
}

// WithTransportFactory подменяет открытие UDP сокетов
func WithTransportFactory(factory TransportFactory) Option {
	return func(e *Engine) {
		e.newTransport = factory
	}
}

// NewEngine создает движок. Тик не запускается до вызова Start.
func NewEngine(config EngineConfig, opts ...Option) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, newError(ErrorCodeInvalidConfig, "", "некорректная конфигурация движка", err)
	}

	pool, err := rtp.NewPortPool(config.Ports)
	if err != nil {
		return nil, newError(ErrorCodeInvalidConfig, "", "некорректный диапазон портов", err)
	}

	e := &Engine{
		config:   config,
		registry: codec.DefaultRegistry(),
		pool:     pool,
		table:    mixer.NewTable(),
		logger:   logrus.WithField("component", "engine"),
		channels: make(map[string]*Channel),
		stop:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.newTransport == nil {
		e.newTransport = func() (rtp.Transport, error) {
			return rtp.ListenUDP(e.pool, e.config.BindAddress, e.config.Socket)
		}
	}

	e.mp3 = recorder.NewMP3Encoder()
	e.mp3.Command = config.MP3Command
	e.mp3.Logger = e.logger.WithField("component", "mp3")

	return e, nil
}

// Registry возвращает реестр кодеков движка
func (e *Engine) Registry() *codec.Registry {
	return e.registry
}

// Open открывает канал. Ошибка занятия порта возвращается синхронно.
func (e *Engine) Open(ctx context.Context, cfg Config) (*Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mutex.RLock()
	closed := e.closed
	e.mutex.RUnlock()
	if closed {
		return nil, newError(ErrorCodeChannelClosed, cfg.ID, "движок остановлен", nil)
	}

	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}

	ch, err := newChannel(e, cfg)
	if err != nil {
		return nil, err
	}

	transport, err := e.newTransport()
	if err != nil {
		ch.events.close()
		return nil, newError(ErrorCodeBindFailed, cfg.ID, "ошибка открытия транспорта", err)
	}
	ch.attach(transport, e.currentTick())

	e.mutex.Lock()
	if _, exists := e.channels[cfg.ID]; exists {
		e.mutex.Unlock()
		transport.Close()
		ch.events.close()
		return nil, newError(ErrorCodeInvalidConfig, cfg.ID, "канал с таким ID уже существует", nil)
	}
	e.channels[cfg.ID] = ch
	e.mutex.Unlock()

	if err := ch.fsm.Event(ctx, eventActivate); err != nil {
		e.remove(ch)
		transport.Close()
		ch.events.close()
		return nil, newError(ErrorCodeInvalidConfig, cfg.ID, "ошибка активации канала", err)
	}

	e.metrics.ChannelOpened()
	ch.emit(Event{Action: ActionOpen, Port: ch.Port()})

	go ch.receiveLoop()

	ch.logger.WithFields(logrus.Fields{
		"function": "Open",
		"port":     ch.Port(),
		"remote":   cfg.Remote,
	}).Info("Канал открыт")

	return ch, nil
}

// Channel возвращает канал по ID
func (e *Engine) Channel(id string) (*Channel, bool) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	ch, ok := e.channels[id]
	return ch, ok
}

// Len возвращает количество открытых каналов
func (e *Engine) Len() int {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	return len(e.channels)
}

func (e *Engine) remove(ch *Channel) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.channels[ch.id] == ch {
		delete(e.channels, ch.id)
	}
}

func (e *Engine) currentTick() uint64 {
	return atomic.LoadUint64(&e.ticks)
}

// snapshot возвращает каналы, отсортированные по ID
func (e *Engine) snapshot() ([]*Channel, map[string]*Channel) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	list := make([]*Channel, 0, len(e.channels))
	byID := make(map[string]*Channel, len(e.channels))
	for id, ch := range e.channels {
		list = append(list, ch)
		byID[id] = ch
	}
	sort.Slice(list, func(i, j int) bool { return list[i].id < list[j].id })
	return list, byID
}

// Start запускает тик движка
func (e *Engine) Start(ctx context.Context) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.closed {
		return fmt.Errorf("движок остановлен")
	}
	if e.running {
		return fmt.Errorf("движок уже запущен")
	}
	e.running = true

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.wg.Add(1)
	go e.loop(ctx)
	return nil
}

func (e *Engine) loop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			e.tick()
			e.metrics.Tick(time.Since(start), e.config.TickInterval)
		}
	}
}

// tick выполняет один 20 мс цикл всех каналов
func (e *Engine) tick() {
	t := atomic.AddUint64(&e.ticks, 1)
	list, byID := e.snapshot()

	var receive errgroup.Group
	for _, ch := range list {
		receive.Go(func() error {
			ch.receiveFrame(t)
			return nil
		})
	}
	_ = receive.Wait()

	for _, change := range e.table.Apply() {
		if ch, ok := byID[change.ID]; ok {
			ch.onMixChange(change)
		}
	}

	var produce errgroup.Group
	for _, ch := range list {
		produce.Go(func() error {
			ch.produceFrame(byID)
			return nil
		})
	}
	_ = produce.Wait()

	for _, ch := range list {
		if ch.State() == StateClosing {
			ch.finalize()
		}
	}
}

// Close закрывает все каналы и останавливает тик.
// События, не прочитанные после Close, отбрасываются.
func (e *Engine) Close() error {
	e.mutex.Lock()
	if e.closed {
		e.mutex.Unlock()
		return nil
	}
	e.closed = true
	cancel := e.cancel
	e.mutex.Unlock()

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()

	list, _ := e.snapshot()
	for _, ch := range list {
		ch.beginClose(ReasonRequested)
	}
	e.tick()

	close(e.stop)

	e.logger.WithFields(logrus.Fields{
		"function": "Close",
		"channels": len(list),
	}).Info("Движок остановлен")
	return nil
}
