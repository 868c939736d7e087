// Package recorder пишет аудио канала в WAV файл с запуском и остановкой по мощности.
//
// Session получает по одному кадру за тик: входящий и исходящий звук канала.
// Пока средняя мощность не превысила порог старта, ничего не пишется.
// Запись завершается по падению мощности (не раньше MinDuration), по
// MaxDuration, по явному запросу или при закрытии канала.
package recorder

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/sirupsen/logrus"

	"github.com/arzzra/rtpengine/pkg/codec"
)

// ErrFileOpen возвращается, если файл записи не удалось создать
var ErrFileOpen = errors.New("не удалось открыть файл записи")

// DefaultPowerAveragePackets окно усреднения мощности по умолчанию
const DefaultPowerAveragePackets = 50

const frameMs = 20

// Event событие записи
type Event string

const (
	EventNone                Event = ""
	EventStarted             Event = "recording.started"
	EventFinishedBelowPower  Event = "recording.finished.belowpower"
	EventFinishedTimeout     Event = "recording.finished.timeout"
	EventFinishedRequested   Event = "recording.finished.requested"
	EventFinishedChannelGone Event = "recording.finished.channelclosed"
)

// Reason причина явного завершения
type Reason int

const (
	ReasonRequested Reason = iota
	ReasonChannelClosed
)

// Config параметры записи
type Config struct {
	File                string  `json:"file" mapstructure:"file"`
	StartAbovePower     float64 `json:"startabovepower,omitempty" mapstructure:"startabovepower"`
	FinishBelowPower    float64 `json:"finishbelowpower,omitempty" mapstructure:"finishbelowpower"`
	MinDuration         int     `json:"minduration,omitempty" mapstructure:"minduration"` // мс
	MaxDuration         int     `json:"maxduration,omitempty" mapstructure:"maxduration"` // мс
	PowerAveragePackets int     `json:"poweraveragepackets,omitempty" mapstructure:"poweraveragepackets"`
	NumChannels         int     `json:"numchannels,omitempty" mapstructure:"numchannels"`
	MP3                 bool    `json:"mp3,omitempty" mapstructure:"mp3"`

	// Управление уже идущей записью того же файла
	Pause  bool `json:"pause,omitempty" mapstructure:"pause"`
	Finish bool `json:"finish,omitempty" mapstructure:"finish"`
}

// Validate проверяет параметры записи
func (c Config) Validate() error {
	if c.File == "" {
		return fmt.Errorf("не указан файл записи")
	}
	if c.NumChannels != 0 && c.NumChannels != 1 && c.NumChannels != 2 {
		return fmt.Errorf("недопустимое количество каналов: %d", c.NumChannels)
	}
	if c.MinDuration < 0 || c.MaxDuration < 0 {
		return fmt.Errorf("длительность не может быть отрицательной")
	}
	if c.MaxDuration > 0 && c.MinDuration > c.MaxDuration {
		return fmt.Errorf("minduration (%d) больше maxduration (%d)", c.MinDuration, c.MaxDuration)
	}
	if c.PowerAveragePackets < 0 {
		return fmt.Errorf("poweraveragepackets не может быть отрицательным")
	}
	return nil
}

// Session одна запись в файл
type Session struct {
	config  Config
	file    *os.File
	encoder *wav.Encoder
	mp3     *MP3Encoder
	logger  *logrus.Entry

	powers   []float64
	powerPos int
	powerSum float64
	filled   int

	started  bool
	paused   bool
	finished bool
	frames   int // Кадров с момента старта
	written  int // Кадров записано в файл

	buf   *audio.IntBuffer
	mutex sync.Mutex
}

// Option настройка сессии
type Option func(*Session)

// WithLogger задает логгер сессии
func WithLogger(logger *logrus.Entry) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithMP3Encoder задает внешний MP3 кодировщик
func WithMP3Encoder(enc *MP3Encoder) Option {
	return func(s *Session) {
		s.mp3 = enc
	}
}

// NewSession создает файл и готовит запись. Ошибка создания файла возвращается синхронно.
func NewSession(config Config, opts ...Option) (*Session, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.NumChannels == 0 {
		config.NumChannels = 1
	}
	if config.PowerAveragePackets == 0 {
		config.PowerAveragePackets = DefaultPowerAveragePackets
	}

	f, err := os.Create(config.File)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileOpen, err)
	}

	s := &Session{
		config:  config,
		file:    f,
		encoder: wav.NewEncoder(f, codec.SampleRate, 16, config.NumChannels, 1),
		powers:  make([]float64, config.PowerAveragePackets),
		logger:  logrus.WithField("file", config.File),
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: config.NumChannels, SampleRate: codec.SampleRate},
			Data:           make([]int, codec.SamplesPerFrame*config.NumChannels),
			SourceBitDepth: 16,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// File возвращает путь к файлу записи
func (s *Session) File() string {
	return s.config.File
}

// Started сообщает, сработал ли порог старта
func (s *Session) Started() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.started
}

// Finished сообщает, завершена ли запись
func (s *Session) Finished() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.finished
}

// Written возвращает количество записанных кадров
func (s *Session) Written() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.written
}

// Pause переключает паузу. Повторный вызов возобновляет запись.
func (s *Session) Pause() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.paused = !s.paused
	return s.paused
}

// Feed обрабатывает один кадр. in - входящий звук канала, out - исходящий.
func (s *Session) Feed(in, out []int16) []Event {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.finished {
		return nil
	}

	var events []Event
	avg := s.pushPower(in, out)

	if !s.started {
		if s.config.StartAbovePower > 0 && avg <= s.config.StartAbovePower {
			return nil
		}
		s.started = true
		events = append(events, EventStarted)
	}

	s.frames++
	if !s.paused {
		if err := s.write(in, out); err != nil {
			s.logger.WithError(err).Error("Ошибка записи кадра")
		}
	}

	elapsed := s.frames * frameMs
	switch {
	case s.config.MaxDuration > 0 && elapsed >= s.config.MaxDuration:
		events = append(events, s.finish(EventFinishedTimeout))
	case s.config.FinishBelowPower > 0 && avg < s.config.FinishBelowPower && elapsed >= s.config.MinDuration:
		events = append(events, s.finish(EventFinishedBelowPower))
	}
	return events
}

// Finish завершает запись по явной причине.
// Для уже завершённой записи возвращает EventNone.
func (s *Session) Finish(reason Reason) Event {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.finished {
		return EventNone
	}
	if reason == ReasonChannelClosed {
		return s.finish(EventFinishedChannelGone)
	}
	return s.finish(EventFinishedRequested)
}

// pushPower добавляет мощность кадра в скользящее окно и возвращает среднее
func (s *Session) pushPower(in, out []int16) float64 {
	p := codec.Power(in)
	if len(out) > 0 {
		if po := codec.Power(out); po > p {
			p = po
		}
	}

	s.powerSum -= s.powers[s.powerPos]
	s.powers[s.powerPos] = p
	s.powerSum += p
	s.powerPos = (s.powerPos + 1) % len(s.powers)
	if s.filled < len(s.powers) {
		s.filled++
	}
	return s.powerSum / float64(s.filled)
}

func (s *Session) write(in, out []int16) error {
	data := s.buf.Data
	switch s.config.NumChannels {
	case 2:
		for i := 0; i < codec.SamplesPerFrame; i++ {
			data[2*i] = int(sampleAt(in, i))
			data[2*i+1] = int(sampleAt(out, i))
		}
	default:
		for i := 0; i < codec.SamplesPerFrame; i++ {
			data[i] = int(codec.Clamp16(int32(sampleAt(in, i)) + int32(sampleAt(out, i))))
		}
	}

	if err := s.encoder.Write(s.buf); err != nil {
		return err
	}
	s.written++
	return nil
}

func sampleAt(pcm []int16, i int) int16 {
	if i < len(pcm) {
		return pcm[i]
	}
	return 0
}

// finish закрывает WAV контейнер и при необходимости запускает MP3 перекодирование
func (s *Session) finish(ev Event) Event {
	s.finished = true

	if err := s.encoder.Close(); err != nil {
		s.logger.WithError(err).Error("Ошибка закрытия WAV контейнера")
	}
	if err := s.file.Close(); err != nil {
		s.logger.WithError(err).Error("Ошибка закрытия файла записи")
	}

	s.logger.WithFields(logrus.Fields{
		"event":  string(ev),
		"frames": s.written,
	}).Debug("Запись завершена")

	if s.config.MP3 && s.mp3 != nil {
		go s.mp3.Encode(s.config.File)
	}
	return ev
}
