// Package soundsoup воспроизводит список аудио файлов кадрами по 20 мс.
//
// Файлы декодируются целиком при загрузке, поэтому ошибки чтения возвращаются
// синхронно из Load, а Read на горячем пути не обращается к диску.
package soundsoup

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/arzzra/rtpengine/pkg/codec"
)

// ErrFileOpen возвращается, если файл не удалось открыть или декодировать
var ErrFileOpen = errors.New("не удалось открыть аудио файл")

// ErrUnsupportedRate возвращается для WAV с частотой, отличной от 8 и 16 кГц
var ErrUnsupportedRate = errors.New("неподдерживаемая частота дискретизации")

// ErrInvalidRange возвращается для некорректных границ фрагмента
var ErrInvalidRange = errors.New("некорректный фрагмент файла")

// Поддерживаемые частоты источников. 16 кГц понижается усреднением пар отсчётов.
var supportedRates = map[int]bool{
	codec.SampleRate:     true,
	2 * codec.SampleRate: true,
}

// File один элемент списка воспроизведения.
// Start и Stop задают фрагмент файла в миллисекундах, Stop=0 означает до конца.
type File struct {
	Wav   string `json:"wav" mapstructure:"wav"`
	Start int    `json:"start,omitempty" mapstructure:"start"`
	Stop  int    `json:"stop,omitempty" mapstructure:"stop"`
}

// PlayConfig список воспроизведения
type PlayConfig struct {
	Loop  bool   `json:"loop,omitempty" mapstructure:"loop"`
	Files []File `json:"files" mapstructure:"files"`
}

func (f File) validate() error {
	if f.Start < 0 || f.Stop < 0 {
		return fmt.Errorf("%w: отрицательная граница start=%d stop=%d", ErrInvalidRange, f.Start, f.Stop)
	}
	if f.Stop != 0 && f.Stop <= f.Start {
		return fmt.Errorf("%w: stop=%d не больше start=%d", ErrInvalidRange, f.Stop, f.Start)
	}
	return nil
}

// Soup курсор воспроизведения по загруженным трекам
type Soup struct {
	tracks [][]int16
	loop   bool
	track  int
	pos    int
	done   bool
}

// Load загружает и декодирует все файлы списка
func Load(cfg PlayConfig) (*Soup, error) {
	if len(cfg.Files) == 0 {
		return nil, fmt.Errorf("список воспроизведения пуст")
	}

	for i, f := range cfg.Files {
		if err := f.validate(); err != nil {
			return nil, fmt.Errorf("файл %d (%s): %w", i, f.Wav, err)
		}
	}

	s := &Soup{loop: cfg.Loop}
	for _, f := range cfg.Files {
		pcm, err := loadWav(f.Wav)
		if err != nil {
			return nil, err
		}
		s.tracks = append(s.tracks, cut(pcm, f.Start, f.Stop))
	}
	return s, nil
}

// Read заполняет dst следующим кадром. Недостающие отсчёты заполняются тишиной.
// Возвращает false, если воспроизведение уже завершилось.
func (s *Soup) Read(dst []int16) bool {
	if s.done {
		return false
	}

	n := 0
	for n < len(dst) {
		if s.track >= len(s.tracks) {
			if !s.loop || s.totalSamples() == 0 {
				break
			}
			s.track = 0
		}

		cur := s.tracks[s.track]
		copied := copy(dst[n:], cur[s.pos:])
		n += copied
		s.pos += copied
		if s.pos >= len(cur) {
			s.track++
			s.pos = 0
		}
	}

	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}

	if n == 0 {
		s.done = true
		return false
	}
	if s.track >= len(s.tracks) && !s.loop {
		s.done = true
	}
	return true
}

// Done сообщает, что воспроизведение закончено
func (s *Soup) Done() bool {
	return s.done
}

func (s *Soup) totalSamples() int {
	total := 0
	for _, t := range s.tracks {
		total += len(t)
	}
	return total
}

// loadWav читает WAV файл и приводит его к 16 бит моно 8 кГц
func loadWav(path string) ([]int16, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFileOpen, err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: %s не является WAV файлом", ErrFileOpen, path)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFileOpen, path, err)
	}
	if buf.Format == nil || buf.Format.NumChannels == 0 || buf.Format.SampleRate == 0 {
		return nil, fmt.Errorf("%w: %s: неизвестный формат", ErrFileOpen, path)
	}

	if !supportedRates[buf.Format.SampleRate] {
		return nil, fmt.Errorf("%w: %s: %d Гц", ErrUnsupportedRate, path, buf.Format.SampleRate)
	}

	mono := downmix(buf)
	return decimate(mono, buf.Format.SampleRate/codec.SampleRate), nil
}

// downmix сводит каналы в моно и нормализует разрядность к 16 битам
func downmix(buf *audio.IntBuffer) []int16 {
	chans := buf.Format.NumChannels
	frames := len(buf.Data) / chans
	out := make([]int16, frames)

	for i := 0; i < frames; i++ {
		var sum int64
		for c := 0; c < chans; c++ {
			sum += int64(to16(buf.Data[i*chans+c], buf.SourceBitDepth))
		}
		out[i] = codec.Clamp16(int32(sum / int64(chans)))
	}
	return out
}

func to16(v int, depth int) int16 {
	switch depth {
	case 8:
		// 8-битный PCM беззнаковый
		return int16((v - 128) << 8)
	case 24:
		return int16(v >> 8)
	case 32:
		return int16(v >> 16)
	default:
		return codec.Clamp16(int32(v))
	}
}

// decimate понижает частоту в ratio раз, усредняя соседние отсчёты
func decimate(in []int16, ratio int) []int16 {
	if ratio <= 1 {
		return in
	}

	out := make([]int16, len(in)/ratio)
	for i := range out {
		var sum int32
		for j := 0; j < ratio; j++ {
			sum += int32(in[i*ratio+j])
		}
		out[i] = int16(sum / int32(ratio))
	}
	return out
}

// cut вырезает фрагмент [start, stop) в миллисекундах
func cut(pcm []int16, startMs, stopMs int) []int16 {
	perMs := codec.SampleRate / 1000
	start := startMs * perMs
	if start < 0 {
		start = 0
	}
	if start > len(pcm) {
		start = len(pcm)
	}
	stop := len(pcm)
	if stopMs > 0 && stopMs*perMs < stop {
		stop = stopMs * perMs
	}
	if stop < start {
		return nil
	}
	return pcm[start:stop]
}
