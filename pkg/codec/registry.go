package codec

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// PayloadType номер payload type RTP
type PayloadType uint8

// Статические и динамические payload типы этой установки
const (
	PayloadTypePCMU           PayloadType = 0
	PayloadTypePCMA           PayloadType = 8
	PayloadTypeG722           PayloadType = 9
	PayloadTypeILBC           PayloadType = 97
	PayloadTypeTelephoneEvent PayloadType = 101
)

// Параметры кадра общего линейного представления
const (
	SampleRate      = 8000
	SamplesPerFrame = 160
)

// ErrUnsupportedCodec возвращается для payload type без зарегистрированного кодека
var ErrUnsupportedCodec = errors.New("кодек не поддерживается")

// Codec конвертирует кадры между payload и линейным PCM.
// Экземпляр не потокобезопасен и принадлежит одному направлению одного канала.
type Codec interface {
	// PayloadType возвращает payload type кодека
	PayloadType() PayloadType

	// Name возвращает имя кодека для SDP rtpmap
	Name() string

	// Encode кодирует кадр линейного PCM в payload
	Encode(pcm []int16) []byte

	// Decode декодирует payload в линейный PCM
	Decode(payload []byte) []int16
}

// Factory создает новый экземпляр кодека
type Factory func() Codec

type registryEntry struct {
	name    string
	factory Factory
}

// Registry отображение payload type -> фабрика кодека
type Registry struct {
	entries map[PayloadType]registryEntry
	mutex   sync.RWMutex
}

// NewRegistry создает пустой реестр
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[PayloadType]registryEntry),
	}
}

// DefaultRegistry создает реестр с G.711 и G.722.
// iLBC добавляется при сборке с тегом ilbc.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(PayloadTypePCMU, "PCMU", func() Codec { return NewPCMU() })
	r.Register(PayloadTypePCMA, "PCMA", func() Codec { return NewPCMA() })
	r.Register(PayloadTypeG722, "G722", func() Codec { return NewG722() })
	registerILBC(r)
	return r
}

// Register добавляет или заменяет кодек для payload type
func (r *Registry) Register(pt PayloadType, name string, factory Factory) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.entries[pt] = registryEntry{name: name, factory: factory}
}

// Unregister удаляет кодек из реестра
func (r *Registry) Unregister(pt PayloadType) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	delete(r.entries, pt)
}

// New создает кодек для payload type
func (r *Registry) New(pt PayloadType) (Codec, error) {
	r.mutex.RLock()
	entry, ok := r.entries[pt]
	r.mutex.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: payload type %d", ErrUnsupportedCodec, pt)
	}
	return entry.factory(), nil
}

// Supports проверяет наличие кодека
func (r *Registry) Supports(pt PayloadType) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	_, ok := r.entries[pt]
	return ok
}

// Name возвращает имя кодека или пустую строку
func (r *Registry) Name(pt PayloadType) string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return r.entries[pt].name
}

// PayloadTypes возвращает зарегистрированные payload типы по возрастанию
func (r *Registry) PayloadTypes() []PayloadType {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	pts := make([]PayloadType, 0, len(r.entries))
	for pt := range r.entries {
		pts = append(pts, pt)
	}
	sort.Slice(pts, func(i, j int) bool { return pts[i] < pts[j] })
	return pts
}
