// Package rtp реализует модель RTP пакета и UDP транспорт медиа движка.
//
// Модель пакета намеренно ограничена: заголовок всегда занимает ровно 12 байт,
// биты CC/extension/marker входящих пакетов не интерпретируются, всё что идёт
// после 12-го байта считается payload. Для представления пакета используется
// github.com/pion/rtp, сериализация исходящих пакетов также выполняется им.
//
// Основные компоненты:
//   - Parse/Marshal - разбор и сериализация датаграмм
//   - SeqDiff/TSDiff - модульная арифметика sequence number и timestamp
//   - PortPool - выделение локальных портов из диапазона
//   - UDPTransport - приём и отправка сырых UDP датаграмм
package rtp

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/pion/rtp"
)

// Константы модели пакета согласно RFC 3550
const (
	HeaderSize         = 12   // Фиксированный размер заголовка
	ExpectedRTPVersion = 2    // RFC 3550: версия RTP должна быть 2
	MaxPayloadSize     = 1024 // Максимальный поддерживаемый payload по умолчанию
	MaxDatagramSize    = 1500 // MTU, больше из сокета не читаем

	// SamplesPerFrame количество отсчётов в кадре 20 мс при 8 кГц
	SamplesPerFrame = 160
)

// ErrMalformed возвращается для датаграмм, которые невозможно разобрать как RTP
var ErrMalformed = errors.New("некорректный RTP пакет")

// Parse разбирает сырую UDP датаграмму в RTP пакет.
//
// Заголовок читается поле за полем, CSRC и расширения не разбираются.
// Payload ссылается на исходный буфер, вызывающий должен скопировать
// датаграмму, если буфер будет переиспользован.
func Parse(datagram []byte) (*rtp.Packet, error) {
	if len(datagram) < HeaderSize {
		return nil, fmt.Errorf("%w: %d байт (минимум %d)", ErrMalformed, len(datagram), HeaderSize)
	}

	version := datagram[0] >> 6
	if version != ExpectedRTPVersion {
		return nil, fmt.Errorf("%w: версия %d", ErrMalformed, version)
	}

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        version,
			Padding:        datagram[0]&0x20 != 0,
			Marker:         datagram[1]&0x80 != 0,
			PayloadType:    datagram[1] & 0x7f,
			SequenceNumber: binary.BigEndian.Uint16(datagram[2:4]),
			Timestamp:      binary.BigEndian.Uint32(datagram[4:8]),
			SSRC:           binary.BigEndian.Uint32(datagram[8:12]),
		},
		Payload: datagram[HeaderSize:],
	}

	return pkt, nil
}

// Marshal сериализует пакет с заголовком ровно в 12 байт
func Marshal(pkt *rtp.Packet) ([]byte, error) {
	out := *pkt
	out.Header.Version = ExpectedRTPVersion
	out.Header.Padding = false
	out.Header.Extension = false
	out.Header.Extensions = nil
	out.Header.CSRC = nil
	out.PaddingSize = 0

	data, err := out.Marshal()
	if err != nil {
		return nil, fmt.Errorf("ошибка маршалинга RTP пакета: %w", err)
	}
	return data, nil
}

// SeqDiff возвращает знаковое модульное расстояние a-b для 16-битных номеров.
// Положительное значение означает, что a новее b.
func SeqDiff(a, b uint16) int {
	return int(int16(a - b))
}

// TSDiff возвращает знаковое модульное расстояние a-b для 32-битных timestamp
func TSDiff(a, b uint32) int64 {
	return int64(int32(a - b))
}

// IsSeqNewer проверяет, является ли seq1 новее seq2 (с учетом wrap-around)
func IsSeqNewer(seq1, seq2 uint16) bool {
	return SeqDiff(seq1, seq2) > 0
}
