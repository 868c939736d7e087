// Package dtmf кодирует и распознаёт DTMF события RFC 2833/4733 (telephone-event).
package dtmf

import (
	"errors"
	"fmt"
)

// ErrInvalidDigit возвращается для символа без DTMF события
var ErrInvalidDigit = errors.New("недопустимый DTMF символ")

// Digit код DTMF события согласно RFC 4733
type Digit uint8

const (
	Digit0     Digit = 0
	Digit1     Digit = 1
	Digit2     Digit = 2
	Digit3     Digit = 3
	Digit4     Digit = 4
	Digit5     Digit = 5
	Digit6     Digit = 6
	Digit7     Digit = 7
	Digit8     Digit = 8
	Digit9     Digit = 9
	DigitStar  Digit = 10 // *
	DigitPound Digit = 11 // #
	DigitA     Digit = 12
	DigitB     Digit = 13
	DigitC     Digit = 14
	DigitD     Digit = 15
)

const digitChars = "0123456789*#ABCD"

func (d Digit) String() string {
	if int(d) < len(digitChars) {
		return string(digitChars[d])
	}
	return "?"
}

// Parse преобразует строку в последовательность цифр.
// При первом недопустимом символе возвращается ошибка и ни одной цифры.
func Parse(s string) ([]Digit, error) {
	digits := make([]Digit, 0, len(s))

	for _, r := range s {
		var digit Digit
		switch {
		case r >= '0' && r <= '9':
			digit = Digit(r - '0')
		case r == '*':
			digit = DigitStar
		case r == '#':
			digit = DigitPound
		case r >= 'A' && r <= 'D':
			digit = DigitA + Digit(r-'A')
		case r >= 'a' && r <= 'd':
			digit = DigitA + Digit(r-'a')
		default:
			return nil, fmt.Errorf("%w: %q", ErrInvalidDigit, r)
		}
		digits = append(digits, digit)
	}

	return digits, nil
}

// PayloadSize размер payload telephone-event
const PayloadSize = 4

// Payload payload telephone-event согласно RFC 4733
type Payload struct {
	Event    Digit  // Код события (0-15)
	End      bool   // Флаг окончания события
	Volume   uint8  // Уровень (0-63, представляет -dBm0)
	Duration uint16 // Длительность в единицах timestamp
}

// Marshal сериализует payload
func (p Payload) Marshal() []byte {
	data := make([]byte, PayloadSize)

	data[0] = byte(p.Event)
	if p.End {
		data[1] |= 0x80
	}
	data[1] |= p.Volume & 0x3F
	data[2] = byte(p.Duration >> 8)
	data[3] = byte(p.Duration)

	return data
}

// Unmarshal разбирает payload
func Unmarshal(data []byte) (Payload, error) {
	if len(data) < PayloadSize {
		return Payload{}, fmt.Errorf("некорректный размер DTMF payload: %d", len(data))
	}

	return Payload{
		Event:    Digit(data[0]),
		End:      data[1]&0x80 != 0,
		Volume:   data[1] & 0x3F,
		Duration: uint16(data[2])<<8 | uint16(data[3]),
	}, nil
}
