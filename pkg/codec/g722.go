package codec

import (
	"github.com/gotranspile/g722"
)

// G.722 работает в режиме 8 кГц: один байт кода на входной отсчёт,
// что при 64 кбит/с даёт 160 байт на кадр 20 мс.
const (
	g722Rate  = g722.Rate64000
	g722Flags = g722.FlagSampleRate8000
)

// G722 кодек с историей кадров, свой для каждого направления
type G722 struct {
	enc *g722.Encoder
	dec *g722.Decoder
}

// NewG722 создает кодек G.722
func NewG722() *G722 {
	return &G722{
		enc: g722.NewEncoder(g722Rate, g722Flags),
		dec: g722.NewDecoder(g722Rate, g722Flags),
	}
}

func (c *G722) PayloadType() PayloadType { return PayloadTypeG722 }
func (c *G722) Name() string             { return "G722" }

func (c *G722) Encode(pcm []int16) []byte {
	out := make([]byte, len(pcm))
	n := c.enc.Encode(out, pcm)
	return out[:n]
}

func (c *G722) Decode(payload []byte) []int16 {
	out := make([]int16, len(payload))
	n := c.dec.Decode(out, payload)
	return out[:n]
}
