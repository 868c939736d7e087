package codec

import (
	"github.com/zaf/g711"
)

// LinearToPCMU кодирует один отсчёт в μ-law
func LinearToPCMU(sample int16) byte {
	return g711.EncodeUlawFrame(sample)
}

// PCMUToLinear декодирует один μ-law отсчёт
func PCMUToLinear(b byte) int16 {
	return g711.DecodeUlawFrame(b)
}

// LinearToPCMA кодирует один отсчёт в A-law
func LinearToPCMA(sample int16) byte {
	return g711.EncodeAlawFrame(sample)
}

// PCMAToLinear декодирует один A-law отсчёт
func PCMAToLinear(b byte) int16 {
	return g711.DecodeAlawFrame(b)
}

// sampleCodec кодек без состояния, работающий по одному отсчёту
type sampleCodec struct {
	pt     PayloadType
	name   string
	encode func(int16) byte
	decode func(byte) int16
}

// NewPCMU создает кодек G.711 μ-law
func NewPCMU() Codec {
	return &sampleCodec{pt: PayloadTypePCMU, name: "PCMU", encode: LinearToPCMU, decode: PCMUToLinear}
}

// NewPCMA создает кодек G.711 A-law
func NewPCMA() Codec {
	return &sampleCodec{pt: PayloadTypePCMA, name: "PCMA", encode: LinearToPCMA, decode: PCMAToLinear}
}

func (c *sampleCodec) PayloadType() PayloadType { return c.pt }
func (c *sampleCodec) Name() string             { return c.name }

func (c *sampleCodec) Encode(pcm []int16) []byte {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = c.encode(s)
	}
	return out
}

func (c *sampleCodec) Decode(payload []byte) []int16 {
	out := make([]int16, len(payload))
	for i, b := range payload {
		out[i] = c.decode(b)
	}
	return out
}
