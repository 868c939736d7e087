//go:build cgo && ilbc

package codec

/*
#cgo pkg-config: libilbc
#include <stdint.h>
#include <stddef.h>
#include <ilbc.h>

static void *ilbc_encoder_new(int16_t mode) {
	IlbcEncoderInstance *inst = NULL;
	if (WebRtcIlbcfix_EncoderCreate(&inst) != 0 || inst == NULL) {
		return NULL;
	}
	if (WebRtcIlbcfix_EncoderInit(inst, mode) != 0) {
		WebRtcIlbcfix_EncoderFree(inst);
		return NULL;
	}
	return inst;
}

static void *ilbc_decoder_new(int16_t mode) {
	IlbcDecoderInstance *inst = NULL;
	if (WebRtcIlbcfix_DecoderCreate(&inst) != 0 || inst == NULL) {
		return NULL;
	}
	if (WebRtcIlbcfix_DecoderInit(inst, mode) != 0) {
		WebRtcIlbcfix_DecoderFree(inst);
		return NULL;
	}
	return inst;
}

static void ilbc_encoder_free(void *inst) {
	WebRtcIlbcfix_EncoderFree((IlbcEncoderInstance *)inst);
}

static void ilbc_decoder_free(void *inst) {
	WebRtcIlbcfix_DecoderFree((IlbcDecoderInstance *)inst);
}

static int ilbc_encode(void *inst, const int16_t *pcm, size_t n, void *out) {
	return WebRtcIlbcfix_Encode((IlbcEncoderInstance *)inst, pcm, n, out);
}

static int ilbc_decode(void *inst, const void *in, size_t n, int16_t *out) {
	int16_t speech_type;
	return WebRtcIlbcfix_Decode((IlbcDecoderInstance *)inst, in, n, out, &speech_type);
}
*/
import "C"

import (
	"runtime"
	"unsafe"
)

// Режим 20 мс: кадр 160 отсчётов кодируется в 38 байт (15.2 кбит/с)
const (
	ilbcModeMs     = 20
	ilbcFrameBytes = 38
)

func registerILBC(r *Registry) {
	r.Register(PayloadTypeILBC, "iLBC", func() Codec { return NewILBC() })
}

// ILBC кодек RFC 3951 поверх системной libilbc.
// Кодер и декодер хранят историю кадров, экземпляр свой для каждого направления.
type ILBC struct {
	enc unsafe.Pointer
	dec unsafe.Pointer
}

// NewILBC создает кодек iLBC в режиме 20 мс
func NewILBC() *ILBC {
	c := &ILBC{
		enc: C.ilbc_encoder_new(ilbcModeMs),
		dec: C.ilbc_decoder_new(ilbcModeMs),
	}
	runtime.SetFinalizer(c, (*ILBC).free)
	return c
}

func (c *ILBC) free() {
	if c.enc != nil {
		C.ilbc_encoder_free(c.enc)
		c.enc = nil
	}
	if c.dec != nil {
		C.ilbc_decoder_free(c.dec)
		c.dec = nil
	}
}

func (c *ILBC) PayloadType() PayloadType { return PayloadTypeILBC }
func (c *ILBC) Name() string             { return "iLBC" }

// Encode кодирует один кадр. Короткий кадр дополняется тишиной.
func (c *ILBC) Encode(pcm []int16) []byte {
	if c.enc == nil {
		return nil
	}

	frame := pcm
	if len(frame) != SamplesPerFrame {
		frame = make([]int16, SamplesPerFrame)
		copy(frame, pcm)
	}

	out := make([]byte, ilbcFrameBytes)
	n := C.ilbc_encode(c.enc,
		(*C.int16_t)(unsafe.Pointer(&frame[0])), C.size_t(len(frame)),
		unsafe.Pointer(&out[0]))
	if n <= 0 {
		return nil
	}
	return out[:n]
}

// Decode декодирует один или несколько кадров по 38 байт.
// Повреждённый payload даёт кадр тишины.
func (c *ILBC) Decode(payload []byte) []int16 {
	frames := len(payload) / ilbcFrameBytes
	if c.dec == nil || frames == 0 || len(payload)%ilbcFrameBytes != 0 {
		return make([]int16, SamplesPerFrame)
	}

	out := make([]int16, frames*SamplesPerFrame)
	n := C.ilbc_decode(c.dec,
		unsafe.Pointer(&payload[0]), C.size_t(len(payload)),
		(*C.int16_t)(unsafe.Pointer(&out[0])))
	if n <= 0 {
		return make([]int16, SamplesPerFrame)
	}
	return out[:n]
}
