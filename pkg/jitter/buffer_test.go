package jitter

import (
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tick = 20 * time.Millisecond

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func createTestPacket(seq uint16, ts uint32, ssrc uint32) *rtp.Packet {
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    0,
			SequenceNumber: seq,
			Timestamp:      ts,
			SSRC:           ssrc,
		},
		Payload: make([]byte, 160),
	}
}

// stream генерирует последовательный поток начиная с seq
func stream(start uint16, n int) []*rtp.Packet {
	out := make([]*rtp.Packet, n)
	for i := range out {
		seq := start + uint16(i)
		out[i] = createTestPacket(seq, uint32(seq)*160, 0x1234)
	}
	return out
}

// run подаёт по одному пакету за тик (nil означает отсутствие пакета),
// затем вычитывает буфер ещё drain тиков. Возвращает выданные пакеты.
func run(b *Buffer, perTick []*rtp.Packet, drain int) []*rtp.Packet {
	var out []*rtp.Packet
	now := epoch
	for _, pkt := range perTick {
		if pkt != nil {
			b.Push(pkt, now)
		}
		if p := b.Pop(); p != nil {
			out = append(out, p)
		}
		now = now.Add(tick)
	}
	for i := 0; i < drain; i++ {
		if p := b.Pop(); p != nil {
			out = append(out, p)
		}
	}
	return out
}

func assertAscending(t *testing.T, pkts []*rtp.Packet) {
	t.Helper()
	for i := 1; i < len(pkts); i++ {
		diff := int16(pkts[i].SequenceNumber - pkts[i-1].SequenceNumber)
		assert.Positive(t, diff, "пакет %d выдан не по порядку: %d после %d",
			i, pkts[i].SequenceNumber, pkts[i-1].SequenceNumber)
	}
}

func TestInOrderStreamIsClean(t *testing.T) {
	b := New(DefaultConfig())
	out := run(b, stream(1000, 50), 5)

	require.Len(t, out, 50)
	assertAscending(t, out)

	stats := b.Stats()
	assert.Equal(t, uint64(50), stats.Received)
	assert.Equal(t, uint64(50), stats.Released)
	assert.Zero(t, stats.Dropped)
	assert.Zero(t, stats.Skip)
	assert.Zero(t, stats.Lost)
	assert.Zero(t, stats.Jitter)
	assert.Equal(t, 4.5, stats.MOS)
}

func TestReorderedPairsReleasedInOrder(t *testing.T) {
	pkts := stream(0, 50)
	for _, i := range []int{10, 20, 30, 40} {
		pkts[i], pkts[i+1] = pkts[i+1], pkts[i]
	}

	b := New(DefaultConfig())
	out := run(b, pkts, 5)

	require.Len(t, out, 50)
	assertAscending(t, out)
	for i, p := range out {
		assert.Equal(t, uint16(i), p.SequenceNumber)
	}

	stats := b.Stats()
	assert.Zero(t, stats.Lost)
	assert.Zero(t, stats.Dropped)
}

func TestMissingPacketsDeclaredLost(t *testing.T) {
	pkts := stream(0, 50)
	for _, i := range []int{10, 20, 30} {
		pkts[i] = nil
	}

	b := New(DefaultConfig())
	out := run(b, pkts, 20)

	require.Len(t, out, 47)
	assertAscending(t, out)

	stats := b.Stats()
	assert.Equal(t, uint64(47), stats.Received)
	assert.Equal(t, uint64(3), stats.Lost)
	assert.Less(t, stats.MOS, 4.5)
}

func TestOutOfWindowPacketsDropped(t *testing.T) {
	pkts := stream(0, 50)
	pkts[10] = createTestPacket(100, 100*160, 0x1234)
	pkts[20] = createTestPacket(400, 400*160, 0x1234)
	pkts[30] = createTestPacket(2, 2*160, 0x1234)

	b := New(DefaultConfig())
	out := run(b, pkts, 20)

	assert.Len(t, out, 47)
	assertAscending(t, out)

	stats := b.Stats()
	assert.Equal(t, uint64(50), stats.Received)
	assert.Equal(t, uint64(3), stats.Dropped)
	assert.Zero(t, stats.Resyncs)
}

func TestSequenceWraparound(t *testing.T) {
	b := New(DefaultConfig())
	out := run(b, stream(65511, 50), 5)

	require.Len(t, out, 50)
	assertAscending(t, out)
	assert.Equal(t, uint16(65511), out[0].SequenceNumber)
	assert.Equal(t, uint16(24), out[49].SequenceNumber)
}

func TestForeignSSRCSkipped(t *testing.T) {
	var pkts []*rtp.Packet
	for i := 0; i < 50; i++ {
		pkts = append(pkts,
			createTestPacket(uint16(i), uint32(i)*160, 0x1111),
			createTestPacket(uint16(5000+i), uint32(i)*160, 0x2222))
	}

	b := New(DefaultConfig())
	now := epoch
	var out []*rtp.Packet
	for i := 0; i < len(pkts); i += 2 {
		b.Push(pkts[i], now)
		assert.Equal(t, Skipped, b.Push(pkts[i+1], now))
		if p := b.Pop(); p != nil {
			out = append(out, p)
		}
		now = now.Add(tick)
	}

	stats := b.Stats()
	assert.Equal(t, uint64(100), stats.Received)
	assert.Equal(t, uint64(50), stats.Skip)
	assert.Len(t, out, 50)
	for _, p := range out {
		assert.Equal(t, uint32(0x1111), p.SSRC, "SSRC не должен переключаться")
	}
}

func TestOversizePayloadSkipped(t *testing.T) {
	pkts := stream(0, 50)
	pkts[25].Payload = make([]byte, 1200)

	b := New(DefaultConfig())
	out := run(b, pkts, 20)

	assert.Len(t, out, 49)
	stats := b.Stats()
	assert.Equal(t, uint64(50), stats.Received)
	assert.Equal(t, uint64(1), stats.Skip)
}

func TestDuplicateDropped(t *testing.T) {
	b := New(DefaultConfig())

	assert.Equal(t, Accepted, b.Push(createTestPacket(10, 1600, 1), epoch))
	assert.Equal(t, Accepted, b.Push(createTestPacket(11, 1760, 1), epoch))
	assert.Equal(t, Dropped, b.Push(createTestPacket(11, 1760, 1), epoch))

	require.NotNil(t, b.Pop())
	// Уже выданный пакет находится позади головы
	assert.Equal(t, Dropped, b.Push(createTestPacket(10, 1600, 1), epoch))

	stats := b.Stats()
	assert.Equal(t, uint64(4), stats.Received)
	assert.Equal(t, uint64(2), stats.Dropped)
}

func TestResyncAfterSenderJump(t *testing.T) {
	pkts := append(stream(0, 20), stream(5000, 30)...)

	b := New(DefaultConfig())
	out := run(b, pkts, 5)

	stats := b.Stats()
	assert.Equal(t, uint64(1), stats.Resyncs)
	assert.Equal(t, uint64(10), stats.Dropped)
	assert.Len(t, out, 20+20)
	assert.Equal(t, uint16(5010), out[20].SequenceNumber)
}

func TestRejectCountsAsSkip(t *testing.T) {
	b := New(DefaultConfig())
	b.Reject()

	stats := b.Stats()
	assert.Equal(t, uint64(1), stats.Received)
	assert.Equal(t, uint64(1), stats.Skip)
}

func TestCatchUpDiscardsOldest(t *testing.T) {
	b := New(DefaultConfig())
	for _, p := range stream(0, 15) {
		b.Push(p, epoch)
	}

	p := b.Pop()
	require.NotNil(t, p)
	assert.Equal(t, uint16(5), p.SequenceNumber)
	assert.Equal(t, 9, b.Buffered())

	stats := b.Stats()
	assert.Equal(t, uint64(5), stats.Dropped)
}

func TestMaxWaitReleasesStalledHead(t *testing.T) {
	b := New(DefaultConfig())
	b.Push(createTestPacket(0, 0, 1), epoch)
	require.NotNil(t, b.Pop())

	// Пакет 1 потерян, единственный более поздний пакет в буфере
	b.Push(createTestPacket(2, 320, 1), epoch)

	for i := 0; i < DefaultConfig().MaxWait; i++ {
		assert.Nil(t, b.Pop(), "тик %d", i)
	}
	p := b.Pop()
	require.NotNil(t, p)
	assert.Equal(t, uint16(2), p.SequenceNumber)
	assert.Equal(t, uint64(1), b.Stats().Lost)
}

func TestJitterEstimate(t *testing.T) {
	b := New(DefaultConfig())
	now := epoch
	for i, p := range stream(0, 50) {
		offset := time.Duration(0)
		if i%2 == 1 {
			offset = 10 * time.Millisecond
		}
		b.Push(p, now.Add(offset))
		b.Pop()
		now = now.Add(tick)
	}

	jitter := b.Stats().Jitter
	assert.Greater(t, jitter, 5*time.Millisecond)
	assert.Less(t, jitter, 15*time.Millisecond)
}

func TestJitterAcrossTimestampWrap(t *testing.T) {
	b := New(DefaultConfig())
	start := uint32(0xFFFFFFFF - 160*25 + 1)

	pkts := make([]*rtp.Packet, 50)
	for i := range pkts {
		pkts[i] = createTestPacket(uint16(5000+i), start+uint32(i)*160, 0x1234)
	}
	require.Less(t, pkts[49].Timestamp, pkts[0].Timestamp, "поток должен перейти через 2^32")

	out := run(b, pkts, 5)
	require.Len(t, out, 50)

	stats := b.Stats()
	assert.Zero(t, stats.Lost)
	assert.Less(t, stats.Jitter, time.Millisecond)
	assert.Equal(t, 4.5, stats.MOS)
}

func TestMOS(t *testing.T) {
	tests := []struct {
		name  string
		stats Stats
		want  float64
	}{
		{"без пакетов", Stats{}, 4.5},
		{"чистая сессия", Stats{Received: 100}, 4.5},
		{"10% потерь", Stats{Received: 100, Lost: 5, Dropped: 3, Skip: 2}, 3.5},
		{"джиттер сверх допуска", Stats{Received: 100, Jitter: 140 * time.Millisecond}, 3.5},
		{"нижняя граница", Stats{Received: 100, Lost: 90}, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.stats.mos(), 1e-9)
		})
	}
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.NoError(t, Config{}.Validate())
	assert.Error(t, Config{Window: 10, HighWater: 10}.Validate())
	assert.Error(t, Config{Window: 5, HighWater: 4, SkipAfter: 6}.Validate())
}
