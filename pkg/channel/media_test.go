package channel

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/rtpengine/pkg/codec"
	"github.com/arzzra/rtpengine/pkg/dtmf"
	"github.com/arzzra/rtpengine/pkg/recorder"
	"github.com/arzzra/rtpengine/pkg/soundsoup"
)

func TestMixCarriesAudioBetweenChannels(t *testing.T) {
	te := newTestEngine(t)
	a := openTestChannel(t, te, "a")
	b := openTestChannel(t, te, "b")
	s := newSender()

	require.NoError(t, a.Mix(b))
	assert.False(t, a.Mixed(), "смешивание применяется на тике")
	te.tick()
	assert.True(t, a.Mixed())
	assert.True(t, b.Mixed())
	waitEvent(t, a, ActionMix, EventMixStarted)
	waitEvent(t, b, ActionMix, EventMixStarted)

	before := len(te.transport(b).packets())
	for i := 0; i < 10; i++ {
		s.feed(t, a, uint16(i), i, tonePayload(i))
		te.tick()
	}

	toB := te.transport(b).packets()[before:]
	require.Len(t, toB, 10)
	for _, pkt := range toB {
		assert.Equal(t, uint8(codec.PayloadTypePCMU), pkt.PayloadType)
		assert.Greater(t, decodedPower(pkt), 1000.0)
	}

	// Обратное направление: у b нет входящего звука
	for _, pkt := range te.transport(a).packets() {
		assert.Zero(t, decodedPower(pkt))
	}

	require.NoError(t, a.Unmix(b))
	te.tick()
	waitEvent(t, a, ActionMix, EventMixFinished)
	waitEvent(t, b, ActionMix, EventMixFinished)
	assert.False(t, b.Mixed())

	sentB := len(te.transport(b).packets())
	for i := 10; i < 20; i++ {
		s.feed(t, a, uint16(i), i, tonePayload(i))
		te.tick()
	}
	assert.Len(t, te.transport(b).packets(), sentB, "после unmix звук a не попадает в b")

	assert.ErrorIs(t, a.Unmix(b), ErrNotMixed)
	assert.ErrorIs(t, a.Mix(a), ErrInvalidConfig)
}

func TestGroupMix(t *testing.T) {
	te := newTestEngine(t)
	a := openTestChannel(t, te, "a")
	b := openTestChannel(t, te, "b")
	c := openTestChannel(t, te, "c")
	s := newSender()

	require.NoError(t, a.Mix(b))
	require.NoError(t, b.Mix(c))
	te.tick()

	before := len(te.transport(c).packets())
	for i := 0; i < 5; i++ {
		s.feed(t, a, uint16(i), i, tonePayload(i))
		te.tick()
	}

	toC := te.transport(c).packets()[before:]
	require.Len(t, toC, 5)
	for _, pkt := range toC {
		assert.Greater(t, decodedPower(pkt), 1000.0, "c слышит a через b")
	}

	require.NoError(t, b.UnmixAll())
	te.tick()
	assert.False(t, a.Mixed())
	assert.False(t, c.Mixed())
}

func TestMixFinishedPrecedesClose(t *testing.T) {
	te := newTestEngine(t)
	a := openTestChannel(t, te, "a")
	b := openTestChannel(t, te, "b")

	require.NoError(t, a.Mix(b))
	te.tick()
	require.NoError(t, a.Close())
	te.tick()

	events := collectEvents(t, a, ActionClose)
	assert.Equal(t, []string{"open", "mix.started", "mix.finished", "close"}, actions(events))

	waitEvent(t, b, ActionMix, EventMixFinished)
	assert.False(t, b.Mixed())
	assert.Equal(t, StateActive, b.State())
}

func writeTone(t *testing.T, path string, rate, samples int) {
	t.Helper()

	data := make([]int, samples)
	for i := range data {
		data[i] = int(8000 * math.Sin(2*math.Pi*400*float64(i)/float64(rate)))
	}

	f, err := os.Create(path)
	require.NoError(t, err)
	enc := wav.NewEncoder(f, rate, 16, 1, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	require.NoError(t, f.Close())
}

func TestPlayback(t *testing.T) {
	dir := t.TempDir()
	tone := filepath.Join(dir, "tone.wav")
	writeTone(t, tone, 8000, 10*codec.SamplesPerFrame)

	t.Run("до конца списка", func(t *testing.T) {
		te := newTestEngine(t)
		ch := openTestChannel(t, te, "play")

		require.NoError(t, ch.Play(soundsoup.PlayConfig{Files: []soundsoup.File{{Wav: tone}}}))
		waitEvent(t, ch, ActionPlay, EventPlayStart)

		te.ticks(12)
		ev := waitEvent(t, ch, ActionPlay, EventPlayEnd)
		assert.Equal(t, ReasonCompleted, ev.Reason)

		sent := te.transport(ch).packets()
		require.Len(t, sent, 10)
		for _, pkt := range sent {
			assert.Greater(t, decodedPower(pkt), 1000.0)
		}
	})

	t.Run("по кругу", func(t *testing.T) {
		te := newTestEngine(t)
		ch := openTestChannel(t, te, "loop")

		require.NoError(t, ch.Play(soundsoup.PlayConfig{Loop: true, Files: []soundsoup.File{{Wav: tone}}}))
		te.ticks(25)
		assert.Len(t, te.transport(ch).packets(), 25)
	})

	t.Run("замена списка", func(t *testing.T) {
		te := newTestEngine(t)
		ch := openTestChannel(t, te, "replace")

		require.NoError(t, ch.Play(soundsoup.PlayConfig{Loop: true, Files: []soundsoup.File{{Wav: tone}}}))
		te.ticks(3)
		require.NoError(t, ch.Play(soundsoup.PlayConfig{Files: []soundsoup.File{{Wav: tone}}}))

		ev := waitEvent(t, ch, ActionPlay, EventPlayEnd)
		assert.Equal(t, ReasonReplaced, ev.Reason)

		te.ticks(12)
		assert.Len(t, te.transport(ch).packets(), 13)
	})

	t.Run("смешивание прерывает воспроизведение", func(t *testing.T) {
		te := newTestEngine(t)
		a := openTestChannel(t, te, "a")
		b := openTestChannel(t, te, "b")

		require.NoError(t, a.Play(soundsoup.PlayConfig{Loop: true, Files: []soundsoup.File{{Wav: tone}}}))
		te.ticks(2)
		require.NoError(t, a.Mix(b))
		te.tick()

		ev := waitEvent(t, a, ActionPlay, EventPlayEnd)
		assert.Equal(t, ReasonMixed, ev.Reason)

		// a слышит только b, а у b тишина
		sent := te.transport(a).packets()
		require.Len(t, sent, 3)
		assert.Zero(t, decodedPower(sent[2]))
	})
}

func TestRecording(t *testing.T) {
	t.Run("явное завершение", func(t *testing.T) {
		te := newTestEngine(t)
		ch := openTestChannel(t, te, "rec")
		require.NoError(t, ch.Echo(true))
		s := newSender()
		file := filepath.Join(t.TempDir(), "rec.wav")

		require.NoError(t, ch.Record(recorder.Config{File: file}))
		for i := 0; i < 10; i++ {
			s.feed(t, ch, uint16(i), i, tonePayload(i))
			te.tick()
		}
		ev := waitEvent(t, ch, ActionRecord, string(recorder.EventStarted))
		assert.Equal(t, file, ev.File)

		require.NoError(t, ch.Record(recorder.Config{File: file, Finish: true}))
		waitEvent(t, ch, ActionRecord, string(recorder.EventFinishedRequested))

		f, err := os.Open(file)
		require.NoError(t, err)
		defer f.Close()
		dec := wav.NewDecoder(f)
		require.True(t, dec.IsValidFile())
		buf, err := dec.FullPCMBuffer()
		require.NoError(t, err)
		assert.Len(t, buf.Data, 10*codec.SamplesPerFrame)
	})

	t.Run("закрытие канала", func(t *testing.T) {
		te := newTestEngine(t)
		ch := openTestChannel(t, te, "rec-close")
		file := filepath.Join(t.TempDir(), "rec.wav")

		require.NoError(t, ch.Record(recorder.Config{File: file, NumChannels: 2}))
		te.ticks(3)
		require.NoError(t, ch.Close())
		te.tick()

		events := collectEvents(t, ch, ActionClose)
		assert.Equal(t, []string{
			"open",
			"record." + string(recorder.EventStarted),
			"record." + string(recorder.EventFinishedChannelGone),
			"close",
		}, actions(events))
	})

	t.Run("пауза", func(t *testing.T) {
		te := newTestEngine(t)
		ch := openTestChannel(t, te, "rec-pause")
		file := filepath.Join(t.TempDir(), "rec.wav")

		require.NoError(t, ch.Record(recorder.Config{File: file}))
		te.ticks(4)
		require.NoError(t, ch.Record(recorder.Config{File: file, Pause: true}))
		te.ticks(6)
		require.NoError(t, ch.Record(recorder.Config{File: file, Finish: true}))

		f, err := os.Open(file)
		require.NoError(t, err)
		defer f.Close()
		buf, err := wav.NewDecoder(f).FullPCMBuffer()
		require.NoError(t, err)
		assert.Len(t, buf.Data, 4*codec.SamplesPerFrame)
	})
}

func TestOutboundDTMF(t *testing.T) {
	te := newTestEngine(t)
	ch := openTestChannel(t, te, "dtmf")
	require.NoError(t, ch.Echo(true))
	s := newSender()

	require.NoError(t, ch.DTMF("1#"))
	for i := 0; i < 20; i++ {
		s.feed(t, ch, uint16(i), i, silencePayload())
		te.tick()
	}

	sent := te.transport(ch).packets()
	var events []*dtmf.Payload
	var firstTS []uint32
	for _, pkt := range sent {
		if pkt.PayloadType != uint8(codec.PayloadTypeTelephoneEvent) {
			continue
		}
		p, err := dtmf.Unmarshal(pkt.Payload)
		require.NoError(t, err)
		if pkt.Marker {
			firstTS = append(firstTS, pkt.Timestamp)
		}
		events = append(events, &p)
	}

	require.Len(t, events, 14)
	require.Len(t, firstTS, 2)
	assert.Equal(t, dtmf.Digit1, events[0].Event)
	assert.Equal(t, dtmf.DigitPound, events[7].Event)
	assert.True(t, events[6].End)
	assert.Equal(t, uint32(9*160), firstTS[1]-firstTS[0], "7 тиков события и 2 тика паузы")

	// Тики без DTMF отданы эху
	assert.Len(t, sent, 20)
}

func TestInboundTelephoneEvent(t *testing.T) {
	te := newTestEngine(t)
	ch := openTestChannel(t, te, "dtmf-in")
	s := newSender()
	s.pt = uint8(codec.PayloadTypeTelephoneEvent)

	for i := 0; i < 5; i++ {
		p := dtmf.Payload{Event: dtmf.Digit5, End: i >= 3, Volume: 10, Duration: uint16((i + 1) * 160)}
		data, arrival := s.datagram(t, uint16(i), 0, p.Marshal())
		ch.ingest(data, arrival)
		te.tick()
	}

	ev := waitEvent(t, ch, ActionTelephoneEvent, "")
	assert.Equal(t, "5", ev.Digit)

	require.NoError(t, ch.Close())
	te.tick()
	events := collectEvents(t, ch, ActionClose)
	for _, e := range events {
		assert.NotEqual(t, ActionTelephoneEvent, e.Action, "событие сообщается один раз")
	}
}
