package channel

import (
	"context"
	"net"
	"time"

	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"

	"github.com/arzzra/rtpengine/pkg/codec"
	"github.com/arzzra/rtpengine/pkg/jitter"
	"github.com/arzzra/rtpengine/pkg/mixer"
	"github.com/arzzra/rtpengine/pkg/recorder"
	rtpmodel "github.com/arzzra/rtpengine/pkg/rtp"
	"github.com/arzzra/rtpengine/pkg/soundsoup"
)

// ingest обрабатывает одну датаграмму из горутины приёма
func (ch *Channel) ingest(data []byte, arrival time.Time) {
	ch.lastRx.Store(ch.engine.currentTick())

	if !ch.recv.Load() {
		ch.buffer.Reject()
		ch.engine.metrics.PacketIn(jitter.Skipped.String())
		return
	}

	pkt, err := rtpmodel.Parse(data)
	if err != nil {
		ch.buffer.Reject()
		ch.engine.metrics.PacketIn(jitter.Skipped.String())
		ch.logger.WithError(err).Debug("Отброшена некорректная датаграмма")
		return
	}

	verdict := ch.buffer.Push(pkt, arrival)
	ch.engine.metrics.PacketIn(verdict.String())
	if verdict != jitter.Accepted {
		ch.logger.WithFields(logrus.Fields{
			"seq":     pkt.SequenceNumber,
			"ssrc":    pkt.SSRC,
			"verdict": verdict.String(),
		}).Debug("Пакет не принят")
	}
}

// receiveFrame фаза 1: проверка простоя, выдача пакета и декодирование
func (ch *Channel) receiveFrame(t uint64) {
	ch.hasIn = false
	ch.inPkt = nil
	clear(ch.inFrame)

	if ch.State() != StateActive {
		return
	}

	if last := ch.lastRx.Load(); t > last && t-last >= ch.engine.config.idleTicks() {
		ch.logger.WithField("ticks", t-last).Info("Канал закрывается по простою")
		ch.beginClose(ReasonIdle)
		return
	}

	pkt := ch.buffer.Pop()
	if pkt == nil {
		return
	}
	ch.inPkt = pkt

	pt := codec.PayloadType(pkt.PayloadType)
	if pt == ch.engine.config.DTMFPayloadType {
		digit, started, err := ch.detector.Process(pkt.Payload, pkt.Timestamp)
		if err != nil {
			ch.logger.WithError(err).Debug("Некорректный telephone-event")
			return
		}
		if started {
			ch.emit(Event{Action: ActionTelephoneEvent, Digit: digit.String()})
		}
		return
	}

	dec, err := ch.decoder(pt)
	if err != nil {
		ch.logger.WithField("pt", pt).Debug("Нет декодера для payload type")
		return
	}
	copy(ch.inFrame, codec.Fit(dec.Decode(pkt.Payload)))
	ch.hasIn = true
}

// decoder возвращает декодер payload type, создавая его при первом пакете
func (ch *Channel) decoder(pt codec.PayloadType) (codec.Codec, error) {
	if dec, ok := ch.decoders[pt]; ok {
		return dec, nil
	}
	dec, err := ch.engine.registry.New(pt)
	if err != nil {
		return nil, err
	}
	ch.decoders[pt] = dec
	return dec, nil
}

// onMixChange фаза 2: уведомление об изменении смешивания
func (ch *Channel) onMixChange(change mixer.Change) {
	if !change.Started {
		ch.emit(Event{Action: ActionMix, Event: EventMixFinished})
		return
	}

	ch.emit(Event{Action: ActionMix, Event: EventMixStarted})

	// Воспроизведение подавляется смешиванием и не возобновляется
	ch.mutex.Lock()
	defer ch.mutex.Unlock()
	if ch.soup != nil {
		ch.soup = nil
		ch.emit(Event{Action: ActionPlay, Event: EventPlayEnd, Reason: ReasonMixed})
	}
}

// outbound исходящий пакет тика
type outbound struct {
	payload []byte
	pt      uint8
	marker  bool
	ts      uint32
}

// produceFrame фаза 3: выбор источника, кодирование, отправка и запись.
// Приоритет источников: DTMF, смешанные каналы, воспроизведение, эхо.
func (ch *Channel) produceFrame(byID map[string]*Channel) {
	if ch.State() != StateActive {
		return
	}

	ts := ch.ts
	ch.ts += codec.SamplesPerFrame

	ch.mutex.Lock()
	addr := ch.remoteAddr
	enc := ch.encoder
	soup := ch.soup
	recording := len(ch.recorders) > 0
	ch.mutex.Unlock()

	out := ch.outFrame
	clear(out)

	var pkt *outbound
	if ch.generator.Pending() {
		if p, ok := ch.generator.Next(ts); ok {
			pkt = &outbound{
				payload: p.Payload,
				pt:      uint8(ch.engine.config.DTMFPayloadType),
				marker:  p.Marker,
				ts:      p.Timestamp,
			}
		}
	}

	if pkt == nil {
		switch peers := ch.engine.table.Peers(ch.id); {
		case len(peers) > 0:
			frames := make([][]int16, 0, len(peers))
			for _, id := range peers {
				if peer, ok := byID[id]; ok && peer.hasIn {
					frames = append(frames, peer.inFrame)
				}
			}
			mixer.Sum(out, frames...)
			if enc != nil {
				pkt = &outbound{payload: enc.Encode(out), pt: uint8(enc.PayloadType()), ts: ts}
			}

		case soup != nil:
			played := soup.Read(out)
			if soup.Done() {
				ch.playbackFinished(soup)
			}
			if played && enc != nil {
				pkt = &outbound{payload: enc.Encode(out), pt: uint8(enc.PayloadType()), ts: ts}
			}

		case ch.echo.Load() && ch.inPkt != nil:
			copy(out, ch.inFrame)
			pkt = &outbound{payload: ch.inPkt.Payload, pt: ch.inPkt.PayloadType, ts: ts}
		}
	}

	if pkt != nil && ch.send.Load() && addr != nil {
		ch.transmit(pkt, addr)
	}

	if recording {
		ch.feedRecorders(out)
	}
}

func (ch *Channel) playbackFinished(soup *soundsoup.Soup) {
	ch.mutex.Lock()
	defer ch.mutex.Unlock()

	if ch.soup == soup {
		ch.soup = nil
		ch.emit(Event{Action: ActionPlay, Event: EventPlayEnd, Reason: ReasonCompleted})
	}
}

func (ch *Channel) transmit(o *outbound, addr *net.UDPAddr) {
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        rtpmodel.ExpectedRTPVersion,
			Marker:         o.marker,
			PayloadType:    o.pt,
			SequenceNumber: ch.seq,
			Timestamp:      o.ts,
			SSRC:           ch.ssrc,
		},
		Payload: o.payload,
	}

	data, err := rtpmodel.Marshal(pkt)
	if err != nil {
		ch.logger.WithError(err).Warn("Ошибка сериализации исходящего пакета")
		return
	}

	if err := ch.transport.WriteDatagram(data, addr); err != nil {
		ch.logger.WithFields(logrus.Fields{
			"remote": addr.String(),
			"error":  err,
		}).Debug("Ошибка отправки")
		return
	}

	ch.seq++
	ch.outCount.Add(1)
	ch.engine.metrics.PacketOut()
}

// feedRecorders передает кадр тика всем записям и убирает завершённые
func (ch *Channel) feedRecorders(out []int16) {
	ch.mutex.Lock()
	defer ch.mutex.Unlock()

	kept := ch.recorders[:0]
	for _, s := range ch.recorders {
		for _, ev := range s.Feed(ch.inFrame, out) {
			ch.emit(Event{Action: ActionRecord, Event: string(ev), File: s.File()})
		}
		if !s.Finished() {
			kept = append(kept, s)
		}
	}
	ch.recorders = kept
}

// finalize фаза 4: освобождение ресурсов и итоговое событие close
func (ch *Channel) finalize() {
	ch.mutex.Lock()
	recorders := ch.recorders
	ch.recorders = nil
	ch.soup = nil
	reason := ch.closeReason
	ch.mutex.Unlock()

	for _, s := range recorders {
		if ev := s.Finish(recorder.ReasonChannelClosed); ev != recorder.EventNone {
			ch.emit(Event{Action: ActionRecord, Event: string(ev), File: s.File()})
		}
	}
	ch.generator.Reset()

	if err := ch.transport.Close(); err != nil {
		ch.logger.WithError(err).Debug("Ошибка закрытия транспорта")
	}

	stats := ch.Stats()
	ch.emit(Event{Action: ActionClose, Reason: reason, Stats: &stats})
	ch.engine.metrics.ChannelClosed(reason, stats.In.MOS)

	if err := ch.fsm.Event(context.Background(), eventClosed); err != nil {
		ch.logger.WithError(err).Warn("Ошибка перехода в closed")
	}
	ch.engine.remove(ch)
	ch.events.close()
	close(ch.done)

	ch.logger.WithFields(logrus.Fields{
		"function": "finalize",
		"reason":   reason,
		"in":       stats.In.Count,
		"out":      stats.Out.Count,
		"mos":      stats.In.MOS,
	}).Info("Канал закрыт")
}
