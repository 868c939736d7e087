package channel

import (
	"io"
	"math"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/rtpengine/pkg/codec"
	rtpmodel "github.com/arzzra/rtpengine/pkg/rtp"
)

// fakeTransport транспорт без сокета: входящие датаграммы подаются через
// ingest напрямую, исходящие сохраняются
type fakeTransport struct {
	port   int
	sent   []*rtp.Packet
	closed chan struct{}
	once   sync.Once
	mutex  sync.Mutex
}

func newFakeTransport(port int) *fakeTransport {
	return &fakeTransport{port: port, closed: make(chan struct{})}
}

func (f *fakeTransport) ReadDatagram(buf []byte) (int, *net.UDPAddr, error) {
	<-f.closed
	return 0, nil, rtpmodel.ErrTransportClosed
}

func (f *fakeTransport) WriteDatagram(data []byte, addr *net.UDPAddr) error {
	select {
	case <-f.closed:
		return rtpmodel.ErrTransportClosed
	default:
	}

	pkt, err := rtpmodel.Parse(append([]byte(nil), data...))
	if err != nil {
		return err
	}

	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.sent = append(f.sent, pkt)
	return nil
}

func (f *fakeTransport) LocalPort() int {
	return f.port
}

func (f *fakeTransport) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) packets() []*rtp.Packet {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	return append([]*rtp.Packet(nil), f.sent...)
}

func (f *fakeTransport) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

// testEngine движок с ручным тиком и fake транспортами
type testEngine struct {
	*Engine
	transports map[int]*fakeTransport
	nextPort   int
	mutex      sync.Mutex
}

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func newTestEngine(t *testing.T, mutate ...func(*EngineConfig)) *testEngine {
	t.Helper()

	cfg := DefaultEngineConfig()
	cfg.BindAddress = "127.0.0.1"
	for _, m := range mutate {
		m(&cfg)
	}

	te := &testEngine{transports: make(map[int]*fakeTransport), nextPort: 40000}
	e, err := NewEngine(cfg,
		WithLogger(testLogger()),
		WithTransportFactory(func() (rtpmodel.Transport, error) {
			te.mutex.Lock()
			defer te.mutex.Unlock()

			ft := newFakeTransport(te.nextPort)
			te.transports[te.nextPort] = ft
			te.nextPort += 2
			return ft, nil
		}),
	)
	require.NoError(t, err)
	te.Engine = e
	t.Cleanup(func() { _ = e.Close() })
	return te
}

func (te *testEngine) transport(ch *Channel) *fakeTransport {
	te.mutex.Lock()
	defer te.mutex.Unlock()

	return te.transports[ch.Port()]
}

func (te *testEngine) ticks(n int) {
	for i := 0; i < n; i++ {
		te.tick()
	}
}

func openTestChannel(t *testing.T, te *testEngine, id string) *Channel {
	t.Helper()

	ch, err := te.Open(t.Context(), Config{
		ID:     id,
		Remote: Remote{Address: "127.0.0.1", Port: 5000, Codec: codec.PayloadTypePCMU},
	})
	require.NoError(t, err)
	return ch
}

// sender генерирует входящий поток канала
type sender struct {
	ssrc uint32
	pt   uint8
	base time.Time
}

func newSender() *sender {
	return &sender{ssrc: 0x11223344, pt: uint8(codec.PayloadTypePCMU), base: time.Unix(1700000000, 0)}
}

// datagram формирует датаграмму с номером seq, timestamp и время прихода
// вычисляются из смещения i в потоке
func (s *sender) datagram(t *testing.T, seq uint16, i int, payload []byte) ([]byte, time.Time) {
	t.Helper()

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    s.pt,
			SequenceNumber: seq,
			Timestamp:      uint32(i) * codec.SamplesPerFrame,
			SSRC:           s.ssrc,
		},
		Payload: payload,
	}
	data, err := rtpmodel.Marshal(pkt)
	require.NoError(t, err)
	return data, s.base.Add(time.Duration(i) * 20 * time.Millisecond)
}

func (s *sender) feed(t *testing.T, ch *Channel, seq uint16, i int, payload []byte) {
	t.Helper()

	data, arrival := s.datagram(t, seq, i, payload)
	ch.ingest(data, arrival)
}

func silencePayload() []byte {
	return codec.NewPCMU().Encode(make([]int16, codec.SamplesPerFrame))
}

// tonePayload кодирует в PCMU кадр синуса 400 Гц
func tonePayload(frame int) []byte {
	pcm := make([]int16, codec.SamplesPerFrame)
	for i := range pcm {
		n := frame*codec.SamplesPerFrame + i
		pcm[i] = int16(8000 * math.Sin(2*math.Pi*400*float64(n)/codec.SampleRate))
	}
	return codec.NewPCMU().Encode(pcm)
}

func decodedPower(pkt *rtp.Packet) float64 {
	return codec.Power(codec.NewPCMU().Decode(pkt.Payload))
}

// collectEvents читает события канала до события с указанным action
func collectEvents(t *testing.T, ch *Channel, until string) []Event {
	t.Helper()

	var events []Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch.Events():
			if !ok {
				t.Fatalf("поток событий закрыт до %q, получено %+v", until, events)
			}
			events = append(events, ev)
			if ev.Action == until {
				return events
			}
		case <-timeout:
			t.Fatalf("не дождались события %q, получено %+v", until, events)
		}
	}
}

// waitEvent ждёт событие с указанными action и event
func waitEvent(t *testing.T, ch *Channel, action, event string) Event {
	t.Helper()

	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch.Events():
			if !ok {
				t.Fatalf("поток событий закрыт до %s/%s", action, event)
			}
			if ev.Action == action && ev.Event == event {
				return ev
			}
		case <-timeout:
			t.Fatalf("не дождались события %s/%s", action, event)
		}
	}
}

func actions(events []Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Action
		if ev.Event != "" {
			out[i] += "." + ev.Event
		}
	}
	return out
}
