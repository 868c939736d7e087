package channel

import (
	"net"
	"time"

	"github.com/pion/sdp/v3"

	"github.com/arzzra/rtpengine/pkg/codec"
)

// Description возвращает SDP описание локальной стороны канала.
// Если удаленный кодек задан, предлагается только он, иначе все кодеки реестра.
func (ch *Channel) Description() *sdp.SessionDescription {
	address := ch.engine.config.PublicAddress
	if address == "" {
		address = ch.engine.config.BindAddress
	}
	addrType := "IP4"
	if ip := net.ParseIP(address); ip != nil && ip.To4() == nil {
		addrType = "IP6"
	}

	ch.mutex.Lock()
	remote := ch.remote
	ch.mutex.Unlock()

	media := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   "audio",
			Port:    sdp.RangedPort{Value: ch.port},
			Protos:  []string{"RTP", "AVP"},
			Formats: []string{},
		},
	}

	registry := ch.engine.registry
	if !remote.IsZero() {
		media = media.WithCodec(uint8(remote.Codec), registry.Name(remote.Codec), codec.SampleRate, 0, "")
	} else {
		for _, pt := range registry.PayloadTypes() {
			media = media.WithCodec(uint8(pt), registry.Name(pt), codec.SampleRate, 0, "")
		}
	}
	media = media.WithCodec(uint8(ch.engine.config.DTMFPayloadType), "telephone-event", codec.SampleRate, 0, "0-16")
	media = media.WithPropertyAttribute(ch.directionAttribute())

	return &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      uint64(time.Now().UnixNano()),
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    addrType,
			UnicastAddress: address,
		},
		SessionName: "rtpengine",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: addrType,
			Address:     &sdp.Address{Address: address},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
		MediaDescriptions: []*sdp.MediaDescription{media},
	}
}

func (ch *Channel) directionAttribute() string {
	send, recv := ch.send.Load(), ch.recv.Load()
	switch {
	case send && recv:
		return "sendrecv"
	case send:
		return "sendonly"
	case recv:
		return "recvonly"
	default:
		return "inactive"
	}
}
