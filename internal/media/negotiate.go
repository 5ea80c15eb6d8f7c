package media

import (
	"fmt"
	"strings"
)

// Fixed payload types for the local offer, in the declared order required
// by CUCM: opus, PCMU, PCMA, ulpfec placeholder, telephone-event.
const (
	PTOpus           = 114
	PTPCMU           = 0
	PTPCMA           = 8
	PTUlpfec         = 111
	PTTelephoneEvent = 101
	DefaultOpusRate  = 48000
	DefaultOpusChans = 2
)

// Offer holds an SDP offer plus the payload-type→codec map the RTP layer
// uses to select a decoder for inbound packets.
type Offer struct {
	SDP            *SessionDescription
	PayloadTypeMap map[int]string // pt -> "name/rate[/channels]"
}

// BuildOffer constructs the single always-offered audio media description
// CUCM expects: the fixed codec list and attributes, bound to
// localIP:localPort.
func BuildOffer(localIP string, localPort int) Offer {
	sd := &SessionDescription{
		Version: 0,
		Origin: Origin{
			Username:       "Cisco-SIPUA",
			SessionID:      "22437",
			SessionVersion: "0",
			NetType:        "IN",
			AddrType:       "IP4",
			Address:        localIP,
		},
		SessionName: "SIP Call",
		Connection: &Connection{
			NetType:  "IN",
			AddrType: "IP4",
			Address:  localIP,
		},
		Time: "0 0",
		Attributes: []string{
			"cisco-mari:v1",
			"cisco-mari-rate",
		},
	}

	md := MediaDescription{
		Type:      "audio",
		Port:      localPort,
		Proto:     "RTP/AVP",
		Formats:   []int{PTOpus, PTPCMU, PTPCMA, PTUlpfec, PTTelephoneEvent},
		Direction: "sendrecv",
		Codecs: []Codec{
			{PayloadType: PTOpus, Name: "opus", ClockRate: DefaultOpusRate, Channels: DefaultOpusChans},
			{PayloadType: PTPCMU, Name: "PCMU", ClockRate: 8000},
			{PayloadType: PTPCMA, Name: "PCMA", ClockRate: 8000},
			{PayloadType: PTUlpfec, Name: "x-ulpfecuc", ClockRate: 8000},
			{PayloadType: PTTelephoneEvent, Name: "telephone-event", ClockRate: 8000},
		},
	}
	md.Attributes = []string{
		rtpmapAttr(md.Codecs[0]),
		rtpmapAttr(md.Codecs[1]),
		rtpmapAttr(md.Codecs[2]),
		rtpmapAttr(md.Codecs[3]),
		rtpmapAttr(md.Codecs[4]),
		"sendrecv",
	}

	sd.Media = []MediaDescription{md}
	sd.BandwidthAS = 4000

	ptMap := make(map[int]string, len(md.Codecs))
	for _, c := range md.Codecs {
		ptMap[c.PayloadType] = strings.TrimPrefix(c.String(), fmt.Sprintf("%d ", c.PayloadType))
	}

	return Offer{SDP: sd, PayloadTypeMap: ptMap}
}

func rtpmapAttr(c Codec) string {
	return "rtpmap:" + c.String()
}

// Selected is the outcome of applying the codec-selection rule to a
// remote SDP answer.
type Selected struct {
	RemoteAddr  string
	RemotePort  int
	PayloadType int
	CodecName   string
	ClockRate   int
}

// SelectFromAnswer applies the codec-selection rule to a parsed remote
// SDP: prefer Opus if advertised, else PCMA (8), else PCMU (0).
func SelectFromAnswer(sd *SessionDescription) (Selected, error) {
	m := sd.AudioMedia()
	if m == nil {
		return Selected{}, fmt.Errorf("sdp answer has no audio media section")
	}

	addr := sd.ConnectionAddress(m)
	if addr == "" {
		return Selected{}, fmt.Errorf("sdp answer has no connection address")
	}

	var chosen *Codec
	for i := range m.Codecs {
		if strings.EqualFold(m.Codecs[i].Name, "opus") {
			chosen = &m.Codecs[i]
			break
		}
	}
	if chosen == nil {
		if c := m.CodecByPayloadType(PTPCMA); c != nil {
			chosen = c
		}
	}
	if chosen == nil {
		if c := m.CodecByPayloadType(PTPCMU); c != nil {
			chosen = c
		} else {
			// Default to PCMU even if not explicitly listed with an
			// rtpmap, as long as payload type 0 is offered in the m= line.
			for _, f := range m.Formats {
				if f == PTPCMU {
					chosen = &Codec{PayloadType: PTPCMU, Name: "PCMU", ClockRate: 8000}
					break
				}
			}
		}
	}
	if chosen == nil {
		return Selected{}, fmt.Errorf("no common codec negotiated")
	}

	return Selected{
		RemoteAddr:  addr,
		RemotePort:  m.Port,
		PayloadType: chosen.PayloadType,
		CodecName:   strings.ToLower(chosen.Name),
		ClockRate:   chosen.ClockRate,
	}, nil
}

// BuildAnswer constructs the SDP answer for an incoming call: the same
// fixed codec list/attributes as the offer, bound to the local media
// socket, echoing the payload types we actually support regardless of
// what the remote offered (CUCM always intersects correctly because our
// list is a subset of common codecs).
func BuildAnswer(localIP string, localPort int) Offer {
	return BuildOffer(localIP, localPort)
}
