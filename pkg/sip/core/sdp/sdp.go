// Package sdp предоставляет разбор/сериализацию SDP (RFC 4566) поверх
// github.com/pion/sdp/v3 и структурное сравнение описаний для offer/answer
// (RFC 3264).
package sdp

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	psdp "github.com/pion/sdp/v3"
)

// Session представляет разобранное SDP-описание сессии.
type Session struct {
	inner psdp.SessionDescription
}

// Parse разбирает сырые байты SDP в Session.
func Parse(raw []byte) (*Session, error) {
	var sd psdp.SessionDescription
	if err := sd.Unmarshal(raw); err != nil {
		return nil, fmt.Errorf("sdp: parse: %w", err)
	}
	return &Session{inner: sd}, nil
}

// Bytes сериализует Session обратно в канонический SDP текст.
func (s *Session) Bytes() []byte {
	out, _ := s.inner.Marshal()
	return out
}

func (s *Session) String() string { return string(s.Bytes()) }

// Origin возвращает строку o= без изменений (нужна для обновления номера
// версии при ре-INVITE).
func (s *Session) Origin() psdp.Origin { return s.inner.Origin }

// SessionName возвращает s=.
func (s *Session) SessionName() string { return string(s.inner.SessionName) }

// ConnectionAddress возвращает адрес из session-level c= (пусто если нет).
func (s *Session) ConnectionAddress() string {
	if s.inner.ConnectionInformation == nil || s.inner.ConnectionInformation.Address == nil {
		return ""
	}
	return s.inner.ConnectionInformation.Address.Address
}

// MediaDescription — один m= блок вместе со своими атрибутами.
type MediaDescription struct {
	inner *psdp.MediaDescription
}

// MediaDescriptions возвращает все m= блоки в порядке появления.
func (s *Session) MediaDescriptions() []*MediaDescription {
	out := make([]*MediaDescription, 0, len(s.inner.MediaDescriptions))
	for _, md := range s.inner.MediaDescriptions {
		out = append(out, &MediaDescription{inner: md})
	}
	return out
}

func (m *MediaDescription) MediaType() string { return m.inner.MediaName.Media }
func (m *MediaDescription) Port() int         { return m.inner.MediaName.Port.Value }
func (m *MediaDescription) Proto() string     { return strings.Join(m.inner.MediaName.Protos, "/") }
func (m *MediaDescription) FormatList() []string {
	out := make([]string, len(m.inner.MediaName.Formats))
	copy(out, m.inner.MediaName.Formats)
	return out
}

// ConnectionAddress returns the media-level c= address, falling back to the
// session level one the caller already resolved.
func (m *MediaDescription) ConnectionAddress() string {
	if m.inner.ConnectionInformation == nil || m.inner.ConnectionInformation.Address == nil {
		return ""
	}
	return m.inner.ConnectionInformation.Address.Address
}

// IsZeroConnection reports c=IN IP4 0.0.0.0 — the hold marker in spec §4.3/§8
// scenario 3.
func (m *MediaDescription) IsZeroConnection() bool {
	addr := m.ConnectionAddress()
	return addr == "0.0.0.0" || addr == "::"
}

// Direction returns one of sendrecv/sendonly/recvonly/inactive, defaulting to
// sendrecv per RFC 4566 §6 when no direction attribute is present.
func (m *MediaDescription) Direction() string {
	for _, a := range m.inner.Attributes {
		switch a.Key {
		case "sendrecv", "sendonly", "recvonly", "inactive":
			return a.Key
		}
	}
	return "sendrecv"
}

// Attribute returns the first a= value for key, and whether it was present.
func (m *MediaDescription) Attribute(key string) (string, bool) {
	for _, a := range m.inner.Attributes {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// Attributes returns all a= values for key, in order.
func (m *MediaDescription) Attributes(key string) []string {
	var out []string
	for _, a := range m.inner.Attributes {
		if a.Key == key {
			out = append(out, a.Value)
		}
	}
	return out
}

// RTPMap describes one a=rtpmap entry.
type RTPMap struct {
	PayloadType int
	EncodingName string
	ClockRate    int
	Channels     int
}

// RTPMaps parses every a=rtpmap attribute on the media description.
func (m *MediaDescription) RTPMaps() []RTPMap {
	var out []RTPMap
	for _, v := range m.Attributes("rtpmap") {
		fields := strings.SplitN(v, " ", 2)
		if len(fields) != 2 {
			continue
		}
		pt, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		parts := strings.Split(fields[1], "/")
		rm := RTPMap{PayloadType: pt, EncodingName: parts[0], ClockRate: 8000, Channels: 1}
		if len(parts) > 1 {
			if cr, err := strconv.Atoi(parts[1]); err == nil {
				rm.ClockRate = cr
			}
		}
		if len(parts) > 2 {
			if ch, err := strconv.Atoi(parts[2]); err == nil {
				rm.Channels = ch
			}
		}
		out = append(out, rm)
	}
	return out
}

// Equal performs the structural comparison required by spec §4.1: SDP
// equality for offer/answer purposes is structural, not textual. Whitespace,
// attribute order within an equivalence class, and the o= version line are
// ignored; media content (m=, c=, attributes) must match.
func Equal(a, b *Session) bool {
	if a == nil || b == nil {
		return a == b
	}
	if len(a.inner.MediaDescriptions) != len(b.inner.MediaDescriptions) {
		return false
	}
	if a.ConnectionAddress() != b.ConnectionAddress() {
		return false
	}
	for i := range a.inner.MediaDescriptions {
		if !mediaEqual(a.inner.MediaDescriptions[i], b.inner.MediaDescriptions[i]) {
			return false
		}
	}
	return true
}

func mediaEqual(a, b *psdp.MediaDescription) bool {
	if a.MediaName.Media != b.MediaName.Media {
		return false
	}
	if strings.Join(a.MediaName.Protos, "/") != strings.Join(b.MediaName.Protos, "/") {
		return false
	}
	if len(a.MediaName.Formats) != len(b.MediaName.Formats) {
		return false
	}
	for i := range a.MediaName.Formats {
		if a.MediaName.Formats[i] != b.MediaName.Formats[i] {
			return false
		}
	}
	am := attrSet(a.Attributes)
	bm := attrSet(b.Attributes)
	if len(am) != len(bm) {
		return false
	}
	for k, v := range am {
		if bm[k] != v {
			return false
		}
	}
	return true
}

func attrSet(attrs []psdp.Attribute) map[string]string {
	m := make(map[string]string, len(attrs))
	for _, a := range attrs {
		m[a.Key] = a.Value
	}
	return m
}

// Builder constructs SDP session descriptions the way the negotiator needs
// them: one audio m= line, a codec list, and an optional crypto attribute.
type Builder struct {
	username    string
	sessionID   uint64
	sessionVer  uint64
	localAddr   net.IP
}

// NewBuilder creates a Builder seeded with an origin identity; sessionID
// should be stable for the call, sessionVer bumped on every re-offer.
func NewBuilder(username string, sessionID, sessionVer uint64, localAddr net.IP) *Builder {
	return &Builder{username: username, sessionID: sessionID, sessionVer: sessionVer, localAddr: localAddr}
}

// AudioOffer builds a minimal "m=audio" session offering the given payload
// types/encodings at clockRate, with the given direction and optional crypto
// line (SRTP keying material per RFC 3711 / spec §6 use_srtp).
func (b *Builder) AudioOffer(rtpPort int, maps []RTPMap, direction string, proto string, cryptoLine string) *Session {
	ip := b.localAddr
	if ip == nil {
		ip = net.IPv4(127, 0, 0, 1)
	}
	ipVer := "IP4"
	if ip.To4() == nil {
		ipVer = "IP6"
	}

	formats := make([]string, len(maps))
	for i, m := range maps {
		formats[i] = strconv.Itoa(m.PayloadType)
	}

	sd := psdp.SessionDescription{
		Version: 0,
		Origin: psdp.Origin{
			Username:       b.username,
			SessionID:      b.sessionID,
			SessionVersion: b.sessionVer,
			NetworkType:    "IN",
			AddressType:    ipVer,
			UnicastAddress: ip.String(),
		},
		SessionName: "voicecore",
		ConnectionInformation: &psdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: ipVer,
			Address:     &psdp.Address{Address: ip.String()},
		},
		TimeDescriptions: []psdp.TimeDescription{{Timing: psdp.Timing{StartTime: 0, StopTime: 0}}},
	}

	md := &psdp.MediaDescription{
		MediaName: psdp.MediaName{
			Media:   "audio",
			Port:    psdp.RangedPort{Value: rtpPort},
			Protos:  strings.Split(proto, "/"),
			Formats: formats,
		},
	}
	for _, m := range maps {
		val := fmt.Sprintf("%d %s/%d", m.PayloadType, m.EncodingName, m.ClockRate)
		if m.Channels > 1 {
			val += fmt.Sprintf("/%d", m.Channels)
		}
		md.Attributes = append(md.Attributes, psdp.Attribute{Key: "rtpmap", Value: val})
	}
	if cryptoLine != "" {
		md.Attributes = append(md.Attributes, psdp.Attribute{Key: "crypto", Value: cryptoLine})
	}
	md.Attributes = append(md.Attributes, psdp.Attribute{Key: direction})

	sd.MediaDescriptions = []*psdp.MediaDescription{md}
	return &Session{inner: sd}
}

// Hold returns a copy of s with the audio media set to sendonly/c=0.0.0.0 —
// the on-hold re-INVITE offer described in spec §8 scenario 3.
func (s *Session) Hold() *Session {
	clone := s.inner
	clone.MediaDescriptions = make([]*psdp.MediaDescription, len(s.inner.MediaDescriptions))
	for i, md := range s.inner.MediaDescriptions {
		nm := *md
		nm.ConnectionInformation = &psdp.ConnectionInformation{
			NetworkType: "IN", AddressType: "IP4", Address: &psdp.Address{Address: "0.0.0.0"},
		}
		attrs := make([]psdp.Attribute, 0, len(md.Attributes))
		for _, a := range md.Attributes {
			switch a.Key {
			case "sendrecv", "sendonly", "recvonly", "inactive":
				continue
			}
			attrs = append(attrs, a)
		}
		attrs = append(attrs, psdp.Attribute{Key: "sendonly"})
		nm.Attributes = attrs
		clone.MediaDescriptions[i] = &nm
	}
	return &Session{inner: clone}
}
