package mixer

// Frame is one tick's worth of PCM samples, or a typed "no-audio" marker
// (spec §4.4 invariant (b)): a sink with zero contributing sources receives
// NoAudio=true instead of a silence buffer, so RTP discontinuous-
// transmission semantics aren't broken by synthesized silence.
type Frame struct {
	Samples []int16
	NoAudio bool
}

// MediaPort is the external collaborator a conference Port wraps: a stream,
// file player/recorder, or any other frame source/sink (spec glossary). The
// bridge never talks to hardware or RTP directly — that's this interface's
// job, matching spec §1's "codec factory"/"packet transport" external
// collaborators.
type MediaPort interface {
	// GetFrame returns the next frame to mix in, or ok=false if none is
	// currently available (e.g. underrun) — the bridge then leaves this
	// port out of the mix for that tick.
	GetFrame() (samples []int16, ok bool)
	// PutFrame delivers one mixed frame (or a no-audio marker) to the sink.
	PutFrame(f Frame) error
}

// UnityLevel is the level-adjustment value that leaves a signal unchanged
// (spec §3: "0..255, 128 = unity").
const UnityLevel uint8 = 128

// RxBufCount is the depth of the master (slot 0) capture ring buffer
// (spec §4.4).
const RxBufCount = 4

// Port is one conference port (spec §3).
type Port struct {
	Name string

	Media MediaPort // nil for the master sound-device slot

	RxEnabled, TxEnabled bool

	ClockRate       int
	SamplesPerFrame int

	RxLevelAdj uint8
	TxLevelAdj uint8

	RxResampler *Resampler
	TxResampler *Resampler

	rxAccum []int16
	txAccum []int16

	mixBuf  []uint64
	sources uint64

	listeners map[*Port]struct{}

	LastRxLevel byte
	LastTxLevel byte

	isMaster bool
	ring     [][]int16
	writePos int
	readPos  int
}

// NewPort creates a port attached to media, at the given clock
// rate/frame-size; level adjustments default to unity.
func NewPort(name string, media MediaPort, clockRate, samplesPerFrame int) *Port {
	return &Port{
		Name:            name,
		Media:           media,
		RxEnabled:       true,
		TxEnabled:       true,
		ClockRate:       clockRate,
		SamplesPerFrame: samplesPerFrame,
		RxLevelAdj:      UnityLevel,
		TxLevelAdj:      UnityLevel,
		listeners:       make(map[*Port]struct{}),
	}
}

// NewMasterPort creates the slot-0 sound-device port with its capture ring
// buffer (spec §4.4).
func NewMasterPort(clockRate, samplesPerFrame int) *Port {
	p := NewPort("master", nil, clockRate, samplesPerFrame)
	p.isMaster = true
	p.ring = make([][]int16, RxBufCount)
	return p
}

// hasListeners reports whether anything would be mixed from this port's RX
// this tick (spec §4.4 invariant (a)).
func (p *Port) hasListeners() bool {
	return len(p.listeners) > 0
}

// CaptureMaster writes one captured frame into the master port's ring
// buffer at snd_write_pos (spec §4.4's capture-callback side).
func (p *Port) CaptureMaster(samples []int16) {
	if !p.isMaster {
		return
	}
	p.ring[p.writePos%RxBufCount] = samples
	p.writePos++
	// Absorb phase: if the reader has fallen behind enough to collide with
	// the writer, resync it to write - RX_BUF_COUNT/2 (spec §4.4).
	if p.writePos-p.readPos >= RxBufCount {
		p.readPos = p.writePos - RxBufCount/2
	}
}

// readMasterRing reads the next frame for the master port from its ring
// buffer, or returns ok=false if the writer hasn't produced one yet.
func (p *Port) readMasterRing() ([]int16, bool) {
	if p.writePos-p.readPos <= 0 {
		return nil, false
	}
	samples := p.ring[p.readPos%RxBufCount]
	p.readPos++
	return samples, samples != nil
}

// applyLevel multiplies each sample by adj/128, saturating to int16 (spec
// §4.4 steps 2 and the TX symmetric step).
func applyLevel(samples []int16, adj uint8) []int16 {
	if adj == UnityLevel {
		return samples
	}
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := int32(s) * int32(adj) / 128
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = int16(v)
	}
	return out
}

// resetMixBuf zero-fills mix_buf/sources ahead of a new tick.
func (p *Port) resetMixBuf(n int) {
	if cap(p.mixBuf) < n {
		p.mixBuf = make([]uint64, n)
	} else {
		p.mixBuf = p.mixBuf[:n]
		for i := range p.mixBuf {
			p.mixBuf[i] = 0
		}
	}
	p.sources = 0
}
