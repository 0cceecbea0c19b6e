package mixer

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Bridge is the N-to-M clocked conference mixer (spec §4.4). One goroutine
// drives Tick at the bridge's clock rate; Connect/Disconnect/AddPort/
// RemovePort may be called concurrently from any goroutine.
type Bridge struct {
	mu sync.Mutex

	clockRate       int
	samplesPerFrame int

	ports      map[int]*Port
	nextSlot   int
	connectCnt int

	metrics *Metrics
}

// NewBridge creates an empty bridge at the given clock rate/frame size, with
// slot 0 reserved for the master (sound-device) port (spec §4.4).
func NewBridge(clockRate, samplesPerFrame int, reg prometheus.Registerer) *Bridge {
	b := &Bridge{
		clockRate:       clockRate,
		samplesPerFrame: samplesPerFrame,
		ports:           make(map[int]*Port),
		nextSlot:        1,
		metrics:         newMetrics(reg),
	}
	b.ports[0] = NewMasterPort(clockRate, samplesPerFrame)
	return b
}

// AddPort registers p at the next free slot and returns its slot index.
func (b *Bridge) AddPort(p *Port) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	slot := b.nextSlot
	b.nextSlot++
	b.ports[slot] = p
	b.metrics.portsActive.Set(float64(len(b.ports)))
	return slot
}

// RemovePort erases slot and every edge referencing it from either side
// (spec §4.4's "RemovePort edge erasure" invariant).
func (b *Bridge) RemovePort(slot int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.ports[slot]
	if !ok {
		return
	}
	// Edges p -> other go away with p itself.
	b.connectCnt -= len(p.listeners)
	for _, other := range b.ports {
		if other == p {
			continue
		}
		if _, linked := other.listeners[p]; linked {
			delete(other.listeners, p)
			b.connectCnt--
		}
	}
	delete(b.ports, slot)
	b.metrics.portsActive.Set(float64(len(b.ports)))
	b.metrics.connections.Set(float64(b.connectCnt))
}

// Connect makes dst a listener of src's RX: every tick, src's RX frame
// contributes to dst's TX mix (spec §4.4). The edge is directional; a
// bidirectional conversation needs Connect called twice.
func (b *Bridge) Connect(srcSlot, dstSlot int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	src, ok := b.ports[srcSlot]
	if !ok {
		return &ErrNoSuchPort{Slot: srcSlot}
	}
	dst, ok := b.ports[dstSlot]
	if !ok {
		return &ErrNoSuchPort{Slot: dstSlot}
	}
	if _, already := src.listeners[dst]; already {
		return nil
	}
	src.listeners[dst] = struct{}{}
	b.connectCnt++
	b.metrics.connections.Set(float64(b.connectCnt))
	return nil
}

// Disconnect removes a previously-Connect'd edge, if present.
func (b *Bridge) Disconnect(srcSlot, dstSlot int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	src, ok := b.ports[srcSlot]
	if !ok {
		return
	}
	dst, ok := b.ports[dstSlot]
	if !ok {
		return
	}
	if _, linked := src.listeners[dst]; linked {
		delete(src.listeners, dst)
		b.connectCnt--
		b.metrics.connections.Set(float64(b.connectCnt))
	}
}

// ErrNoSuchPort is returned by Connect/Disconnect for an unknown slot.
type ErrNoSuchPort struct{ Slot int }

func (e *ErrNoSuchPort) Error() string { return "mixer: no such port slot" }

// Tick runs one mix cycle across every port (spec §4.4 steps 1-5):
//
//  1. gather each enabled port's RX frame
//  2. resample RX to the bridge clock rate, apply RX level
//  3. compute the µ-law level indicator for metrics/logging
//  4. for every (src listened-to-by dst) edge, weight src's unsigned-16-
//     biased RX by src's RX level and accumulate into dst's mix buffer,
//     bumping dst.sources by that same level
//  5. for every port, divide its mix buffer by sources to recover the
//     level-weighted average, apply TX level, resample to the port's own
//     rate, and deliver — or deliver a no-audio marker if sources == 0
//     (invariant (b))
func (b *Bridge) Tick() {
	b.mu.Lock()
	defer b.mu.Unlock()

	type gathered struct {
		samples []int16
		level   uint64 // mean-abs RX level, doubles as the mix weight
	}
	frames := make(map[int]gathered, len(b.ports))

	for slot, p := range b.ports {
		if !p.RxEnabled || !p.hasListeners() {
			continue
		}
		var raw []int16
		var ok bool
		if p.isMaster {
			raw, ok = p.readMasterRing()
		} else if p.Media != nil {
			raw, ok = p.Media.GetFrame()
		}
		if !ok {
			continue
		}
		if p.RxResampler != nil {
			raw = p.RxResampler.Resample(raw, p.ClockRate, b.clockRate)
		}
		raw = applyLevel(raw, p.RxLevelAdj)
		level := uint64(meanAbs(raw))
		p.LastRxLevel = byte(linearToMuLaw(int16(level)))
		frames[slot] = gathered{samples: raw, level: level}
	}

	n := b.samplesPerFrame
	for _, p := range b.ports {
		p.resetMixBuf(n)
	}

	for slot, p := range b.ports {
		g, ok := frames[slot]
		if !ok || g.level == 0 {
			continue
		}
		for dst := range p.listeners {
			if !dst.TxEnabled {
				continue
			}
			mixInto(dst, g.samples, g.level)
		}
	}

	for slot, p := range b.ports {
		if !p.TxEnabled {
			continue
		}
		if p.sources == 0 {
			b.deliverNoAudio(slot, p)
			continue
		}
		out := make([]int16, len(p.mixBuf))
		for i, acc := range p.mixBuf {
			v := int64(acc/p.sources) - 32768
			out[i] = int16(v)
		}
		out = applyLevel(out, p.TxLevelAdj)
		p.LastTxLevel = byte(linearToMuLaw(meanAbs(out)))
		if p.TxResampler != nil {
			out = p.TxResampler.Resample(out, b.clockRate, p.ClockRate)
		}
		b.deliver(slot, p, out)
	}

	b.metrics.ticks.Inc()
}

// mixInto accumulates src's unsigned-16-biased RX frame into dst's mix
// buffer weighted by src's RX level (spec §4.4 step 4).
func mixInto(dst *Port, raw []int16, level uint64) {
	n := len(dst.mixBuf)
	if len(raw) < n {
		n = len(raw)
	}
	for i := 0; i < n; i++ {
		dst.mixBuf[i] += uint64(int64(raw[i])+32768) * level
	}
	dst.sources += level
}

func (b *Bridge) deliver(slot int, p *Port, out []int16) {
	if p.isMaster {
		return
	}
	if p.Media != nil {
		if err := p.Media.PutFrame(Frame{Samples: out}); err != nil {
			b.metrics.deliverErrors.Inc()
		}
	}
}

func (b *Bridge) deliverNoAudio(slot int, p *Port) {
	if p.isMaster || p.Media == nil {
		return
	}
	if err := p.Media.PutFrame(Frame{NoAudio: true}); err != nil {
		b.metrics.deliverErrors.Inc()
	}
}
