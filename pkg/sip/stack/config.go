package stack

import "time"

// RelayConfig carries enable_turn/turn_server/turn_conn_type/turn_auth_cred
// through to the ICE session. TURN allocation itself (RFC 5766) is not
// implemented; Endpoint.Start validates these fields but the relay
// candidate-gathering step returns ErrNotImplemented rather than silently
// no-opping.
type RelayConfig struct {
	Enabled  bool
	Server   string
	ConnType string
	AuthCred string
}

// ICEConfig carries enable_ice/ice_* options through to the per-call media
// negotiation path.
type ICEConfig struct {
	Enabled        bool
	Lite           bool
	ComponentCount int
	Relay          RelayConfig
}

// STUNConfig carries stun_*/nat_type_in_sdp.
type STUNConfig struct {
	Server      string
	NATTypeInSDP bool
}

// MediaConfig carries the clock_rate/channel_count/audio_frame_ptime/
// ec_tail_len/jb_*/no_vad/ilbc_mode surface.
type MediaConfig struct {
	ClockRate     uint32
	ChannelCount  int
	FramePtime    time.Duration
	ECTailLen     time.Duration
	JitterMinMs   int
	JitterMaxMs   int
	NoVAD         bool
	ILBCMode      int
}

// Config is the single external-interfaces surface an Endpoint is built
// from: max_calls/thread_cnt/nameserver/outbound_proxy/stun_*/
// nat_type_in_sdp/use_srtp/srtp_secure_signaling/enable_ice/ice_*/
// enable_turn/turn_*/clock_rate/channel_count/audio_frame_ptime/
// ec_tail_len/jb_*/no_vad/ilbc_mode/require_100rel/require_timer, modeled
// as one struct built through functional Options.
type Config struct {
	LocalAddr   string
	Transport   string
	UserAgent   string
	DisplayName string

	MaxCalls  int
	ThreadCnt int
	Workers   int

	Nameserver    string
	OutboundProxy string

	STUN STUNConfig
	ICE  ICEConfig

	UseSRTP              bool
	SRTPSecureSignaling  bool

	Media MediaConfig

	Require100Rel bool
	RequireTimer  bool
}

// Option configures a Config. Unset fields keep DefaultConfig's values.
type Option func(*Config)

// DefaultConfig mirrors the teacher's phone-in-a-box defaults: UDP
// transport, a modest worker pool, G.711-grade media framing, no ICE/SRTP.
func DefaultConfig() *Config {
	return &Config{
		Transport:  "udp",
		UserAgent:  "voicecore/1.0",
		MaxCalls:   64,
		ThreadCnt:  4,
		Workers:    4,
		Media: MediaConfig{
			ClockRate:    8000,
			ChannelCount: 1,
			FramePtime:   20 * time.Millisecond,
			JitterMinMs:  20,
			JitterMaxMs:  200,
		},
	}
}

func WithLocalAddr(addr string) Option        { return func(c *Config) { c.LocalAddr = addr } }
func WithTransport(network string) Option     { return func(c *Config) { c.Transport = network } }
func WithUserAgent(ua string) Option          { return func(c *Config) { c.UserAgent = ua } }
func WithDisplayName(name string) Option      { return func(c *Config) { c.DisplayName = name } }
func WithMaxCalls(n int) Option               { return func(c *Config) { c.MaxCalls = n } }
func WithThreadCnt(n int) Option              { return func(c *Config) { c.ThreadCnt = n } }
func WithWorkers(n int) Option                { return func(c *Config) { c.Workers = n } }
func WithNameserver(addr string) Option       { return func(c *Config) { c.Nameserver = addr } }
func WithOutboundProxy(uri string) Option     { return func(c *Config) { c.OutboundProxy = uri } }

func WithSTUN(server string, natTypeInSDP bool) Option {
	return func(c *Config) { c.STUN = STUNConfig{Server: server, NATTypeInSDP: natTypeInSDP} }
}

func WithICE(enabled, lite bool, componentCount int) Option {
	return func(c *Config) {
		c.ICE.Enabled = enabled
		c.ICE.Lite = lite
		c.ICE.ComponentCount = componentCount
	}
}

func WithTURN(server, connType, authCred string) Option {
	return func(c *Config) {
		c.ICE.Relay = RelayConfig{Enabled: true, Server: server, ConnType: connType, AuthCred: authCred}
	}
}

func WithSRTP(use, secureSignaling bool) Option {
	return func(c *Config) { c.UseSRTP = use; c.SRTPSecureSignaling = secureSignaling }
}

func WithMedia(m MediaConfig) Option { return func(c *Config) { c.Media = m } }

func WithRequire100Rel(require bool) Option { return func(c *Config) { c.Require100Rel = require } }
func WithRequireTimer(require bool) Option  { return func(c *Config) { c.RequireTimer = require } }

// Apply folds opts onto a copy of DefaultConfig.
func Apply(opts ...Option) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Validate rejects a Config an Endpoint cannot actually honor.
func (c *Config) Validate() error {
	if c.LocalAddr == "" {
		return ErrLocalAddrRequired
	}
	if c.MaxCalls <= 0 {
		return ErrInvalidMaxCalls
	}
	if c.ICE.Relay.Enabled && c.ICE.Relay.Server == "" {
		return ErrTURNServerRequired
	}
	return nil
}
