package channel

import (
	"crypto/tls"
	"time"

	"github.com/sharprpc/sharprpc-go/memsys"
	"github.com/sharprpc/sharprpc-go/session"
	"github.com/sharprpc/sharprpc-go/streaming"
	"github.com/sharprpc/sharprpc-go/wire"
)

// DispatchMode selects the MessageDispatcher's concurrency mode, per
// spec.md §4.5.
type DispatchMode int

const (
	// NoQueue processes inbound messages inline on the Rx goroutine.
	NoQueue DispatchMode = iota
	// PagedQueueX1 hands messages to one worker goroutine consuming a
	// bounded queue, preserving arrival order.
	PagedQueueX1
)

// DefaultDispatchQueueSize bounds the PagedQueueX1 queue when
// Config.DispatchQueueSize is left at zero.
const DefaultDispatchQueueSize = 256

// Config carries every tunable spec.md §6 names, plus the ADD-ed
// Serializer/Compression fields from SPEC_FULL.md §6.
type Config struct {
	RxSegmentSize int
	TxSegmentSize int
	MaxSegments   int

	LoginTimeout  time.Duration
	LogoutTimeout time.Duration
	TxGracePeriod time.Duration

	StreamPageSize int
	StreamWindow   int

	DispatchMode      DispatchMode
	DispatchQueueSize int

	TLS *tls.Config

	Serializer  wire.Serializer
	Compression bool

	Signer   session.Signer
	Verifier session.Verifier
}

// DefaultTxGracePeriod bounds how long Close waits for TxPipeline to drain
// before moving on, per spec.md §4.8.
const DefaultTxGracePeriod = 5 * time.Second

// Option configures a Config at construction, matching the teacher's
// functional-option style for per-field overrides.
type Option func(*Config)

func defaultConfig() Config {
	return Config{
		RxSegmentSize:     memsys.DefaultSegmentSize,
		TxSegmentSize:     memsys.DefaultSegmentSize,
		MaxSegments:       memsys.DefaultMaxSegments,
		LoginTimeout:      session.DefaultLoginTimeout,
		LogoutTimeout:     session.DefaultLogoutTimeout,
		TxGracePeriod:     DefaultTxGracePeriod,
		StreamPageSize:    streaming.DefaultPageSize,
		StreamWindow:      streaming.DefaultWindow,
		DispatchMode:      NoQueue,
		DispatchQueueSize: DefaultDispatchQueueSize,
		Serializer:        wire.JSONSerializer,
	}
}

func WithSegmentSize(rx, tx int) Option {
	return func(c *Config) { c.RxSegmentSize, c.TxSegmentSize = rx, tx }
}
func WithMaxSegments(n int) Option             { return func(c *Config) { c.MaxSegments = n } }
func WithLoginTimeout(d time.Duration) Option  { return func(c *Config) { c.LoginTimeout = d } }
func WithLogoutTimeout(d time.Duration) Option { return func(c *Config) { c.LogoutTimeout = d } }
func WithTxGracePeriod(d time.Duration) Option { return func(c *Config) { c.TxGracePeriod = d } }
func WithStreamPaging(pageSize, window int) Option {
	return func(c *Config) { c.StreamPageSize, c.StreamWindow = pageSize, window }
}
func WithDispatchMode(m DispatchMode) Option  { return func(c *Config) { c.DispatchMode = m } }
func WithDispatchQueueSize(n int) Option      { return func(c *Config) { c.DispatchQueueSize = n } }
func WithTLS(cfg *tls.Config) Option          { return func(c *Config) { c.TLS = cfg } }
func WithSerializer(s wire.Serializer) Option { return func(c *Config) { c.Serializer = s } }
func WithCompression(on bool) Option          { return func(c *Config) { c.Compression = on } }
func WithCredentials(s session.Signer, v session.Verifier) Option {
	return func(c *Config) { c.Signer, c.Verifier = s, v }
}

// NewConfig builds a Config from defaults plus opts.
func NewConfig(opts ...Option) Config {
	c := defaultConfig()
	for _, o := range opts {
		o(&c)
	}
	return c
}
