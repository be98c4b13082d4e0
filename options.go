// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package nio

// Options configures a NioTransport's framing and buffering behavior.
// Every field has a spec-mandated default
// (§6 Configuration surface).
type Options struct {
	// FrameSize caps the length field of any one chunk: (0, 0x7FFF].
	FrameSize int

	// IngressPageSize / IngressCapacity size the per-transport read
	// buffer. Capacity must be "large enough for one command"; it has no
	// hub-enforced ceiling, since a single command must fit.
	IngressPageSize int
	IngressCapacity int64

	// EgressPageSize / EgressCapacity size the per-transport write buffer.
	EgressPageSize int
	EgressCapacity int64

	// Nonblock records a request to disable the selector-driven path.
	// NioTransport does not read it: a transport built with it set is still
	// driven by its ChannelHub, and nothing in this package sets it
	// automatically.
	Nonblock bool
}

var defaultOptions = Options{
	FrameSize:       8192,
	IngressPageSize: 16 * 1024,
	IngressCapacity: 1 << 24, // effectively unbounded; a command must fit
	EgressPageSize:  16 * 1024,
	EgressCapacity:  256 * 1024,
	Nonblock:        false,
}

// Option configures Options.
type Option func(*Options)

// WithFrameSize sets transportFrameSize. Values outside (0, 0x7FFF] are
// clamped to the nearest bound.
func WithFrameSize(n int) Option {
	return func(o *Options) {
		if n <= 0 {
			n = 1
		}
		if n > maxChunkLength {
			n = maxChunkLength
		}
		o.FrameSize = n
	}
}

// WithIngressPageSize sets the ingress buffer's page size.
func WithIngressPageSize(n int) Option {
	return func(o *Options) { o.IngressPageSize = n }
}

// WithIngressCapacity sets the ingress buffer's capacity cap.
func WithIngressCapacity(n int64) Option {
	return func(o *Options) { o.IngressCapacity = n }
}

// WithEgressPageSize sets the egress buffer's page size.
func WithEgressPageSize(n int) Option {
	return func(o *Options) { o.EgressPageSize = n }
}

// WithEgressCapacity sets the egress buffer's capacity cap.
func WithEgressCapacity(n int64) Option {
	return func(o *Options) { o.EgressCapacity = n }
}

// WithNonblockDisabled sets Options.Nonblock. The transport does not act
// on it; I/O stays on the selector-driven path.
func WithNonblockDisabled() Option {
	return func(o *Options) { o.Nonblock = true }
}
