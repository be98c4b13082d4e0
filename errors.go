// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package nio

import (
	"errors"

	"code.hybscloud.com/iox"
)

// These are provided as package-level aliases so callers can reference the
// semantic control-flow errors without importing iox directly, matching the
// convention established by code.hybscloud.com/framer.
var (
	// ErrWouldBlock means "no further progress without waiting". Returned by
	// Readable/Writable endpoints; FifoBuffer.Receive and Send treat it as
	// "drained for now" and do not pass it on.
	ErrWouldBlock = iox.ErrWouldBlock

	// ErrMore means a partial result is usable and more will follow on a
	// later call to the same operation.
	ErrMore = iox.ErrMore
)

var (
	// ErrInvalidArgument reports a nil or out-of-range configuration value.
	ErrInvalidArgument = errors.New("nio: invalid argument")

	// ErrTooLong reports that a packet length exceeds transportFrameSize's
	// encodable range, or that an ingress buffer cannot hold a single command.
	ErrTooLong = errors.New("nio: packet too long")

	// ErrBufferClosed reports an operation attempted on a closed FifoBuffer.
	ErrBufferClosed = errors.New("nio: buffer closed")

	// ErrOverflow reports a wedged ingress buffer: not enough room to receive
	// more bytes, yet not enough buffered to complete parsing any one packet.
	ErrOverflow = errors.New("nio: ingress buffer overflow")

	// ErrTransportAborted reports an operation attempted on a transport that
	// has already entered its terminal aborted state.
	ErrTransportAborted = errors.New("nio: transport aborted")

	// ErrExecutionRejected reports that a single-lane executor could not
	// submit a task because the shared command-processor pool is shutting down.
	ErrExecutionRejected = errors.New("nio: task execution rejected")

	// ErrHubStopped reports that a ChannelHub's selector thread has died or
	// was never started. No function in this package returns it: transport
	// constructors do not check the hub's state, and ChannelHub.Err reports
	// the cause itself.
	ErrHubStopped = errors.New("nio: selector thread not running")

	// ErrInterrupted reports that a blocked FifoBuffer.Write or Read was
	// cancelled (the Go analogue of Java's InterruptedIOException): the
	// caller's context was cancelled while waiting.
	ErrInterrupted = errors.New("nio: interrupted")
)
