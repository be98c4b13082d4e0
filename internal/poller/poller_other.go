// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build !linux

package poller

import "errors"

// ErrUnsupported is returned by New on platforms with no epoll-equivalent
// wired up yet. Callers fall back to thread-per-stream I/O (spec §6).
var ErrUnsupported = errors.New("poller: unsupported platform")

type Event struct {
	Fd       int
	Readable bool
	Writable bool
	Error    bool
	HangUp   bool
}

type Poller struct{}

func New() (*Poller, error) { return nil, ErrUnsupported }

func (p *Poller) Add(fd int, wantRead, wantWrite bool) error { return ErrUnsupported }
func (p *Poller) Modify(fd int, wantRead, wantWrite bool) error { return ErrUnsupported }
func (p *Poller) Remove(fd int) error { return ErrUnsupported }
func (p *Poller) Wake() error { return ErrUnsupported }
func (p *Poller) Wait(dst []Event, timeoutMs int) ([]Event, error) { return dst, ErrUnsupported }
func (p *Poller) Close() error { return nil }
