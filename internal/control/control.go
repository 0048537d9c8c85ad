/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package control implements the coordinator<->worker control plane (C2 of
// the design). It is deliberately built on buffered Go channels rather than
// a library: the pair is exclusively in-process (never crosses an OS thread
// boundary onto a socket), so a channel gives the exact guarantee spec.md
// §4.2 asks for — FIFO delivery, never silently dropped, one writer/one
// reader per end — with none of the marshaling a wire transport would add.
// This mirrors the teacher's own choice of sync/atomic and context.Context
// (not a messaging library) for its intra-process server lifecycle
// (httpserver/server.go's atomic.Value run-flag and context.CancelFunc).
package control

import "github.com/sabouaram/httpush/errors"

// Command is the fixed discriminator set from spec.md §3.
type Command uint8

const (
	CmdReady Command = iota
	CmdFail
	CmdShutdown
	CmdStats
	CmdStatsReply
)

func (c Command) String() string {
	switch c {
	case CmdReady:
		return "READY"
	case CmdFail:
		return "FAIL"
	case CmdShutdown:
		return "SHUTDOWN"
	case CmdStats:
		return "STATS"
	case CmdStatsReply:
		return "STATS_REPLY"
	default:
		return "UNKNOWN"
	}
}

// Counters is the per-worker counter snapshot carried by a STATS_REPLY
// frame (spec.md §3).
type Counters struct {
	Requests uint64
	Code200  uint64
	Code404  uint64
	Code412  uint64
	Code503  uint64
}

// Add accumulates other component-wise into c, used by the coordinator's
// stats fan-in (spec.md §4.4 step 4).
func (c *Counters) Add(other Counters) {
	c.Requests += other.Requests
	c.Code200 += other.Code200
	c.Code404 += other.Code404
	c.Code412 += other.Code412
	c.Code503 += other.Code503
}

// Frame is the unit exchanged over a control Channel: a bare Command, or a
// STATS_REPLY carrying a Counters payload.
type Frame struct {
	Cmd  Command
	Snap Counters
}

// queueDepth bounds the in-memory queue backing each direction of a Channel.
// Frames are never dropped (spec.md §4.2): bring-up sends at most one READY
// or FAIL, teardown sends at most one SHUTDOWN, and the stats protocol is a
// strict one-request/one-reply round-trip, so depth 4 never blocks a sender
// under the documented protocol.
const queueDepth = 4

// Channel is one direction-pair of the PAIR-equivalent control link for a
// single worker: Front is owned exclusively by the coordinator, Back
// exclusively by the worker (spec.md §4.2, §5).
type Channel struct {
	toWorker chan Frame
	toCoord  chan Frame
}

// NewChannel allocates one control channel for one worker id.
func NewChannel() *Channel {
	return &Channel{
		toWorker: make(chan Frame, queueDepth),
		toCoord:  make(chan Frame, queueDepth),
	}
}

// Front is the coordinator-only end of a Channel.
type Front struct{ c *Channel }

// Back is the worker-only end of a Channel.
type Back struct{ c *Channel }

func (c *Channel) Front() Front { return Front{c: c} }
func (c *Channel) Back() Back   { return Back{c: c} }

// SendCommand delivers a bare command to the worker (spec.md §4.2).
func (f Front) SendCommand(cmd Command) {
	f.c.toWorker <- Frame{Cmd: cmd}
}

// RecvFrame waits (bring-up: bounded by the caller's own timeout via ok;
// here the channel is read with a select against a done channel by callers
// that need a timeout) for a Frame originated by the worker. Used during
// bring-up (READY/FAIL) and for STATS_REPLY collection.
func (f Front) RecvFrame() <-chan Frame {
	return f.c.toCoord
}

// Pending reports how many worker->coordinator frames are queued and not
// yet received, without removing them.
func (f Front) Pending() int {
	return len(f.c.toCoord)
}

// SendReady/SendFail are the worker's bring-up handshake primitives
// (spec.md §4.6): each writes at most once, before the worker ever reaches
// SERVING.
func (b Back) SendReady() {
	b.c.toCoord <- Frame{Cmd: CmdReady}
}

func (b Back) SendFail() {
	b.c.toCoord <- Frame{Cmd: CmdFail}
}

// SendStatsReply answers a STATS command with a counters snapshot
// (spec.md §4.3's control handler).
func (b Back) SendStatsReply(snap Counters) {
	b.c.toCoord <- Frame{Cmd: CmdStatsReply, Snap: snap}
}

// Commands exposes the channel of commands sent by the coordinator, for the
// worker's event loop to range/select over (spec.md §4.3's control handler:
// "loops ... while pending events ... pull one command and act on it").
func (b Back) Commands() <-chan Frame {
	return b.c.toWorker
}

const (
	ErrorChannelClosed errors.CodeError = iota + errors.MinPkgHttpushControl
)

func init() {
	errors.RegisterIdFctMessage(ErrorChannelClosed, func(code errors.CodeError) string {
		if code == ErrorChannelClosed {
			return "control channel closed unexpectedly"
		}
		return ""
	})
}
