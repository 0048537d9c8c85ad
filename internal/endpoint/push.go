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

// Package endpoint implements C1, the messaging-endpoints abstraction of
// spec.md §4.1, over github.com/nats-io/nats.go (push/fan-out) and
// github.com/nutsdb/nutsdb (disk swap overflow) — the two message-queue and
// embedded-storage dependencies the teacher's own go.mod already reserves
// error-code ranges for (errors.MinPkgNats, errors.MinPkgNutsDB) but never
// wires into visible code.
package endpoint

import (
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/nutsdb/nutsdb"

	"github.com/sabouaram/httpush/config"
	"github.com/sabouaram/httpush/logger"
)

// subject is the fixed NATS subject every downstream connection publishes
// to; the round-robin fan-out spec.md §4.1 asks for happens across
// connections (one per declared endpoint), not across subjects.
const subject = "httpush.ingress"

// unboundedDepth approximates an hwm of zero ("unbounded" per spec.md §3)
// as a large, statically-sized queue: Go channels require a fixed capacity,
// and a queue that grows without any ceiling would defeat the very purpose
// hwm serves elsewhere, so "unbounded" is a generous but finite ceiling.
const unboundedDepth = 1 << 16

// message is one request's frame group: either a single body frame, or a
// header frame followed by a body frame. Keeping both frames in the same
// queue slot is what preserves spec.md §4.3's atomic multi-part ordering
// invariant once requests are served by concurrent net/http goroutines
// (the original's single-threaded event loop gave this for free; Go's
// one-goroutine-per-connection HTTP server does not, so the ordering
// guarantee moves here, into the queue, instead).
type message struct {
	parts [][]byte
}

// conn is one downstream peer: a NATS connection plus its own bounded
// in-memory queue and disk-swap overflow budget (spec.md §3's Endpoint
// descriptor is per-endpoint, so each peer gets its own hwm/swap/linger).
type conn struct {
	cfg  config.Endpoint
	nc   *nats.Conn
	q    chan message
	db   *nutsdb.DB // nil when swap is not configured for this endpoint
	used int64      // atomic: bytes currently held in db
	seq  uint64     // atomic: monotonic swap key
}

// Push is a worker's single outbound fan-out socket (spec.md §4.1's
// make_push): it owns one conn per configured downstream endpoint and
// round-robins Send calls across them. No Push is ever shared across
// workers (spec.md §3 invariants, §5).
type Push struct {
	mu    sync.Mutex
	conns []*conn
	next  uint64
}

// NewPush connects to every endpoint in declaration order, closing any
// connections already opened if a later one fails (spec.md §4.1).
func NewPush(workerID int, endpoints []config.Endpoint, swapDir string) (*Push, error) {
	if len(endpoints) == 0 {
		return nil, ErrorNoEndpoints.Error(nil)
	}

	p := &Push{conns: make([]*conn, 0, len(endpoints))}

	for i, ep := range endpoints {
		nc, err := nats.Connect(
			toNatsURL(ep.URI),
			nats.MaxReconnects(-1),
			nats.DontRandomize(),
		)
		if err != nil {
			p.Close()
			return nil, ErrorConnect.Error(err)
		}

		c := &conn{
			cfg: ep,
			nc:  nc,
			q:   make(chan message, queueCapacity(ep.HWM)),
		}

		if ep.Swap > 0 {
			db, err := openSwap(swapDir, workerID, i)
			if err != nil {
				nc.Close()
				p.Close()
				return nil, ErrorSwapWrite.Error(err)
			}
			c.db = db
		}

		go c.drain()

		p.conns = append(p.conns, c)
	}

	return p, nil
}

func queueCapacity(hwm int) int {
	if hwm <= 0 {
		return unboundedDepth
	}
	return hwm
}

// Send enqueues frames (1 element = body-only, 2 elements = header+body) on
// the next connection in round-robin order, non-blocking. It returns
// ErrorOverflow when both the in-memory queue and the disk swap (if any)
// are exhausted — the caller (C3) turns that into a 503 (spec.md §4.3,§7).
func (p *Push) Send(frames ...[]byte) error {
	p.mu.Lock()
	c := p.conns[p.next%uint64(len(p.conns))]
	p.next++
	p.mu.Unlock()

	m := message{parts: frames}

	select {
	case c.q <- m:
		return nil
	default:
	}

	if c.db == nil {
		return ErrorOverflow.Error(nil)
	}

	if err := c.spill(m); err != nil {
		return ErrorOverflow.Error(err)
	}

	return nil
}

// Close drains (linger) and closes every connection and swap store,
// reverse of bring-up order (spec.md §4.4 teardown).
func (p *Push) Close() {
	for i := len(p.conns) - 1; i >= 0; i-- {
		c := p.conns[i]
		if c.nc != nil {
			_ = c.nc.FlushTimeout(c.cfg.Linger)
			c.nc.Close()
		}
		if c.db != nil {
			_ = c.db.Close()
		}
	}
}

// drain is the single consumer for one connection's queue: it is the only
// goroutine that ever calls nc.Publish for this connection, so frames from
// the same message (the two-element header+body case) are never
// interleaved with another request's frames (spec.md §4.3 ordering).
func (c *conn) drain() {
	for m := range c.q {
		c.publish(m)
		c.drainSwapOnce()
	}
}

func (c *conn) publish(m message) {
	for _, part := range m.parts {
		if err := c.nc.Publish(subject, part); err != nil {
			logger.Error.LogErrorf(err, "publish failed on downstream endpoint %s", c.cfg.URI)
		}
	}
}

// toNatsURL rewrites a zmq-flavoured tcp:// endpoint URI into the nats://
// scheme nats.Connect expects; any other scheme passes through unchanged.
func toNatsURL(uri string) string {
	const zmqPrefix = "tcp://"
	if len(uri) > len(zmqPrefix) && uri[:len(zmqPrefix)] == zmqPrefix {
		return "nats://" + uri[len(zmqPrefix):]
	}
	return uri
}
