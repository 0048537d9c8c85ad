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

package endpoint

import (
	"github.com/nats-io/nats.go"

	"github.com/sabouaram/httpush/logger"
)

// monitorSubject is the fixed subject the coordinator's addressed
// request/reply endpoint listens on (spec.md §4.1's make_monitor,
// §4.4's "wait indefinitely on the monitor endpoint").
const monitorSubject = "httpush.monitor"

// identityCeiling caps the addressed request's identity at 255 bytes
// (spec.md §9's first Open Question, resolved in SPEC_FULL.md §C): NATS
// carries the identity as the message's reply-to inbox subject, and an
// oversized reply-to is treated the same as an oversized ROUTER identity
// in the original transport — dropped rather than processed.
const identityCeiling = 255

// AddressedRequest is one monitor request, with Identity standing in for
// the ROUTER-style frame identity of spec.md §4.1 (recv_addressed):
// NATS's reply-to inbox subject plays that role, since it alone carries
// enough information to route a reply back to exactly one requester.
type AddressedRequest struct {
	Identity []byte
	Payload  []byte

	msg *nats.Msg
}

// Monitor is the coordinator's addressed request/reply endpoint (C1's
// make_monitor/recv_addressed/send_addressed, spec.md §4.1), bound once
// to the configured monitor URI.
type Monitor struct {
	nc  *nats.Conn
	sub *nats.Subscription
	out chan AddressedRequest
}

// NewMonitor binds a request/reply endpoint at uri (spec.md §4.4 bring-up).
func NewMonitor(uri string) (*Monitor, error) {
	nc, err := nats.Connect(toNatsURL(uri), nats.MaxReconnects(-1))
	if err != nil {
		return nil, ErrorConnect.Error(err)
	}

	m := &Monitor{nc: nc, out: make(chan AddressedRequest, 1)}

	sub, err := nc.Subscribe(monitorSubject, m.onMessage)
	if err != nil {
		nc.Close()
		return nil, ErrorConnect.Error(err)
	}
	m.sub = sub

	return m, nil
}

func (m *Monitor) onMessage(msg *nats.Msg) {
	if len(msg.Reply) == 0 || len(msg.Reply) > identityCeiling {
		logger.Warn.Logf("monitor: dropping request with oversized or missing identity (%d bytes)", len(msg.Reply))
		return
	}

	m.out <- AddressedRequest{
		Identity: []byte(msg.Reply),
		Payload:  msg.Data,
		msg:      msg,
	}
}

// Requests exposes the channel of incoming addressed requests for the
// coordinator's parent loop to range/select over (spec.md §4.4 step 1).
func (m *Monitor) Requests() <-chan AddressedRequest {
	return m.out
}

// Reply sends payload back to the identity that originated req
// (spec.md §4.1's send_addressed, §4.4 step 5).
func (m *Monitor) Reply(req AddressedRequest, payload []byte) error {
	if err := m.nc.Publish(string(req.Identity), payload); err != nil {
		return ErrorConnect.Error(err)
	}
	return nil
}

// Close releases the monitor endpoint (spec.md §4.4 teardown).
func (m *Monitor) Close() {
	if m.sub != nil {
		_ = m.sub.Unsubscribe()
	}
	if m.nc != nil {
		m.nc.Close()
	}
}
