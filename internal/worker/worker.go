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

// Package worker implements C3 of the design: one HTTP-serving worker over
// a shared listening descriptor, forwarding every request through C1's push
// endpoint and answering the coordinator's control-plane commands.
package worker

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	atomicx "github.com/sabouaram/httpush/atomic"
	"github.com/sabouaram/httpush/internal/control"
	"github.com/sabouaram/httpush/internal/endpoint"
	"github.com/sabouaram/httpush/internal/translate"
	"github.com/sabouaram/httpush/logger"
)

// State is the worker state machine from spec.md §4.3.
type State int32

const (
	StateInit State = iota
	StateReady
	StateServing
	StateDraining
	StateTerminated
)

// shutdownGrace is the "handful of milliseconds" spec.md §4.3 allows for
// in-flight responses to flush before the event loop exits on SHUTDOWN.
const shutdownGrace = 50 * time.Millisecond

// reflectRoute is the single reserved, debug-only route (spec.md §4.3, §C).
const reflectRoute = "/reflect"

// counters holds the four response-code tallies plus the request total.
// spec.md §4's invariant ascribes counter ownership to "that worker's
// event-loop thread"; the original's single-threaded event loop gets that
// for free, while net/http's one-goroutine-per-connection model does not,
// so each field is one of the teacher's generic atomic.Value[T] cells,
// incremented with a compare-and-swap retry loop, to keep the aggregate
// correct without serializing requests onto one goroutine.
type counters struct {
	requests atomicx.Value[uint64]
	code200  atomicx.Value[uint64]
	code404  atomicx.Value[uint64]
	code412  atomicx.Value[uint64]
	code503  atomicx.Value[uint64]
}

func newCounters() counters {
	c := counters{
		requests: atomicx.NewValue[uint64](),
		code200:  atomicx.NewValue[uint64](),
		code404:  atomicx.NewValue[uint64](),
		code412:  atomicx.NewValue[uint64](),
		code503:  atomicx.NewValue[uint64](),
	}

	// Value[T]'s CompareAndSwap requires the underlying atomic.Value to have
	// already been Stored once (it otherwise treats the cell as untyped and
	// only accepts an old value of nil); seed every cell at zero so incr's
	// CAS loop has a concretely-typed value to compare against from the
	// first request onward.
	c.requests.Store(0)
	c.code200.Store(0)
	c.code404.Store(0)
	c.code412.Store(0)
	c.code503.Store(0)

	return c
}

func incr(v atomicx.Value[uint64]) {
	for {
		old := v.Load()
		if v.CompareAndSwap(old, old+1) {
			return
		}
	}
}

func (c *counters) snapshot() control.Counters {
	return control.Counters{
		Requests: c.requests.Load(),
		Code200:  c.code200.Load(),
		Code404:  c.code404.Load(),
		Code412:  c.code412.Load(),
		Code503:  c.code503.Load(),
	}
}

// Worker is one worker's event loop: an HTTP server bound to a shared
// listening descriptor, a push endpoint, and a control-channel back-end
// (spec.md §4.3's public contract).
type Worker struct {
	ID             int
	IncludeHeaders bool
	Debug          bool

	ln    net.Listener
	push  *endpoint.Push
	back  control.Back
	srv   *http.Server
	state atomic.Int32
	cnt   counters
}

// New constructs a worker; it does not start serving until Run is called.
func New(id int, ln net.Listener, push *endpoint.Push, back control.Back, includeHeaders, debug bool) *Worker {
	w := &Worker{
		ID:             id,
		IncludeHeaders: includeHeaders,
		Debug:          debug,
		ln:             ln,
		push:           push,
		back:           back,
		cnt:            newCounters(),
	}
	w.state.Store(int32(StateInit))
	return w
}

// State reports the worker's current lifecycle state.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// Run starts the HTTP server and the control-command loop, blocking until
// SHUTDOWN is received and the drain grace period elapses (spec.md §4.3's
// state machine: INIT -> READY -> SERVING -> DRAINING -> TERMINATED).
func (w *Worker) Run() {
	mux := http.NewServeMux()
	if w.Debug {
		mux.HandleFunc(reflectRoute, w.handleReflect)
	}
	mux.HandleFunc("/", w.handlePublish)

	w.srv = &http.Server{Handler: mux}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- w.srv.Serve(w.ln)
	}()

	w.state.Store(int32(StateReady))
	w.back.SendReady()
	w.state.Store(int32(StateServing))

	for {
		select {
		case frame := <-w.back.Commands():
			switch frame.Cmd {
			case control.CmdStats:
				w.back.SendStatsReply(w.cnt.snapshot())
			case control.CmdShutdown:
				w.state.Store(int32(StateDraining))
				time.Sleep(shutdownGrace)
				ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
				_ = w.srv.Shutdown(ctx)
				cancel()
				w.state.Store(int32(StateTerminated))
				return
			default:
				// ignored (spec.md §4.3's control handler)
			}
		case <-serveErr:
			w.state.Store(int32(StateTerminated))
			return
		}
	}
}

// handlePublish implements the publish algorithm of spec.md §4.3.
func (w *Worker) handlePublish(rw http.ResponseWriter, r *http.Request) {
	incr(w.cnt.requests)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		body = nil
	}

	req := translate.Request{
		Method:     r.Method,
		URI:        r.URL.RequestURI(),
		Headers:    orderedHeaders(r),
		RemoteHost: remoteHost(r),
		Body:       body,
	}

	result := translate.Translate(req, w.IncludeHeaders)

	if result.Verdict == translate.PreconditionFailed {
		incr(w.cnt.code412)
		rw.WriteHeader(http.StatusPreconditionFailed)
		return
	}

	var sendErr error
	if result.HeaderFrame != nil {
		sendErr = w.push.Send(result.HeaderFrame, result.BodyFrame)
	} else {
		sendErr = w.push.Send(result.BodyFrame)
	}

	if sendErr != nil {
		incr(w.cnt.code503)
		logger.Error.LogErrorf(sendErr, "worker %d: publish failed", w.ID)
		rw.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	incr(w.cnt.code200)
	rw.WriteHeader(http.StatusOK)
	_, _ = rw.Write([]byte("Sent"))
}

// handleReflect is the debug-only echo route from spec.md §C: request
// line, headers, a blank line, then the body and a trailing blank line.
func (w *Worker) handleReflect(rw http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", r.Method, r.URL.RequestURI())
	for _, h := range orderedHeaders(r) {
		fmt.Fprintf(&b, "%s: %s\r\n", h.Name, h.Value)
	}
	b.WriteString("\r\n")
	b.Write(body)
	b.WriteString("\r\n")

	rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
	rw.WriteHeader(http.StatusOK)
	_, _ = rw.Write([]byte(b.String()))
}

// orderedHeaders flattens r.Header into a deterministic sequence. net/http
// parses headers into a map, so the wire's original ordering is already
// lost by the time a handler runs; sorting by name trades the original's
// literal input order for reproducibility, which is what matters for the
// downstream header frame's own internal well-formedness (spec.md §4.5).
func orderedHeaders(r *http.Request) []translate.Header {
	names := make([]string, 0, len(r.Header))
	for name := range r.Header {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]translate.Header, 0, len(names))
	for _, name := range names {
		for _, v := range r.Header[name] {
			out = append(out, translate.Header{Name: name, Value: v})
		}
	}
	return out
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
