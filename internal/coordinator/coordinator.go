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

// Package coordinator implements C4: listening-socket bring-up, worker
// fan-out over a shared descriptor, the monitor's stats fan-out/fan-in, and
// teardown (spec.md §4.4).
package coordinator

import (
	"encoding/xml"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/bits-and-blooms/bitset"

	"github.com/sabouaram/httpush/config"
	"github.com/sabouaram/httpush/errors/pool"
	"github.com/sabouaram/httpush/internal/control"
	"github.com/sabouaram/httpush/internal/endpoint"
	"github.com/sabouaram/httpush/internal/worker"
	"github.com/sabouaram/httpush/logger"
)

// xmlDeclaration is spec.md §6's literal document header. It intentionally
// does not reuse encoding/xml.Header, which omits the space before "?>".
const xmlDeclaration = `<?xml version="1.0" encoding="UTF-8" ?>` + "\n"

// readyTimeout is the per-worker bring-up handshake budget (spec.md §5).
const readyTimeout = 2 * time.Second

// statsRounds and statsRoundBudget implement the 5x1s stats fan-in retry
// budget of spec.md §4.4 step 4 / §5.
const (
	statsRounds      = 5
	statsRoundBudget = 1 * time.Second
)

// statsPrefix is the literal payload prefix the monitor handler matches
// (spec.md §4.4 step 2: "first five bytes, any trailing ignored").
const statsPrefix = "stats"

// Coordinator owns the shared listener, every worker, and the monitor
// endpoint (spec.md §4.4).
type Coordinator struct {
	cfg     config.Config
	ln      net.Listener
	workers []*worker.Worker
	fronts  []control.Front
	pushes  []*endpoint.Push
	wg      sync.WaitGroup
	monitor *endpoint.Monitor
}

// Bootstrap creates the listening socket, spawns cfg.Workers workers against
// it, waits for each to reach READY (or fails on FAIL/timeout), and brings up
// the monitor endpoint. On any bring-up failure, everything started so far
// is torn down before returning the error (spec.md §4.4, §7's BringUp kind).
func Bootstrap(cfg config.Config) (*Coordinator, error) {
	addr := fmt.Sprintf("%s:%d", cfg.BindHost, cfg.BindPort)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, ErrorListen.Error(err)
	}

	co := &Coordinator{cfg: cfg, ln: ln}

	for i := 0; i < cfg.Workers; i++ {
		push, err := endpoint.NewPush(i, cfg.Endpoints, swapDirFor(cfg))
		if err != nil {
			co.teardownPartial()
			return nil, ErrorBringUp.Error(err)
		}

		ch := control.NewChannel()
		w := worker.New(i, ln, push, ch.Back(), !cfg.OmitHeaders, cfg.Debug)

		co.workers = append(co.workers, w)
		co.fronts = append(co.fronts, ch.Front())
		co.pushes = append(co.pushes, push)

		co.wg.Add(1)
		go func() {
			defer co.wg.Done()
			w.Run()
		}()
	}

	if err := co.awaitReady(); err != nil {
		co.teardownPartial()
		return nil, err
	}

	mon, err := endpoint.NewMonitor(cfg.MonitorURI)
	if err != nil {
		co.teardownPartial()
		return nil, ErrorMonitorBind.Error(err)
	}
	co.monitor = mon

	return co, nil
}

// swapDirFor picks the disk-swap root, a fixed relative path reused on every
// run; spec.md §6 ties daemonized
// working-directory selection to TMPDIR/tmp, and swap storage follows suit
// so overflow frames land next to the process's own working directory.
func swapDirFor(cfg config.Config) string {
	return "httpush-swap"
}

// awaitReady waits for every worker's bring-up handshake, collecting one
// failure per worker into a pool.Pool rather than bailing out on the first
// (spec.md §4.4/A.2: report every worker's init failure, not just the
// first) so the returned error names every worker that never reached READY.
func (co *Coordinator) awaitReady() error {
	failures := pool.New()

	for i, f := range co.fronts {
		select {
		case frame := <-f.RecvFrame():
			if frame.Cmd == control.CmdFail {
				failures.Add(fmt.Errorf("worker %d reported FAIL during bring-up", i))
			}
		case <-time.After(readyTimeout):
			logger.Error.Logf("worker %d did not reach READY within %s", i, readyTimeout)
			failures.Add(fmt.Errorf("worker %d did not reach READY within %s", i, readyTimeout))
		}
	}

	if failures.Len() > 0 {
		return ErrorBringUp.Error(failures.Error())
	}
	return nil
}

// Run drives the parent loop until shutdown is closed, then tears down
// every component (spec.md §4.4's parent loop and teardown sequence).
func (co *Coordinator) Run(shutdown <-chan struct{}) {
	for {
		select {
		case req := <-co.monitor.Requests():
			co.handleStats(req)
		case <-shutdown:
			co.teardown()
			return
		}
	}
}

func (co *Coordinator) handleStats(req endpoint.AddressedRequest) {
	if len(req.Payload) < len(statsPrefix) || string(req.Payload[:len(statsPrefix)]) != statsPrefix {
		return
	}

	for _, f := range co.fronts {
		f.SendCommand(control.CmdStats)
	}

	agg, responded := co.collectStats()

	doc, err := buildStatsDocument(len(co.workers), responded, agg)
	if err != nil {
		logger.Error.LogErrorf(err, "failed to marshal stats document")
		return
	}

	if err := co.monitor.Reply(req, doc); err != nil {
		logger.Error.LogErrorf(err, "failed to send stats reply")
	}
}

type indexedFrame struct {
	idx   int
	frame control.Frame
}

// collectStats fans a STATS_REPLY wait out to one goroutine per worker and
// fans the results back in over up to statsRounds one-second rounds,
// the Go-idiomatic analog of spec.md §4.4 step 4's bounded poll loop.
// answered tracks which worker indices have already been folded into agg, a
// bitset membership test standing in for the original's per-worker pending
// bitmask (the same bitmask spec.md §9 resolves AND/OR ambiguity for).
func (co *Coordinator) collectStats() (control.Counters, int) {
	var agg control.Counters

	total := len(co.fronts)
	answered := bitset.New(uint(total))
	responded := 0

	fanin := make(chan indexedFrame, total)
	for i, f := range co.fronts {
		go func(i int, f control.Front) {
			fanin <- indexedFrame{idx: i, frame: <-f.RecvFrame()}
		}(i, f)
	}

roundLoop:
	for round := 0; round < statsRounds && responded < total; round++ {
		deadline := time.After(statsRoundBudget)
		for responded < total {
			select {
			case got := <-fanin:
				if !answered.Test(uint(got.idx)) {
					answered.Set(uint(got.idx))
					responded++
					agg.Add(got.frame.Snap)
				}
			case <-deadline:
				continue roundLoop
			}
		}
	}

	return agg, responded
}

type statsDocument struct {
	XMLName    xml.Name  `xml:"httpush"`
	Statistics statsBody `xml:"statistics"`
}

type statsBody struct {
	Threads   int           `xml:"threads"`
	Responses int           `xml:"responses"`
	Requests  uint64        `xml:"requests"`
	Status    []statusCount `xml:"status"`
}

type statusCount struct {
	Code  int    `xml:"code,attr"`
	Value uint64 `xml:",chardata"`
}

// buildStatsDocument renders the XML document literally matching spec.md
// §6's schema.
func buildStatsDocument(threads, responses int, agg control.Counters) ([]byte, error) {
	doc := statsDocument{
		Statistics: statsBody{
			Threads:   threads,
			Responses: responses,
			Requests:  agg.Requests,
			Status: []statusCount{
				{Code: 200, Value: agg.Code200},
				{Code: 404, Value: agg.Code404},
				{Code: 412, Value: agg.Code412},
				{Code: 503, Value: agg.Code503},
			},
		},
	}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}

	out := append([]byte(xmlDeclaration), body...)
	return out, nil
}

// stopWorkers signals every worker to shut down, joins its goroutine, and
// then frees its push endpoint (HTTP server, event base, control channel;
// spec.md §4.4: "join every worker thread; free each worker's HTTP server,
// event base, push endpoint, and control channel"). Safe to call with a
// partially-started worker set: co.wg only ever counts goroutines that were
// actually spawned, and co.pushes only ever holds endpoints that actually
// opened.
func (co *Coordinator) stopWorkers() {
	for _, f := range co.fronts {
		f.SendCommand(control.CmdShutdown)
	}

	co.wg.Wait()

	for _, p := range co.pushes {
		p.Close()
	}
}

// teardown implements spec.md §4.4's teardown sequence: SHUTDOWN every
// worker, close the monitor, release the listener.
func (co *Coordinator) teardown() {
	co.stopWorkers()

	if co.monitor != nil {
		co.monitor.Close()
	}

	_ = co.ln.Close()
}

// teardownPartial releases whatever bring-up managed to start before a
// fatal error (spec.md §7's BringUp error kind: "free partial workers, exit
// 1").
func (co *Coordinator) teardownPartial() {
	co.stopWorkers()

	if co.monitor != nil {
		co.monitor.Close()
	}
	if co.ln != nil {
		_ = co.ln.Close()
	}
}
