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

// Package lifecycle implements C6: the process-wide signal-driven shutdown
// flag (spec.md §4, §5's "single-writer-many-reader boolean").
package lifecycle

import (
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// Shutdown is a process-wide, single-writer-many-reader shutdown signal.
// The writer is exclusively the signal handler installed by Watch, or a
// fatal error path calling Trigger directly; every read goes through Done,
// which is safe for any number of concurrent readers (spec.md §5's release
// on write / acquire on read is exactly sync.Once + closed-channel
// broadcast: closing a channel is itself a release, and receiving from a
// closed channel is itself an acquire).
type Shutdown struct {
	once sync.Once
	ch   chan struct{}
}

// New allocates a Shutdown in the not-yet-triggered state.
func New() *Shutdown {
	return &Shutdown{ch: make(chan struct{})}
}

// Trigger sets the shutdown flag. Safe to call more than once or
// concurrently; only the first call has an effect.
func (s *Shutdown) Trigger() {
	s.once.Do(func() { close(s.ch) })
}

// Done returns a channel that is closed once the shutdown flag is set
// (spec.md §4.4's teardown trigger: "process-wide shutdown flag or a fatal
// parent-loop error").
func (s *Shutdown) Done() <-chan struct{} {
	return s.ch
}

// Watch installs the signal set from spec.md §5: SIGHUP, SIGINT, SIGTERM,
// and SIGQUIT all trigger shutdown; SIGPIPE is caught and discarded so a
// downstream peer closing its read side never kills the process. It
// returns a stop function that restores default signal handling.
func (s *Shutdown) Watch() (stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	pipeCh := make(chan os.Signal, 1)
	signal.Notify(pipeCh, syscall.SIGPIPE)

	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-sigCh:
				s.Trigger()
			case <-pipeCh:
				// ignored (spec.md §5)
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(sigCh)
		signal.Stop(pipeCh)
		close(done)
	}
}
