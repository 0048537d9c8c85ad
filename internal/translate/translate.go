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

// Package translate implements the pure request-to-message transformation
// from spec.md §4.5 (C5): no I/O, no shared state, safe to call from any
// worker goroutine without synchronization.
package translate

import (
	"fmt"
	"strings"
)

// Header is one ordered request header, preserving input order (spec.md
// §4.5 requires header serialization in original order).
type Header struct {
	Name  string
	Value string
}

// Request is the subset of an HTTP request the translator needs.
type Request struct {
	Method     string
	URI        string
	Headers    []Header
	RemoteHost string
	Body       []byte
}

// Verdict is the precondition outcome from spec.md §4.5.
type Verdict int

const (
	OK Verdict = iota
	PreconditionFailed
)

// Result is either a single body-only frame or a header+body pair, matching
// spec.md §4.5's Single/Pair output.
type Result struct {
	Verdict     Verdict
	HeaderFrame []byte // nil when IncludeHeaders is false
	BodyFrame   []byte
}

// Translate maps req to a Result under includeHeaders, implementing
// spec.md §4.3 steps 2-4 and §4.5 in full.
//
// The Precondition-Failed verdict fires iff includeHeaders is false and the
// body is empty (spec.md §4.5).
func Translate(req Request, includeHeaders bool) Result {
	if !includeHeaders && len(req.Body) == 0 {
		return Result{Verdict: PreconditionFailed}
	}

	body := req.Body
	if body == nil {
		body = []byte{}
	}
	res := Result{Verdict: OK, BodyFrame: body}

	if includeHeaders {
		res.HeaderFrame = HeaderFrame(req)
	}

	return res
}

// HeaderFrame builds the canonical header frame from spec.md §4.5:
//
//	<METHOD> <URI> HTTP/1.1\r\n
//	<Name>: <Value>\r\n   (one per header, input order)
//
// with X-Forwarded-For rewritten or appended per spec.md §4.3: if present,
// the remote host is appended as ", <remote-host>"; if absent, the header
// is synthesized. No terminating blank line is produced.
func HeaderFrame(req Request) []byte {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", req.Method, req.URI)

	found := false
	for _, h := range req.Headers {
		if strings.EqualFold(h.Name, "X-Forwarded-For") {
			found = true
			fmt.Fprintf(&b, "%s: %s, %s\r\n", h.Name, h.Value, req.RemoteHost)
			continue
		}
		fmt.Fprintf(&b, "%s: %s\r\n", h.Name, h.Value)
	}

	if !found {
		fmt.Fprintf(&b, "X-Forwarded-For: %s\r\n", req.RemoteHost)
	}

	return []byte(b.String())
}
