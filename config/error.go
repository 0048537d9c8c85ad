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

package config

import "github.com/sabouaram/httpush/errors"

const (
	ErrorFlagParse errors.CodeError = iota + errors.MinPkgHttpush
	ErrorEndpointEmpty
	ErrorEndpointURI
	ErrorSizeSuffix
	ErrorSizeNegative
	ErrorWorkerCount
)

func init() {
	errors.RegisterIdFctMessage(ErrorFlagParse, getMessage)
}

func getMessage(code errors.CodeError) string {
	switch code {
	case ErrorFlagParse:
		return "unknown option or missing argument"
	case ErrorEndpointEmpty:
		return "endpoint list is empty"
	case ErrorEndpointURI:
		return "endpoint URI is not a valid transport address"
	case ErrorSizeSuffix:
		return "size value has an unrecognized suffix, expected one of B, K, M, G"
	case ErrorSizeNegative:
		return "size or duration value must not be negative"
	case ErrorWorkerCount:
		return "worker and io-thread counts must be at least 1"
	}

	return ""
}
