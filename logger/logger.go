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

// Package logger provides the package-level structured logger shared by every
// component of the gateway, in the style of the teacher's liblog package:
// leveled singletons (Info, Warn, Error, Debug) wrapping a single
// logrus.Logger instance so call sites read logger.Info.Logf(...) rather
// than threading a *Logger through every constructor.
package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Level mirrors logrus' severity levels under the teacher's own naming.
type Level uint32

const (
	DebugLevel Level = Level(logrus.DebugLevel)
	InfoLevel  Level = Level(logrus.InfoLevel)
	WarnLevel  Level = Level(logrus.WarnLevel)
	ErrorLevel Level = Level(logrus.ErrorLevel)
)

// Entry is the leveled logging handle returned by each package var below.
type Entry struct {
	lvl logrus.Level
}

var base = logrus.New()

// Info, Warn, Error and Debug are the package-level logging handles used
// throughout the gateway: logger.Info.Logf("worker %d ready", id).
var (
	Debug = Entry{lvl: logrus.DebugLevel}
	Info  = Entry{lvl: logrus.InfoLevel}
	Warn  = Entry{lvl: logrus.WarnLevel}
	Error = Entry{lvl: logrus.ErrorLevel}
)

func init() {
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	base.SetLevel(logrus.InfoLevel)
}

// SetLevel changes the minimal level of message actually emitted.
func SetLevel(lvl Level) {
	base.SetLevel(logrus.Level(lvl))
}

// SetOutput redirects every subsequent log line to w.
func SetOutput(w io.Writer) {
	base.SetOutput(w)
}

// Fields attaches structured context (worker id, endpoint URI, ...) to the
// next log line, mirroring logrus.Fields without re-exporting the type.
type Fields = logrus.Fields

// Log emits msg at the entry's level with no formatting.
func (e Entry) Log(msg string) {
	base.Log(e.lvl, msg)
}

// Logf emits a printf-style message at the entry's level.
func (e Entry) Logf(format string, args ...interface{}) {
	base.Logf(e.lvl, format, args...)
}

// WithFields returns a structured logging entry carrying the given fields.
// The returned entry is not bound to e's level: each line is logged at the
// level of the method called on it.
func (e Entry) WithFields(f Fields) *logrus.Entry {
	return base.WithFields(f)
}

// LogErrorf logs err alongside a formatted message, regardless of e's own
// level, at ErrorLevel — used on recovered transport/transient failures
// (§7 of the spec) so they are never silently dropped. When err is nil, only
// the message is logged, at e's own level.
func (e Entry) LogErrorf(err error, format string, args ...interface{}) {
	if err == nil {
		base.Logf(e.lvl, format, args...)
		return
	}
	base.WithError(err).Logf(logrus.ErrorLevel, format, args...)
}
