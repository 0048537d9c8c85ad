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

// Package config maps the CLI surface (spec.md §6) onto the Config struct
// consumed by internal/coordinator. Flag definition and parsing live here;
// privilege dropping, daemonization and signal installation are boundary
// concerns and stay in cmd/httpush (spec.md §1, Deliberately OUT of scope).
package config

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// Endpoint is the immutable-after-parse descriptor from spec.md §3.
type Endpoint struct {
	URI    string
	HWM    int
	Swap   int64
	Linger time.Duration
}

const defaultLinger = 2000 * time.Millisecond

// Config is the fully parsed, validated form of the CLI surface (spec.md §6).
type Config struct {
	BindHost       string
	BindPort       int
	Endpoints      []Endpoint
	MonitorURI     string
	DefaultHWM     int
	DefaultSwap    int64
	DefaultLinger  time.Duration
	IOThreads      int
	Workers        int
	OmitHeaders    bool
	Daemonize      bool
	User           string
	Group          string
	Debug          bool
}

// Default returns the Config populated with spec.md §6's documented defaults.
func Default() Config {
	return Config{
		BindPort:      8080,
		Endpoints:     []Endpoint{{URI: "tcp://127.0.0.1:5555"}},
		MonitorURI:    "tcp://127.0.0.1:5567",
		DefaultLinger: defaultLinger,
		IOThreads:     1,
		Workers:       1,
	}
}

// FlagSet builds the pflag.FlagSet for spec.md §6's CLI surface and binds it
// into cfg. Parse must be called afterwards to apply suffix/URI validation.
func FlagSet(cfg *Config, args []string) (*pflag.FlagSet, *rawFlags) {
	fs := pflag.NewFlagSet("httpush", pflag.ContinueOnError)

	raw := &rawFlags{}

	fs.StringVarP(&cfg.BindHost, "bind", "b", cfg.BindHost, "bind hostname or address (default: all interfaces)")
	fs.IntVarP(&cfg.BindPort, "port", "p", cfg.BindPort, "bind port")
	fs.StringVarP(&raw.endpoints, "zmq", "z", "tcp://127.0.0.1:5555", "comma-separated downstream endpoint URIs")
	fs.StringVarP(&cfg.MonitorURI, "monitor", "m", cfg.MonitorURI, "monitor bind URI")
	fs.StringVarP(&raw.hwm, "hwm", "w", "0", "global default high-water-mark")
	fs.StringVarP(&raw.swap, "swap", "s", "0", "global default swap size (suffix B/K/M/G)")
	fs.StringVarP(&raw.linger, "linger", "l", "2000", "global default linger in milliseconds")
	fs.IntVarP(&cfg.IOThreads, "io-threads", "i", cfg.IOThreads, "messaging-transport I/O threads")
	fs.IntVarP(&cfg.Workers, "threads", "t", cfg.Workers, "number of HTTP worker threads")
	fs.BoolVarP(&cfg.OmitHeaders, "omit-headers", "o", false, "omit the header frame; publish body only")
	fs.BoolVarP(&cfg.Daemonize, "daemonize", "d", false, "daemonize")
	fs.StringVarP(&cfg.User, "user", "u", "", "drop privileges to this user after binding")
	fs.StringVarP(&cfg.Group, "group", "g", "", "drop privileges to this group after binding")
	fs.BoolVar(&cfg.Debug, "debug", false, "enable the /reflect debug route")

	return fs, raw
}

// rawFlags holds the string forms of flags that need size/duration parsing
// before they can populate Config, mirroring the CLI's own string intake.
type rawFlags struct {
	endpoints string
	hwm       string
	swap      string
	linger    string
}

// Parse parses args against a fresh Config, applying every suffix and URI
// validation rule from spec.md §3/§6. On any error it returns the usage
// string alongside the error, so the caller can print usage to stderr and
// exit 1 (spec.md §6).
func Parse(args []string) (Config, string, error) {
	cfg := Default()
	fs, raw := FlagSet(&cfg, args)

	if err := fs.Parse(args); err != nil {
		return cfg, fs.FlagUsages(), ErrorFlagParse.Error(err)
	}

	if cfg.Workers < 1 || cfg.IOThreads < 1 {
		return cfg, fs.FlagUsages(), ErrorWorkerCount.Error(nil)
	}

	hwm, err := ParseSize(raw.hwm)
	if err != nil {
		return cfg, fs.FlagUsages(), err
	}
	cfg.DefaultHWM = int(hwm)

	swap, err := ParseSize(raw.swap)
	if err != nil {
		return cfg, fs.FlagUsages(), err
	}
	cfg.DefaultSwap = swap

	lingerMS, err := strconv.ParseInt(raw.linger, 10, 64)
	if err != nil || lingerMS < 0 {
		return cfg, fs.FlagUsages(), ErrorSizeNegative.Error(err)
	}
	cfg.DefaultLinger = time.Duration(lingerMS) * time.Millisecond

	endpoints, err := parseEndpoints(raw.endpoints, cfg.DefaultHWM, cfg.DefaultSwap, cfg.DefaultLinger)
	if err != nil {
		return cfg, fs.FlagUsages(), err
	}
	cfg.Endpoints = endpoints

	return cfg, fs.FlagUsages(), nil
}

// parseEndpoints splits the comma-separated -z list and applies per-endpoint
// hwm/swap/linger query-parameter overrides (spec.md §3/§6).
func parseEndpoints(list string, defHWM int, defSwap int64, defLinger time.Duration) ([]Endpoint, error) {
	parts := strings.Split(list, ",")
	out := make([]Endpoint, 0, len(parts))

	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}

		u, err := url.Parse(p)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, ErrorEndpointURI.Error(err)
		}

		ep := Endpoint{URI: u.Scheme + "://" + u.Host, HWM: defHWM, Swap: defSwap, Linger: defLinger}

		q := u.Query()
		if v := q.Get("hwm"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return nil, ErrorSizeNegative.Error(err)
			}
			ep.HWM = n
		}
		if v := q.Get("swap"); v != "" {
			n, err := ParseSize(v)
			if err != nil {
				return nil, err
			}
			ep.Swap = n
		}
		if v := q.Get("linger"); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n < 0 {
				return nil, ErrorSizeNegative.Error(err)
			}
			ep.Linger = time.Duration(n) * time.Millisecond
		}

		out = append(out, ep)
	}

	if len(out) == 0 {
		return nil, ErrorEndpointEmpty.Error(nil)
	}

	return out, nil
}

// ParseSize parses a base-1024 byte count with an optional B/K/M/G suffix
// (spec.md §3's swap-size grammar, also used for -s and per-endpoint swap=).
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	mult := int64(1)
	switch last := s[len(s)-1]; last {
	case 'B', 'b':
		mult = 1
		s = s[:len(s)-1]
	case 'K', 'k':
		mult = 1024
		s = s[:len(s)-1]
	case 'M', 'm':
		mult = 1024 * 1024
		s = s[:len(s)-1]
	case 'G', 'g':
		mult = 1024 * 1024 * 1024
		s = s[:len(s)-1]
	}

	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, ErrorSizeSuffix.Error(err)
	}
	if n < 0 {
		return 0, ErrorSizeNegative.Error(nil)
	}

	return n * mult, nil
}
