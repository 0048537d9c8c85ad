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

// Command httpush is the gateway's entrypoint: CLI parsing, daemonization,
// privilege dropping, bring-up, and teardown (spec.md §1, §6 — all
// explicitly boundary concerns the component design leaves to the binary).
package main

import (
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/sabouaram/httpush/config"
	"github.com/sabouaram/httpush/internal/coordinator"
	"github.com/sabouaram/httpush/internal/lifecycle"
	"github.com/sabouaram/httpush/logger"
)

// daemonChildEnv marks a re-exec'd process as the already-daemonized child,
// since Go cannot safely fork() a multi-threaded runtime in place; re-exec
// under a new session is the idiomatic substitute (spec.md §6's -d).
const daemonChildEnv = "HTTPUSH_DAEMON_CHILD"

func main() {
	cfg, usage, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}

	if cfg.Debug {
		logger.SetLevel(logger.DebugLevel)
	}

	if cfg.Daemonize {
		if err := daemonize(); err != nil {
			fmt.Fprintln(os.Stderr, "daemonize:", err)
			os.Exit(1)
		}
	}

	co, err := coordinator.Bootstrap(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bring-up failed:", err)
		os.Exit(1)
	}

	if cfg.User != "" || cfg.Group != "" {
		if err := dropPrivileges(cfg.User, cfg.Group); err != nil {
			fmt.Fprintln(os.Stderr, "privilege drop failed:", err)
			os.Exit(1)
		}
	}

	sd := lifecycle.New()
	stop := sd.Watch()
	defer stop()

	co.Run(sd.Done())
}

// daemonize implements spec.md §6's -d: if this process is not yet the
// daemonized child, it re-execs itself detached (new session, std streams
// on /dev/null) and exits; the child continues past this call after
// chdir'ing into TMPDIR (or /tmp).
func daemonize() error {
	if os.Getenv(daemonChildEnv) == "1" {
		dir := os.Getenv("TMPDIR")
		if dir == "" {
			dir = "/tmp"
		}
		return os.Chdir(dir)
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer devNull.Close()

	cmd := exec.Command(os.Args[0], os.Args[1:]...)
	cmd.Env = append(os.Environ(), daemonChildEnv+"=1")
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return err
	}

	os.Exit(0)
	return nil
}

// dropPrivileges implements spec.md §6's -u/-g: switch to the named group
// first, then user, after the listening socket is already bound. Uses
// golang.org/x/sys/unix rather than the frozen stdlib syscall package for
// the actual id switch, per upstream syscall's own recommendation to prefer
// x/sys for anything beyond what it already wraps.
func dropPrivileges(user, group string) error {
	if group != "" {
		gid, err := lookupGroupID(group)
		if err != nil {
			return err
		}
		if err := unix.Setgid(gid); err != nil {
			return err
		}
	}

	if user != "" {
		uid, err := lookupUserID(user)
		if err != nil {
			return err
		}
		if err := unix.Setuid(uid); err != nil {
			return err
		}
	}

	return nil
}

func lookupUserID(name string) (int, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(u.Uid)
}

func lookupGroupID(name string) (int, error) {
	g, err := user.LookupGroup(name)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(g.Gid)
}
