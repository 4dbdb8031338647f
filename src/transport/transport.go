// Package transport executes commands on, and copies files from, the host that
// stores the log captures. The pipeline never opens sockets itself; it only
// issues shell command strings through a Transport.
package transport

import (
	"context"
	"io"
	"strings"
)

// Result is the outcome of a finished remote command. A non-zero exit code is
// not a transport error; callers decide what it means.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Stream is the stdout of a running command. Close stops the command if it is
// still running and returns its exit status and (bounded) stderr.
type Stream interface {
	io.Reader
	Close() (Result, error)
}

// Transport is the contract the pipeline consumes.
type Transport interface {
	// Exec runs cmd to completion and buffers its output.
	Exec(ctx context.Context, cmd string) (Result, error)
	// Stream runs cmd and exposes stdout without buffering it.
	Stream(ctx context.Context, cmd string) (Stream, error)
	// Stat reports the size of path and whether it exists as a regular file.
	Stat(ctx context.Context, path string) (size int64, exists bool, err error)
	// Download copies remotePath to localPath.
	Download(ctx context.Context, remotePath, localPath string) error
	// Name identifies the remote end (host or "local") for cache keys and logs.
	Name() string
	Close() error
}

// maxStderrBytes bounds the stderr kept per command.
const maxStderrBytes = 64 * 1024

// maxExecStdoutBytes bounds Exec output; large outputs must use Stream.
const maxExecStdoutBytes = 16 * 1024 * 1024

// Grep runs grep in the C locale: patterns match bytes literally and -i folds
// ASCII letters only, the same comparison the in-process predicates make.
const Grep = "LC_ALL=C grep"

// Quote wraps s in single quotes for POSIX shells.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// limitedBuffer keeps the first max bytes written and silently drops the rest.
type limitedBuffer struct {
	buf       []byte
	max       int
	truncated bool
}

func newLimitedBuffer(max int) *limitedBuffer {
	return &limitedBuffer{max: max}
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	room := b.max - len(b.buf)
	if room <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > room {
		b.buf = append(b.buf, p[:room]...)
		b.truncated = true
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	return string(b.buf)
}
