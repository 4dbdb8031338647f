package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"faultscope/src/errkind"
	"faultscope/src/logger"
)

// Local runs commands with sh on the machine faultscope itself runs on. Used
// when the captures are mounted locally.
type Local struct {
	logger logger.Logger
}

// NewLocal creates a Local transport.
func NewLocal(log logger.Logger) *Local {
	return &Local{logger: log}
}

func (l *Local) Name() string {
	return "local"
}

func (l *Local) Exec(ctx context.Context, cmd string) (Result, error) {
	c := exec.CommandContext(ctx, "sh", "-c", cmd)
	stdout := newLimitedBuffer(maxExecStdoutBytes)
	stderr := newLimitedBuffer(maxStderrBytes)
	c.Stdout = stdout
	c.Stderr = stderr

	l.logger.Debug("exec: %s", cmd)
	err := c.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	code, err := localExitCode(ctx, err)
	res.ExitCode = code
	if err != nil {
		return res, classify("exec", "", ctx, err)
	}
	return res, nil
}

func (l *Local) Stream(ctx context.Context, cmd string) (Stream, error) {
	c := exec.CommandContext(ctx, "sh", "-c", cmd)
	stdout, err := c.StdoutPipe()
	if err != nil {
		return nil, errkind.New(errkind.TransportFailure, "stream", "", err)
	}
	stderr := newLimitedBuffer(maxStderrBytes)
	c.Stderr = stderr

	l.logger.Debug("stream: %s", cmd)
	if err := c.Start(); err != nil {
		return nil, errkind.New(errkind.TransportFailure, "stream", "", err)
	}
	return &localStream{cmd: c, stdout: stdout, stderr: stderr, ctx: ctx}, nil
}

func (l *Local) Stat(_ context.Context, path string) (int64, bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, errkind.New(errkind.TransportFailure, "stat", path, err)
	}
	if !info.Mode().IsRegular() {
		return 0, false, nil
	}
	return info.Size(), true, nil
}

func (l *Local) Download(ctx context.Context, remotePath, localPath string) error {
	src, err := os.Open(remotePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return errkind.New(errkind.ArtifactNotFound, "download", remotePath, err)
		}
		return errkind.New(errkind.TransportFailure, "download", remotePath, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(localPath), ".download-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	_, err = io.Copy(tmp, &ctxReader{ctx: ctx, r: src})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return classify("download", remotePath, ctx, err)
	}
	return os.Rename(tmp.Name(), localPath)
}

func (l *Local) Close() error {
	return nil
}

func localExitCode(ctx context.Context, err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	if ctx.Err() != nil {
		return -1, ctx.Err()
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

type localStream struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *limitedBuffer
	ctx    context.Context

	once   sync.Once
	result Result
	err    error
}

func (s *localStream) Read(p []byte) (int, error) {
	return s.stdout.Read(p)
}

func (s *localStream) Close() (Result, error) {
	s.once.Do(func() {
		// Closing the pipe makes a still-running writer die of SIGPIPE.
		s.stdout.Close()
		err := s.cmd.Wait()
		code, err := localExitCode(s.ctx, err)
		s.result = Result{Stderr: s.stderr.String(), ExitCode: code}
		if err != nil {
			s.err = classify("stream", "", s.ctx, err)
		}
	})
	return s.result, s.err
}

// ctxReader stops a copy when ctx ends.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
