package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"faultscope/src/errkind"
	"faultscope/src/logger"
)

const (
	defaultSSHPort       = 22
	defaultExecTimeout   = 30 * time.Second
	defaultStreamTimeout = 30 * time.Minute
)

// SSHConfig describes how to reach the log host.
type SSHConfig struct {
	Host     string
	Port     int
	User     string
	KeyPath  string
	Password string
	// KnownHostsPath is checked unless InsecureIgnoreHostKey is set.
	KnownHostsPath        string
	InsecureIgnoreHostKey bool
	// ExecTimeout bounds Exec, Stat and Download calls.
	ExecTimeout time.Duration
	// StreamTimeout bounds a whole Stream.
	StreamTimeout time.Duration
}

// SSH is a Transport over a single multiplexed SSH connection.
type SSH struct {
	cfg    SSHConfig
	client *ssh.Client
	logger logger.Logger

	mu     sync.Mutex
	closed bool
}

// DialSSH connects and authenticates.
func DialSSH(ctx context.Context, cfg SSHConfig, log logger.Logger) (*SSH, error) {
	if cfg.Host == "" {
		return nil, errkind.Newf(errkind.InvalidInput, "ssh dial", "", "host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = defaultSSHPort
	}
	if cfg.ExecTimeout <= 0 {
		cfg.ExecTimeout = defaultExecTimeout
	}
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = defaultStreamTimeout
	}

	clientCfg, err := clientConfig(cfg)
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	dialCtx, cancel := context.WithTimeout(ctx, cfg.ExecTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, classify("ssh dial", addr, dialCtx, err)
	}
	if deadline, ok := dialCtx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
	if err != nil {
		conn.Close()
		return nil, classify("ssh handshake", addr, dialCtx, err)
	}
	_ = conn.SetDeadline(time.Time{})

	log.With("host", addr).Info("connected as %s", cfg.User)
	return &SSH{cfg: cfg, client: ssh.NewClient(c, chans, reqs), logger: log}, nil
}

func clientConfig(cfg SSHConfig) (*ssh.ClientConfig, error) {
	var auth []ssh.AuthMethod
	if cfg.KeyPath != "" {
		key, err := os.ReadFile(expandHome(cfg.KeyPath))
		if err != nil {
			return nil, fmt.Errorf("failed to read ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse ssh key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	if len(auth) == 0 {
		return nil, errkind.Newf(errkind.InvalidInput, "ssh dial", "", "no ssh key or password configured")
	}

	var hostKey ssh.HostKeyCallback
	if cfg.InsecureIgnoreHostKey {
		hostKey = ssh.InsecureIgnoreHostKey()
	} else {
		path := expandHome(cfg.KnownHostsPath)
		if path == "" {
			path = expandHome("~/.ssh/known_hosts")
		}
		cb, err := knownhosts.New(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts %s: %w", path, err)
		}
		hostKey = cb
	}

	return &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKey,
		Timeout:         cfg.ExecTimeout,
	}, nil
}

// Name returns the host address.
func (s *SSH) Name() string {
	return s.cfg.Host
}

// Exec runs cmd in a new session.
func (s *SSH) Exec(ctx context.Context, cmd string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ExecTimeout)
	defer cancel()

	session, err := s.newSession()
	if err != nil {
		return Result{}, err
	}
	defer session.Close()

	stdout := newLimitedBuffer(maxExecStdoutBytes)
	stderr := newLimitedBuffer(maxStderrBytes)
	session.Stdout = stdout
	session.Stderr = stderr

	s.logger.Debug("exec: %s", cmd)
	if err := session.Start(cmd); err != nil {
		return Result{}, errkind.New(errkind.TransportFailure, "exec", "", err)
	}

	code, err := waitSession(ctx, session)
	res := Result{Stdout: stdout.String(), Stderr: stderr.String(), ExitCode: code}
	if err != nil {
		return res, classify("exec", "", ctx, err)
	}
	return res, nil
}

// Stream runs cmd and returns its stdout.
func (s *SSH) Stream(ctx context.Context, cmd string) (Stream, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StreamTimeout)

	session, err := s.newSession()
	if err != nil {
		cancel()
		return nil, err
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		cancel()
		return nil, errkind.New(errkind.TransportFailure, "stream", "", err)
	}
	stderr := newLimitedBuffer(maxStderrBytes)
	session.Stderr = stderr

	s.logger.Debug("stream: %s", cmd)
	if err := session.Start(cmd); err != nil {
		session.Close()
		cancel()
		return nil, errkind.New(errkind.TransportFailure, "stream", "", err)
	}

	st := &sshStream{session: session, stdout: stdout, stderr: stderr, ctx: ctx, cancel: cancel, done: make(chan struct{})}
	go st.watch()
	return st, nil
}

// Stat runs stat(1) on the remote host.
func (s *SSH) Stat(ctx context.Context, path string) (int64, bool, error) {
	res, err := s.Exec(ctx, "stat -L -c %s "+Quote(path)+" 2>/dev/null && test -f "+Quote(path))
	if err != nil {
		return 0, false, err
	}
	if res.ExitCode != 0 {
		return 0, false, nil
	}
	size, err := strconv.ParseInt(strings.TrimSpace(res.Stdout), 10, 64)
	if err != nil {
		return 0, false, errkind.Newf(errkind.TransportFailure, "stat", path, "unexpected stat output %q", res.Stdout)
	}
	return size, true, nil
}

// Download streams `cat remotePath` into localPath through a temporary file so
// a failed transfer never leaves a partial file behind.
func (s *SSH) Download(ctx context.Context, remotePath, localPath string) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StreamTimeout)
	defer cancel()

	session, err := s.newSession()
	if err != nil {
		return err
	}
	defer session.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(localPath), ".download-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	stderr := newLimitedBuffer(maxStderrBytes)
	session.Stdout = tmp
	session.Stderr = stderr

	s.logger.Debug("download: %s -> %s", remotePath, localPath)
	if err := session.Start("cat " + Quote(remotePath)); err != nil {
		tmp.Close()
		return errkind.New(errkind.TransportFailure, "download", remotePath, err)
	}
	code, err := waitSession(ctx, session)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return classify("download", remotePath, ctx, err)
	}
	if code != 0 {
		return errkind.Newf(errkind.TransportFailure, "download", remotePath, "cat exited %d: %s", code, strings.TrimSpace(stderr.String()))
	}
	if err := os.Rename(tmp.Name(), localPath); err != nil {
		return fmt.Errorf("failed to move download into place: %w", err)
	}
	return nil
}

// Close closes the connection.
func (s *SSH) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

func (s *SSH) newSession() (*ssh.Session, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, errkind.Newf(errkind.TransportFailure, "session", "", "transport is closed")
	}
	session, err := s.client.NewSession()
	if err != nil {
		return nil, errkind.New(errkind.TransportFailure, "session", "", err)
	}
	return session, nil
}

// waitSession waits for the command and kills it when ctx ends first.
func waitSession(ctx context.Context, session *ssh.Session) (int, error) {
	done := make(chan error, 1)
	go func() { done <- session.Wait() }()

	select {
	case err := <-done:
		return exitCode(err)
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		<-done
		return -1, ctx.Err()
	}
}

func exitCode(err error) (int, error) {
	if err == nil {
		return 0, nil
	}
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitStatus(), nil
	}
	return -1, err
}

type sshStream struct {
	session *ssh.Session
	stdout  io.Reader
	stderr  *limitedBuffer
	ctx     context.Context
	cancel  context.CancelFunc

	// drained is set once stdout reached EOF; the command is then exiting on
	// its own and Close waits for its status.
	drained atomic.Bool

	once   sync.Once
	done   chan struct{}
	result Result
	err    error
}

func (st *sshStream) Read(p []byte) (int, error) {
	n, err := st.stdout.Read(p)
	if err != nil && err != io.EOF && st.ctx.Err() != nil {
		return n, classify("stream", "", st.ctx, st.ctx.Err())
	}
	if err == io.EOF {
		st.drained.Store(true)
	}
	return n, err
}

// watch kills the remote command when the stream context ends.
func (st *sshStream) watch() {
	select {
	case <-st.ctx.Done():
		_ = st.session.Signal(ssh.SIGKILL)
		_ = st.session.Close()
	case <-st.done:
	}
}

func (st *sshStream) Close() (Result, error) {
	st.once.Do(func() {
		// Drain nothing: closing the session stops the remote side if it is
		// still producing output.
		code, err := st.waitOrKill()
		close(st.done)
		st.cancel()
		st.result = Result{Stderr: st.stderr.String(), ExitCode: code}
		if err != nil {
			st.err = classify("stream", "", st.ctx, err)
		}
	})
	return st.result, st.err
}

func (st *sshStream) waitOrKill() (int, error) {
	defer st.session.Close()
	return awaitExit(st.ctx, st.drained.Load(), st.session.Wait, func() {
		_ = st.session.Signal(ssh.SIGKILL)
		_ = st.session.Close()
	})
}

// stopGrace is how long a command whose output was not read to the end gets
// to exit before it is killed.
const stopGrace = 100 * time.Millisecond

// awaitExit collects the exit status of a streamed command. A drained stream
// waits as long as the command needs; otherwise the consumer stopped early and
// the command is killed after stopGrace with exit code -1 and no error.
func awaitExit(ctx context.Context, drained bool, wait func() error, kill func()) (int, error) {
	waitCh := make(chan error, 1)
	go func() { waitCh <- wait() }()

	var grace <-chan time.Time
	if !drained {
		grace = time.After(stopGrace)
	}
	select {
	case err := <-waitCh:
		if ctx.Err() != nil {
			return -1, ctx.Err()
		}
		return exitCode(err)
	case <-ctx.Done():
		kill()
		<-waitCh
		return -1, ctx.Err()
	case <-grace:
		kill()
		<-waitCh
		return -1, nil
	}
}

// classify maps low level failures to the error taxonomy.
func classify(op, path string, ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	var kerr *errkind.Error
	if errors.As(err, &kerr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || (ctx != nil && errors.Is(ctx.Err(), context.DeadlineExceeded)) {
		return errkind.New(errkind.TransportTimeout, op, path, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errkind.New(errkind.TransportTimeout, op, path, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return errkind.New(errkind.TransportFailure, op, path, err)
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
