package scan

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"

	"faultscope/src/contracts"
	"faultscope/src/errkind"
	"faultscope/src/sanitize"
	"faultscope/src/transport"
)

const (
	// DefaultMaxLineBytes is the longest line kept; the rest of a longer line
	// is read and counted against the budget but dropped.
	DefaultMaxLineBytes = 1 << 20

	readBufferSize = 64 * 1024
)

// record is one line delivered by a source.
type record struct {
	lineNumber int64
	text       string
	// context marks grep -C neighbours that did not match remotely.
	context bool
	// bytes is the input consumed for this line, newline included.
	bytes int64
}

// errCorrupt marks a decode failure of the artifact itself.
var errCorrupt = errors.New("corrupt stream")

// source yields records in file order.
type source interface {
	// next returns io.EOF at the end of input.
	next() (record, error)
	// close releases the source and reports how the producer ended.
	close() error
}

// lineReader splits a stream into lines of bounded length.
type lineReader struct {
	r       *bufio.Reader
	maxLine int
	buf     []byte
}

func newLineReader(r io.Reader, maxLine int) *lineReader {
	return &lineReader{r: bufio.NewReaderSize(r, readBufferSize), maxLine: maxLine}
}

// next returns the line without its terminator and the bytes consumed.
func (lr *lineReader) next() ([]byte, int64, error) {
	lr.buf = lr.buf[:0]
	var n int64
	for {
		chunk, err := lr.r.ReadSlice('\n')
		n += int64(len(chunk))
		if room := lr.maxLine - len(lr.buf); room > 0 {
			if len(chunk) > room {
				lr.buf = append(lr.buf, chunk[:room]...)
			} else {
				lr.buf = append(lr.buf, chunk...)
			}
		}
		switch {
		case err == nil:
			return trimNewline(lr.buf), n, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if n == 0 {
				return nil, 0, io.EOF
			}
			return trimNewline(lr.buf), n, nil
		default:
			return nil, n, err
		}
	}
}

func trimNewline(b []byte) []byte {
	if len(b) > 0 && b[len(b)-1] == '\n' {
		return b[:len(b)-1]
	}
	return b
}

// localSource reads a cached copy of the artifact.
type localSource struct {
	file   *os.File
	gz     *gzip.Reader
	lines  *lineReader
	lineNo int64
}

func openLocal(plan contracts.QueryPlan, maxLine int) (source, error) {
	f, err := os.Open(plan.LocalPath)
	if err != nil {
		return nil, errkind.New(errkind.ArtifactNotFound, "scan", plan.LocalPath, err)
	}
	s := &localSource{file: f}
	var r io.Reader = f
	if plan.Artifact.Kind == contracts.ArtifactGzip {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: %v", errCorrupt, err)
		}
		s.gz = gz
		r = gz
	}
	s.lines = newLineReader(r, maxLine)
	return s, nil
}

func (s *localSource) next() (record, error) {
	line, n, err := s.lines.next()
	if err != nil {
		if err == io.EOF {
			return record{}, io.EOF
		}
		if s.gz != nil {
			return record{}, fmt.Errorf("%w: %v", errCorrupt, err)
		}
		return record{}, err
	}
	s.lineNo++
	return record{lineNumber: s.lineNo, text: sanitize.Line(line), bytes: n}, nil
}

func (s *localSource) close() error {
	if s.gz != nil {
		s.gz.Close()
	}
	return s.file.Close()
}

// remoteSource reads the output of a remote grep pipeline whose first stage
// ran with -n, so every line carries its number in the artifact.
type remoteSource struct {
	stream transport.Stream
	lines  *lineReader
	path   string
	// decompressing is set for zcat/gzip pipelines.
	decompressing bool
	eof           bool
}

func openRemote(ctx context.Context, t transport.Transport, cmd, path string, decompressing bool, maxLine int) (source, error) {
	st, err := t.Stream(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return &remoteSource{
		stream:        st,
		lines:         newLineReader(st, maxLine),
		path:          path,
		decompressing: decompressing,
	}, nil
}

func (s *remoteSource) next() (record, error) {
	line, n, err := s.lines.next()
	if err != nil {
		if err == io.EOF {
			s.eof = true
		}
		return record{}, err
	}
	text := sanitize.Line(line)
	if text == "--" {
		// grep -C group separator; the bytes still count.
		return record{lineNumber: -1, bytes: n}, nil
	}
	num, rest, sep, ok := splitLineNumber(text)
	if !ok {
		return record{}, errkind.Newf(errkind.TransportFailure, "scan", s.path, "unexpected remote output %q", truncate(text, 80))
	}
	return record{lineNumber: num, text: rest, context: sep == '-', bytes: n}, nil
}

// close inspects how the remote pipeline ended. Only a stream read to EOF is
// judged; a consumer that stopped early killed the command itself.
func (s *remoteSource) close() error {
	res, err := s.stream.Close()
	if !s.eof {
		return nil
	}
	if err != nil {
		return err
	}
	stderr := strings.TrimSpace(res.Stderr)
	switch {
	case strings.Contains(stderr, "No such file"):
		return errkind.Newf(errkind.ArtifactNotFound, "scan", s.path, "%s", stderr)
	case s.decompressing && decompressFailed(stderr):
		return &decompressError{stderr: stderr}
	case strings.Contains(stderr, "grep:") || res.ExitCode > 1:
		return errkind.Newf(errkind.TransportFailure, "scan", s.path, "remote pipeline exited %d: %s", res.ExitCode, truncate(stderr, 200))
	}
	return nil
}

// decompressError reports that the remote decompressor failed.
type decompressError struct {
	stderr string
}

func (e *decompressError) Error() string {
	return "remote decompression failed: " + e.stderr
}

func decompressFailed(stderr string) bool {
	for _, marker := range []string{"zcat:", "gzip:", "gunzip:"} {
		if strings.Contains(stderr, marker) {
			return true
		}
	}
	return false
}

// splitLineNumber parses grep -n output: "12:text" for matches, "12-text"
// for context lines.
func splitLineNumber(s string) (int64, string, byte, bool) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 || i >= len(s) || (s[i] != ':' && s[i] != '-') {
		return 0, "", 0, false
	}
	n, err := strconv.ParseInt(s[:i], 10, 64)
	if err != nil {
		return 0, "", 0, false
	}
	return n, s[i+1:], s[i], true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
