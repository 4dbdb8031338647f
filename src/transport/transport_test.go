package transport

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faultscope/src/errkind"
	"faultscope/src/logger"
)

func TestQuote(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "SetFunc", "'SetFunc'"},
		{"space", "fa st", "'fa st'"},
		{"single quote", "it's", `'it'\''s'`},
		{"shell meta", "$(rm -rf /);`x`", "'$(rm -rf /);`x`'"},
		{"empty", "", "''"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Quote(tt.in)
			assert.Equal(t, tt.want, got)

			stages, err := splitPipeline("grep -F " + got)
			require.NoError(t, err)
			require.Len(t, stages, 1)
			assert.Equal(t, []string{"grep", "-F", tt.in}, stages[0])
		})
	}
}

func TestSplitPipeline(t *testing.T) {
	stages, err := splitPipeline(`zcat '/a b/log.gz' 2>/dev/null | grep -n -F 'SetFunc' | grep -E "x|y"`)
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"zcat", "/a b/log.gz"},
		{"grep", "-n", "-F", "SetFunc"},
		{"grep", "-E", "x|y"},
	}, stages)

	_, err = splitPipeline("grep 'open")
	assert.Error(t, err)
}

func TestFakeGrep(t *testing.T) {
	f := NewFake("host")
	f.AddFile("/logs/log", []byte("a SetFunc one\nb other\nc SetFunc two\nd other\ne other\nf other\ng SetFunc three\n"))

	tests := []struct {
		name     string
		cmd      string
		wantOut  string
		wantCode int
	}{
		{"numbered", "cat /logs/log | grep -n -F 'SetFunc'", "1:a SetFunc one\n3:c SetFunc two\n7:g SetFunc three\n", 0},
		{"no match", "cat /logs/log | grep -F 'nothing'", "", 1},
		{"fold", "cat /logs/log | grep -i -F 'SETFUNC TWO'", "c SetFunc two\n", 0},
		{"ere alternation", "cat /logs/log | grep -E 'one|three'", "a SetFunc one\ng SetFunc three\n", 0},
		{"context", "cat /logs/log | grep -n -C 1 -F 'three'", "6-f other\n7:g SetFunc three\n", 0},
		{"context groups", "cat /logs/log | grep -n -C1 -e 'one' -e 'three'", "1:a SetFunc one\n2-b other\n--\n6-f other\n7:g SetFunc three\n", 0},
		{"bad regex", "cat /logs/log | grep -E '('", "", 2},
		{"env prefix", "cat /logs/log | LC_ALL=C grep -F 'two'", "c SetFunc two\n", 0},
		{"fold ere literals only", `cat /logs/log | grep -i -E 'SETFUNC\S+'`, "", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, code := f.Run(tt.cmd)
			assert.Equal(t, tt.wantOut, string(out))
			assert.Equal(t, tt.wantCode, code)
		})
	}
}

func TestFakeGrepFoldsASCIIOnly(t *testing.T) {
	f := NewFake("host")
	f.AddFile("/logs/log", []byte("ärger here\nÄRGER there\nMixed Case\n"))

	out, _, code := f.Run("cat /logs/log | LC_ALL=C grep -i -F 'ÄRGER'")
	assert.Equal(t, 0, code)
	assert.Equal(t, "ÄRGER there\n", string(out))

	out, _, _ = f.Run("cat /logs/log | grep -i -F 'mixed CASE'")
	assert.Equal(t, "Mixed Case\n", string(out))
}

func TestFakeDecompress(t *testing.T) {
	f := NewFake("host")
	f.AddGzipFile("/snap/log.gz", []byte("line one\nline two\n"))
	f.AddFile("/snap/bad.gz", []byte("not gzip at all"))

	out, _, code := f.Run("zcat /snap/log.gz | grep -F 'two'")
	assert.Equal(t, "line two\n", string(out))
	assert.Equal(t, 0, code)

	_, stderr, code := f.Run("zcat /snap/bad.gz")
	assert.Equal(t, 1, code)
	assert.Contains(t, string(stderr), "not in gzip format")

	f.DisableCommand("zcat")
	_, stderr, code = f.Run("zcat /snap/log.gz | grep -F 'two'")
	assert.Equal(t, 1, code)
	assert.Contains(t, string(stderr), "zcat: not found")

	out, _, code = f.Run("gzip -dc /snap/log.gz | grep -F 'one'")
	assert.Equal(t, "line one\n", string(out))
	assert.Equal(t, 0, code)
}

func TestFakeFind(t *testing.T) {
	f := NewFake("host")
	f.AddFile("/base/2024/snapshot-txtlog-192.168.1.10/log.gz", []byte("x"))
	f.AddFile("/base/2024/snapshot-txtlog-10.0.0.1/log", []byte("x"))

	res, err := f.Exec(context.Background(), "find '/base' -type d -name 'snapshot-txtlog-192.168.1.10' -print -quit")
	require.NoError(t, err)
	assert.Equal(t, "/base/2024/snapshot-txtlog-192.168.1.10\n", res.Stdout)

	res, err = f.Exec(context.Background(), "find '/missing' -type d -name 'x'")
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)
}

func TestFakeCountsAndFailures(t *testing.T) {
	f := NewFake("host")
	f.AddFile("/base/log", []byte("hello\n"))
	ctx := context.Background()

	size, ok, err := f.Stat(ctx, "/base/log")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(6), size)
	assert.Equal(t, 1, f.Stats("/base/log"))

	dst := filepath.Join(t.TempDir(), "copy")
	require.NoError(t, f.Download(ctx, "/base/log", dst))
	assert.Equal(t, 1, f.Downloads("/base/log"))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))

	f.Fail["/base/log"] = errkind.Newf(errkind.TransportTimeout, "stat", "/base/log", "deadline")
	_, _, err = f.Stat(ctx, "/base/log")
	assert.True(t, errors.Is(err, errkind.ErrTransportTimeout))
}

func TestLocalTransport(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "log")
	require.NoError(t, os.WriteFile(src, []byte("alpha\nbeta\ngamma\n"), 0o644))

	l := NewLocal(&logger.SilentLogger{})
	ctx := context.Background()

	size, ok, err := l.Stat(ctx, src)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(17), size)

	_, ok, err = l.Stat(ctx, filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.False(t, ok)

	res, err := l.Exec(ctx, "grep -c a "+Quote(src))
	require.NoError(t, err)
	assert.Equal(t, "3\n", res.Stdout)

	res, err = l.Exec(ctx, "grep -F zzz "+Quote(src))
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)

	st, err := l.Stream(ctx, "cat "+Quote(src)+" | grep -n -F 'beta'")
	require.NoError(t, err)
	out, err := io.ReadAll(st)
	require.NoError(t, err)
	assert.Equal(t, "2:beta\n", string(out))
	res, err = st.Close()
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)

	dst := filepath.Join(dir, "cache", "copy")
	require.NoError(t, l.Download(ctx, src, dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "alpha\nbeta\ngamma\n", string(data))

	err = l.Download(ctx, filepath.Join(dir, "missing"), dst)
	assert.True(t, errors.Is(err, errkind.ErrArtifactNotFound))
}

func TestLimitedBuffer(t *testing.T) {
	b := newLimitedBuffer(4)
	n, err := b.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, "abcd", b.String())
	assert.True(t, b.truncated)
}

func TestAwaitExit(t *testing.T) {
	slow := func(err error) func() error {
		return func() error {
			time.Sleep(3 * stopGrace)
			return err
		}
	}
	blocked := func(stop chan struct{}) (func() error, func()) {
		return func() error { <-stop; return errors.New("killed") }, func() { close(stop) }
	}

	t.Run("drained stream waits for a slow exit", func(t *testing.T) {
		code, err := awaitExit(context.Background(), true, slow(nil), func() { t.Error("killed a drained command") })
		require.NoError(t, err)
		assert.Equal(t, 0, code)
	})

	t.Run("drained stream surfaces wait errors", func(t *testing.T) {
		code, err := awaitExit(context.Background(), true, slow(io.ErrUnexpectedEOF), func() {})
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
		assert.Equal(t, -1, code)
	})

	t.Run("early stop kills after the grace period", func(t *testing.T) {
		wait, kill := blocked(make(chan struct{}))
		code, err := awaitExit(context.Background(), false, wait, kill)
		require.NoError(t, err)
		assert.Equal(t, -1, code)
	})

	t.Run("cancellation kills and reports the context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		wait, kill := blocked(make(chan struct{}))
		time.AfterFunc(10*time.Millisecond, cancel)
		code, err := awaitExit(ctx, true, wait, kill)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, -1, code)
	})
}
