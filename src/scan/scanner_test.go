package scan

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faultscope/src/contracts"
	"faultscope/src/errkind"
	"faultscope/src/faultid"
	"faultscope/src/keyword"
	"faultscope/src/patterns"
	"faultscope/src/transport"
)

const remotePath = "/cap/snapshot-txtlog-192.168.1.10/log.gz"

var sampleLog = strings.Join([]string{
	"[2024-05-21 10:00:00.001] boot ok",
	"[2024-05-21 10:00:01.000] SetFunc fa_id:0x0165 fa_st:1 fu_st:0x3 fu_st_n:0x0",
	"[2024-05-21 10:00:02.000] SetFunc fa_id:0x0200 fa_st:1 fu_st:0x1",
	"[2024-05-21 10:00:03.000] heartbeat",
	"[2024-05-21 10:00:04.000] SetFunc fa_id:0x0165 fa_st:0 fu_st:0x0 fu_st_n:0x3",
	"[2024-05-21 10:00:05.000] SetFunc fa_id:0x0300 fu_st:0x4",
}, "\n") + "\n"

var fallbackLog = strings.Join([]string{
	"[100.000] DegTbl update Drv fault=0x165",
	"[101.000] unrelated",
	"[102.000] DegTbl only",
	"[103.000] Drv DegTbl id:0x0200",
}, "\n") + "\n"

func gz(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func localPlan(t *testing.T, content []byte, kind contracts.ArtifactKind) contracts.QueryPlan {
	t.Helper()
	p := filepath.Join(t.TempDir(), "artifact")
	require.NoError(t, os.WriteFile(p, content, 0o644))
	return contracts.QueryPlan{
		Artifact:  contracts.LogArtifact{Path: remotePath, Kind: kind, SizeBytes: int64(len(content))},
		Mode:      contracts.ModeLocal,
		LocalPath: p,
	}
}

func remotePlan(fake *transport.Fake, content string, kind contracts.ArtifactKind) contracts.QueryPlan {
	path := remotePath
	if kind == contracts.ArtifactGzip {
		fake.AddGzipFile(path, []byte(content))
	} else {
		path = strings.TrimSuffix(path, ".gz")
		fake.AddFile(path, []byte(content))
	}
	return contracts.QueryPlan{
		Artifact: contracts.LogArtifact{Path: path, Kind: kind},
		Mode:     contracts.ModeRemote,
	}
}

func collect(sc *Scanner) []contracts.MatchedLine {
	var out []contracts.MatchedLine
	for sc.Next() {
		out = append(out, sc.Line())
	}
	return out
}

func lineNumbers(lines []contracts.MatchedLine) []int64 {
	var out []int64
	for _, l := range lines {
		out = append(out, l.LineNumber)
	}
	return out
}

func TestPrimaryStrategyLocal(t *testing.T) {
	for _, kind := range []contracts.ArtifactKind{contracts.ArtifactRaw, contracts.ArtifactGzip} {
		t.Run(string(kind), func(t *testing.T) {
			content := []byte(sampleLog)
			if kind == contracts.ArtifactGzip {
				content = gz(t, sampleLog)
			}
			sc := New(context.Background(), localPlan(t, content, kind), Options{})
			got := collect(sc)

			require.NoError(t, sc.Err())
			assert.Equal(t, Complete, sc.Status())
			assert.Equal(t, []int64{2, 5, 6}, lineNumbers(got))

			first := got[0]
			assert.Equal(t, "0x0165", first.FaultID)
			assert.Equal(t, "2024-05-21 10:00:01.000", first.Timestamp)
			require.NotNil(t, first.ReportState)
			assert.Equal(t, 1, *first.ReportState)
			require.NotNil(t, first.LevelState)
			assert.Equal(t, 3, *first.LevelState)
			assert.True(t, first.Countable)

			stats := sc.Stats()
			assert.Equal(t, PrimaryName, stats.Strategy)
			assert.Equal(t, int64(6), stats.LinesRead)
			assert.Equal(t, int64(len(sampleLog)), stats.BytesRead)
			assert.Equal(t, int64(3), stats.Matched)
			assert.False(t, stats.FallbackUsed)
			assert.False(t, stats.RemoteFiltered)
			assert.Equal(t, []contracts.StageCount{
				{Stage: "setfunc-level/marker", Passed: 4},
				{Stage: "setfunc-level/level", Passed: 3},
			}, stats.Stages)
		})
	}
}

func TestPredicateRunsLast(t *testing.T) {
	id := faultid.MustParse("165")
	pred, err := keyword.Pattern(patterns.IdentifierERE(id), true)
	require.NoError(t, err)

	plan := localPlan(t, []byte(sampleLog), contracts.ArtifactRaw)
	plan.KeywordPredicate = pred
	sc := New(context.Background(), plan, Options{})
	got := collect(sc)

	assert.Equal(t, []int64{2, 5}, lineNumbers(got))
	stages := sc.Stats().Stages
	require.Len(t, stages, 3)
	assert.Equal(t, contracts.StageCount{Stage: "setfunc-level/keyword", Passed: 2}, stages[2])
}

func TestFallbackStrategy(t *testing.T) {
	sc := New(context.Background(), localPlan(t, []byte(fallbackLog), contracts.ArtifactRaw), Options{})
	got := collect(sc)

	require.NoError(t, sc.Err())
	assert.Equal(t, Complete, sc.Status())
	require.Len(t, got, 2)
	assert.Equal(t, "0x0165", got[0].FaultID)
	assert.Equal(t, "100.000", got[0].Timestamp)
	assert.Nil(t, got[0].ReportState)
	assert.Nil(t, got[0].LevelState)
	assert.False(t, got[0].Countable)
	assert.Equal(t, "0x0200", got[1].FaultID)

	stats := sc.Stats()
	assert.Equal(t, FallbackName, stats.Strategy)
	assert.True(t, stats.FallbackUsed)
	assert.Equal(t, int64(8), stats.LinesRead, "both passes count against the budget")
}

func TestNoFallbackWhenPrimaryMatches(t *testing.T) {
	content := sampleLog + fallbackLog
	sc := New(context.Background(), localPlan(t, []byte(content), contracts.ArtifactRaw), Options{})
	got := collect(sc)
	assert.Len(t, got, 3)
	assert.False(t, sc.Stats().FallbackUsed)
}

func TestByteBudget(t *testing.T) {
	plan := localPlan(t, []byte(sampleLog), contracts.ArtifactRaw)
	budget := contracts.ScanBudget{MaxBytes: int64(len(sampleLog)) - 10}
	sc := New(context.Background(), plan, Options{Budget: budget})
	got := collect(sc)

	require.NoError(t, sc.Err())
	assert.Equal(t, BudgetExceeded, sc.Status())
	assert.Contains(t, sc.Reason(), "byte limit")
	assert.Equal(t, []int64{2, 5}, lineNumbers(got))
	assert.LessOrEqual(t, sc.Stats().BytesRead, budget.MaxBytes)
	assert.False(t, sc.Stats().FallbackUsed)
}

func TestLineBudget(t *testing.T) {
	plan := localPlan(t, []byte(sampleLog), contracts.ArtifactRaw)
	sc := New(context.Background(), plan, Options{Budget: contracts.ScanBudget{MaxLinesPerFile: 2}})
	got := collect(sc)

	assert.Equal(t, BudgetExceeded, sc.Status())
	assert.Equal(t, []int64{2}, lineNumbers(got))
	assert.Equal(t, int64(2), sc.Stats().LinesRead)
}

func TestBudgetBlocksFallback(t *testing.T) {
	plan := localPlan(t, []byte(fallbackLog), contracts.ArtifactRaw)
	sc := New(context.Background(), plan, Options{Budget: contracts.ScanBudget{MaxLinesPerFile: 2}})
	got := collect(sc)

	assert.Empty(t, got)
	assert.Equal(t, BudgetExceeded, sc.Status())
	assert.Equal(t, PrimaryName, sc.Stats().Strategy)
}

// TestBudgetInvariant checks random budgets against a generated artifact in
// both modes: consumed bytes never exceed MaxBytes and emitted lines never
// exceed MaxLinesPerFile.
func TestBudgetInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var b strings.Builder
	for i := 0; i < 500; i++ {
		switch rng.Intn(3) {
		case 0:
			fmt.Fprintf(&b, "[%d.%03d] SetFunc fa_id:0x%04X fa_st:%d fu_st:0x%d\n", i, rng.Intn(1000), rng.Intn(8), rng.Intn(2), 3+rng.Intn(2))
		case 1:
			fmt.Fprintf(&b, "[%d.000] DegTbl Drv id:0x%04X\n", i, rng.Intn(8))
		default:
			fmt.Fprintf(&b, "[%d.000] %s\n", i, strings.Repeat("noise ", rng.Intn(20)))
		}
	}
	content := b.String()

	for round := 0; round < 40; round++ {
		budget := contracts.ScanBudget{
			MaxBytes:        int64(1 + rng.Intn(len(content)+100)),
			MaxLinesPerFile: int64(1 + rng.Intn(600)),
		}

		local := New(context.Background(), localPlan(t, []byte(content), contracts.ArtifactRaw), Options{Budget: budget})
		fake := transport.NewFake("host")
		remote := New(context.Background(), remotePlan(fake, content, contracts.ArtifactGzip), Options{Budget: budget, Transport: fake})

		for name, sc := range map[string]*Scanner{"local": local, "remote": remote} {
			got := collect(sc)
			stats := sc.Stats()
			require.NoError(t, sc.Err(), name)
			assert.LessOrEqual(t, stats.BytesRead, budget.MaxBytes, "%s bytes, budget %+v", name, budget)
			assert.LessOrEqual(t, int64(len(got)), budget.MaxLinesPerFile, "%s lines, budget %+v", name, budget)
			for _, m := range got {
				assert.LessOrEqual(t, m.LineNumber, budget.MaxLinesPerFile)
			}
		}
	}
}

func TestCancellationKeepsPartialResults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sc := New(ctx, localPlan(t, []byte(sampleLog), contracts.ArtifactRaw), Options{})
	require.True(t, sc.Next())
	first := sc.Line()
	cancel()

	var rest []contracts.MatchedLine
	for sc.Next() {
		rest = append(rest, sc.Line())
	}
	assert.Equal(t, int64(2), first.LineNumber)
	assert.Empty(t, rest)
	assert.Equal(t, Cancelled, sc.Status())
	assert.True(t, sc.Status().Partial())
	assert.NoError(t, sc.Err())
}

// scriptedTransport answers each Stream call with the next scripted output.
type scriptedTransport struct {
	*transport.Fake
	outputs []scriptedOutput
	calls   int
}

type scriptedOutput struct {
	stdout string
	stderr string
	code   int
	// hold keeps the stream open after stdout until ctx ends, like a remote
	// command that is still running. The ssh stream reports EOF once the
	// session is killed.
	hold bool
}

func (s *scriptedTransport) Stream(ctx context.Context, cmd string) (transport.Stream, error) {
	out := s.outputs[s.calls]
	s.calls++
	return &scriptedStream{ctx: ctx, out: out, r: strings.NewReader(out.stdout)}, nil
}

type scriptedStream struct {
	ctx context.Context
	out scriptedOutput
	r   *strings.Reader
}

func (s *scriptedStream) Read(p []byte) (int, error) {
	if s.r.Len() > 0 {
		return s.r.Read(p)
	}
	if s.out.hold {
		<-s.ctx.Done()
	}
	return 0, io.EOF
}

func (s *scriptedStream) Close() (transport.Result, error) {
	if s.out.hold && s.ctx.Err() != nil {
		return transport.Result{ExitCode: -1}, s.ctx.Err()
	}
	return transport.Result{Stderr: s.out.stderr, ExitCode: s.out.code}, nil
}

func scriptedPlan() contracts.QueryPlan {
	return contracts.QueryPlan{
		Artifact: contracts.LogArtifact{Path: remotePath, Kind: contracts.ArtifactGzip},
		Mode:     contracts.ModeRemote,
	}
}

func TestRemoteCancellationKeepsPartialResults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := &scriptedTransport{Fake: transport.NewFake("host"), outputs: []scriptedOutput{
		{stdout: "2:[2024-05-21 10:00:01.000] SetFunc fa_id:0x0165 fa_st:1 fu_st:0x3\n", hold: true},
	}}
	sc := New(ctx, scriptedPlan(), Options{Transport: tr})
	require.True(t, sc.Next())
	first := sc.Line()

	// Cancel while the scanner waits on remote output.
	time.AfterFunc(50*time.Millisecond, cancel)
	assert.False(t, sc.Next())

	assert.Equal(t, int64(2), first.LineNumber)
	assert.Equal(t, "0x0165", first.FaultID)
	assert.Equal(t, Cancelled, sc.Status())
	assert.True(t, sc.Status().Partial())
	assert.Contains(t, sc.Reason(), "cancelled")
	assert.NoError(t, sc.Err())
	assert.Equal(t, int64(1), sc.Stats().Matched)
	assert.Equal(t, 1, tr.calls, "a cancelled pass never falls back")
}

func TestRemoteDecompressRetryResetsAccounting(t *testing.T) {
	retried := "2:[2024-05-21 10:00:01.000] SetFunc fa_id:0x0165 fa_st:1 fu_st:0x3\n"
	tr := &scriptedTransport{Fake: transport.NewFake("host"), outputs: []scriptedOutput{
		{stdout: "--\n", stderr: "zcat: " + remotePath + ": unexpected end of file", code: 1},
		{stdout: retried},
	}}
	sc := New(context.Background(), scriptedPlan(), Options{Transport: tr})
	got := collect(sc)

	require.NoError(t, sc.Err())
	assert.Equal(t, Complete, sc.Status())
	assert.Equal(t, []int64{2}, lineNumbers(got))
	assert.Equal(t, 2, tr.calls)
	stats := sc.Stats()
	assert.Equal(t, int64(len(retried)), stats.BytesRead, "the failed pass is not charged")
	assert.Equal(t, int64(1), stats.LinesRead)
}

func TestCorruptGzipLocal(t *testing.T) {
	var b strings.Builder
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20000; i++ {
		fmt.Fprintf(&b, "[%d.000] SetFunc fa_id:0x0165 fa_st:%d fu_st:0x3 pad=%08x\n", i, i%2, rng.Uint32())
	}
	full := gz(t, b.String())
	truncated := full[:len(full)/2]

	sc := New(context.Background(), localPlan(t, truncated, contracts.ArtifactGzip), Options{})
	got := collect(sc)

	assert.NoError(t, sc.Err())
	assert.Equal(t, Corrupt, sc.Status())
	assert.Contains(t, sc.Reason(), "corrupt")
	assert.NotEmpty(t, got, "lines decoded before the damage are kept")
	assert.Less(t, len(got), 20000)

	sc = New(context.Background(), localPlan(t, []byte("plain text, not gzip\n"), contracts.ArtifactGzip), Options{})
	assert.Empty(t, collect(sc))
	assert.Equal(t, Corrupt, sc.Status())
}

func TestInvalidUTF8AndLongLines(t *testing.T) {
	long := "[1.0] SetFunc fa_id:0x0001 fu_st:0x4 " + strings.Repeat("x", 5000)
	content := "[0.5] SetFunc fa_id:0x0002 fu_st:0x3 \xff\xfe bad bytes\n" + long + "\n"

	sc := New(context.Background(), localPlan(t, []byte(content), contracts.ArtifactRaw), Options{MaxLineBytes: 1024})
	got := collect(sc)

	require.Len(t, got, 2)
	assert.Contains(t, got[0].RawText, "�")
	assert.Equal(t, "0x0002", got[0].FaultID)
	assert.Len(t, got[1].RawText, 1024)
	assert.Equal(t, int64(len(content)), sc.Stats().BytesRead)
}

func TestRemoteScan(t *testing.T) {
	fake := transport.NewFake("host")
	plan := remotePlan(fake, sampleLog, contracts.ArtifactGzip)
	pred, err := keyword.Pattern(patterns.IdentifierERE(faultid.MustParse("0x165")), true)
	require.NoError(t, err)
	plan.KeywordPredicate = pred

	sc := New(context.Background(), plan, Options{Transport: fake})
	got := collect(sc)

	require.NoError(t, sc.Err())
	assert.Equal(t, Complete, sc.Status())
	assert.Equal(t, []int64{2, 5}, lineNumbers(got))
	assert.Equal(t, "0x0165", got[1].FaultID)
	require.NotNil(t, got[1].LevelClearState)
	assert.Equal(t, 3, *got[1].LevelClearState)

	stats := sc.Stats()
	assert.True(t, stats.RemoteFiltered)
	assert.Equal(t, int64(2), stats.LinesRead)

	streams := fake.Streams()
	require.Len(t, streams, 1)
	assert.True(t, strings.HasPrefix(streams[0], "zcat '"+remotePath+"' | LC_ALL=C grep -n -F -e 'SetFunc' | LC_ALL=C grep -E -e "), streams[0])
}

func TestRemoteFallback(t *testing.T) {
	fake := transport.NewFake("host")
	plan := remotePlan(fake, fallbackLog, contracts.ArtifactRaw)

	sc := New(context.Background(), plan, Options{Transport: fake})
	got := collect(sc)

	require.NoError(t, sc.Err())
	assert.Equal(t, []int64{1, 4}, lineNumbers(got))
	assert.True(t, sc.Stats().FallbackUsed)

	streams := fake.Streams()
	require.Len(t, streams, 2)
	assert.Equal(t, "cat '/cap/snapshot-txtlog-192.168.1.10/log' | LC_ALL=C grep -n -F -e 'DegTbl' | LC_ALL=C grep -F -e 'Drv'", streams[1])
}

func TestRemoteDecompressRetry(t *testing.T) {
	fake := transport.NewFake("host")
	plan := remotePlan(fake, sampleLog, contracts.ArtifactGzip)
	fake.DisableCommand("zcat")

	sc := New(context.Background(), plan, Options{Transport: fake})
	got := collect(sc)

	require.NoError(t, sc.Err())
	assert.Equal(t, Complete, sc.Status())
	assert.Len(t, got, 3)
	streams := fake.Streams()
	require.Len(t, streams, 2)
	assert.True(t, strings.HasPrefix(streams[1], "gzip -dc "))
}

func TestRemoteCorrupt(t *testing.T) {
	fake := transport.NewFake("host")
	fake.AddFile(remotePath, []byte("definitely not gzip"))
	plan := contracts.QueryPlan{
		Artifact: contracts.LogArtifact{Path: remotePath, Kind: contracts.ArtifactGzip},
		Mode:     contracts.ModeRemote,
	}

	sc := New(context.Background(), plan, Options{Transport: fake})
	assert.Empty(t, collect(sc))
	assert.NoError(t, sc.Err())
	assert.Equal(t, Corrupt, sc.Status())
	assert.Len(t, fake.Streams(), 2, "one retry with the alternate decompressor, no fallback pass")
}

func TestRemoteTransportError(t *testing.T) {
	fake := transport.NewFake("host")
	plan := remotePlan(fake, sampleLog, contracts.ArtifactGzip)
	fake.Fail["zcat"] = errkind.Newf(errkind.TransportTimeout, "stream", "", "deadline exceeded")

	sc := New(context.Background(), plan, Options{Transport: fake})
	assert.Empty(t, collect(sc))
	assert.Equal(t, Failed, sc.Status())
	assert.Equal(t, errkind.TransportTimeout, errkind.KindOf(sc.Err()))
}

func TestSearchContextLocalMatchesRemote(t *testing.T) {
	var lines []string
	for i := 1; i <= 30; i++ {
		text := fmt.Sprintf("[%d.0] line %d", i, i)
		switch i {
		case 5, 7, 20:
			text += " Brake warning"
		case 12:
			text += " brake only"
		case 28:
			text += " warning only"
		}
		lines = append(lines, text)
	}
	content := strings.Join(lines, "\n") + "\n"

	pred, err := keyword.BuildPredicate([]string{"brake", "warning"}, keyword.And, true)
	require.NoError(t, err)

	local := localPlan(t, []byte(content), contracts.ArtifactRaw)
	local.KeywordPredicate = pred
	local.ContextLines = 2

	fake := transport.NewFake("host")
	remote := remotePlan(fake, content, contracts.ArtifactGzip)
	remote.KeywordPredicate = pred
	remote.ContextLines = 2

	opts := Options{Strategies: []Strategy{Search}, Transport: fake}
	gotLocal := collect(New(context.Background(), local, opts))
	gotRemote := collect(New(context.Background(), remote, opts))

	require.Equal(t, []int64{5, 7, 20}, lineNumbers(gotLocal))
	assert.Equal(t, gotLocal, gotRemote)

	first := gotLocal[0]
	assert.Equal(t, []contracts.ContextLine{{LineNumber: 3, Text: "[3.0] line 3"}, {LineNumber: 4, Text: "[4.0] line 4"}}, first.Before)
	require.Len(t, first.After, 2)
	assert.Equal(t, int64(6), first.After[0].LineNumber)
	assert.Equal(t, int64(7), first.After[1].LineNumber)

	assert.Equal(t, "zcat '"+remotePath+"' | LC_ALL=C grep -n -i -C 2 -E -e 'brake|warning'", fake.Streams()[0])
}

func TestRemoteCommand(t *testing.T) {
	pred, err := keyword.BuildPredicate([]string{"it's"}, keyword.And, false)
	require.NoError(t, err)
	plan := contracts.QueryPlan{
		Artifact:         contracts.LogArtifact{Path: "/a b/log"},
		KeywordPredicate: pred,
	}

	got, err := RemoteCommand(plan, Primary, "cat")
	require.NoError(t, err)
	assert.Equal(t, `cat '/a b/log' | LC_ALL=C grep -n -F -e 'SetFunc' | LC_ALL=C grep -E -e '`+patterns.LevelFieldERE+`' | LC_ALL=C grep -F -e 'it'\''s'`, got)

	plan.KeywordPredicate = nil
	_, err = RemoteCommand(plan, Search, "cat")
	assert.Error(t, err)
}

func TestSplitLineNumber(t *testing.T) {
	tests := []struct {
		in     string
		num    int64
		rest   string
		sep    byte
		wantOK bool
	}{
		{"12:text", 12, "text", ':', true},
		{"7-ctx: a", 7, "ctx: a", '-', true},
		{"3:", 3, "", ':', true},
		{"abc", 0, "", 0, false},
		{"12", 0, "", 0, false},
		{"12 x", 0, "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			num, rest, sep, ok := splitLineNumber(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.num, num)
			assert.Equal(t, tt.rest, rest)
			assert.Equal(t, tt.sep, sep)
		})
	}
}

func TestCloseStopsEarly(t *testing.T) {
	sc := New(context.Background(), localPlan(t, []byte(sampleLog), contracts.ArtifactRaw), Options{})
	require.True(t, sc.Next())
	require.NoError(t, sc.Close())
	assert.False(t, sc.Next())
	assert.Equal(t, Stopped, sc.Status())
	assert.False(t, sc.Status().Partial())
}
