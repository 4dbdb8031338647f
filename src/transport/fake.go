package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"

	"faultscope/src/errkind"
)

// Fake is an in-memory Transport for tests. It holds a virtual file tree and
// interprets the small shell subset the pipeline renders: cat, zcat,
// gzip -dc, grep and find joined by pipes.
type Fake struct {
	mu       sync.Mutex
	host     string
	files    map[string][]byte
	disabled map[string]bool

	// Fail, when set, is returned by every call whose command or path
	// contains the key.
	Fail map[string]error

	execs     []string
	streams   []string
	downloads map[string]int
	stats     map[string]int
}

// NewFake creates an empty fake host.
func NewFake(host string) *Fake {
	return &Fake{
		host:      host,
		files:     make(map[string][]byte),
		disabled:  make(map[string]bool),
		Fail:      make(map[string]error),
		downloads: make(map[string]int),
		stats:     make(map[string]int),
	}
}

// AddFile stores content at p.
func (f *Fake) AddFile(p string, content []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path.Clean(p)] = content
}

// AddGzipFile stores gzip-compressed content at p.
func (f *Fake) AddGzipFile(p string, content []byte) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write(content)
	_ = zw.Close()
	f.AddFile(p, buf.Bytes())
}

// DisableCommand makes name behave as if it were not installed.
func (f *Fake) DisableCommand(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disabled[name] = true
}

// Execs returns every command passed to Exec.
func (f *Fake) Execs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.execs...)
}

// Streams returns every command passed to Stream.
func (f *Fake) Streams() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.streams...)
}

// Downloads returns how many times p was downloaded.
func (f *Fake) Downloads(p string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.downloads[path.Clean(p)]
}

// Stats returns how many times p was stat'ed.
func (f *Fake) Stats(p string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats[path.Clean(p)]
}

func (f *Fake) Name() string {
	return f.host
}

func (f *Fake) Close() error {
	return nil
}

func (f *Fake) Exec(ctx context.Context, cmd string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, classify("exec", "", ctx, err)
	}
	f.mu.Lock()
	f.execs = append(f.execs, cmd)
	f.mu.Unlock()
	if err := f.failure(cmd); err != nil {
		return Result{}, err
	}
	stdout, stderr, code := f.Run(cmd)
	return Result{Stdout: string(stdout), Stderr: string(stderr), ExitCode: code}, nil
}

func (f *Fake) Stream(ctx context.Context, cmd string) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, classify("stream", "", ctx, err)
	}
	f.mu.Lock()
	f.streams = append(f.streams, cmd)
	f.mu.Unlock()
	if err := f.failure(cmd); err != nil {
		return nil, err
	}
	stdout, stderr, code := f.Run(cmd)
	return &fakeStream{
		ctx:    ctx,
		r:      bytes.NewReader(stdout),
		result: Result{Stderr: string(stderr), ExitCode: code},
	}, nil
}

func (f *Fake) Stat(ctx context.Context, p string) (int64, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, classify("stat", p, ctx, err)
	}
	p = path.Clean(p)
	f.mu.Lock()
	f.stats[p]++
	f.mu.Unlock()
	if err := f.failure("stat " + p); err != nil {
		return 0, false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	content, ok := f.files[p]
	if !ok {
		return 0, false, nil
	}
	return int64(len(content)), true, nil
}

func (f *Fake) Download(ctx context.Context, remotePath, localPath string) error {
	if err := ctx.Err(); err != nil {
		return classify("download", remotePath, ctx, err)
	}
	remotePath = path.Clean(remotePath)
	f.mu.Lock()
	f.downloads[remotePath]++
	content, ok := f.files[remotePath]
	f.mu.Unlock()
	if err := f.failure("download " + remotePath); err != nil {
		return err
	}
	if !ok {
		return errkind.Newf(errkind.TransportFailure, "download", remotePath, "cat exited 1: no such file")
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(localPath, content, 0o644)
}

func (f *Fake) failure(subject string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, err := range f.Fail {
		if strings.Contains(subject, key) {
			return err
		}
	}
	return nil
}

// Run interprets cmd against the virtual file tree.
func (f *Fake) Run(cmd string) (stdout, stderr []byte, code int) {
	stages, err := splitPipeline(cmd)
	if err != nil {
		return nil, []byte("sh: " + err.Error() + "\n"), 2
	}
	var errBuf bytes.Buffer
	var input []byte
	for _, argv := range stages {
		var out []byte
		out, code = f.runOne(argv, input, &errBuf)
		input = out
	}
	return input, errBuf.Bytes(), code
}

func (f *Fake) runOne(argv []string, stdin []byte, stderr *bytes.Buffer) ([]byte, int) {
	for len(argv) > 0 && isAssignment(argv[0]) {
		argv = argv[1:]
	}
	if len(argv) == 0 {
		return stdin, 0
	}
	name := argv[0]
	f.mu.Lock()
	disabled := f.disabled[name]
	f.mu.Unlock()
	if disabled {
		fmt.Fprintf(stderr, "sh: 1: %s: not found\n", name)
		return nil, 127
	}

	switch name {
	case "cat":
		return f.cat(argv[1:], stderr)
	case "zcat":
		return f.decompress("zcat", argv[1:], stderr)
	case "gzip", "gunzip":
		return f.decompress("gzip", argv[1:], stderr)
	case "grep":
		return fakeGrep(argv[1:], stdin, stderr)
	case "find":
		return f.find(argv[1:], stderr)
	default:
		fmt.Fprintf(stderr, "sh: 1: %s: not found\n", name)
		return nil, 127
	}
}

func (f *Fake) cat(args []string, stderr *bytes.Buffer) ([]byte, int) {
	var out []byte
	for _, a := range args {
		f.mu.Lock()
		content, ok := f.files[path.Clean(a)]
		f.mu.Unlock()
		if !ok {
			fmt.Fprintf(stderr, "cat: %s: No such file or directory\n", a)
			return out, 1
		}
		out = append(out, content...)
	}
	return out, 0
}

func (f *Fake) decompress(tool string, args []string, stderr *bytes.Buffer) ([]byte, int) {
	var files []string
	for _, a := range args {
		if !strings.HasPrefix(a, "-") {
			files = append(files, a)
		}
	}
	var out []byte
	for _, a := range files {
		f.mu.Lock()
		content, ok := f.files[path.Clean(a)]
		f.mu.Unlock()
		if !ok {
			fmt.Fprintf(stderr, "gzip: %s: No such file or directory\n", a)
			return out, 1
		}
		zr, err := gzip.NewReader(bytes.NewReader(content))
		if err != nil {
			fmt.Fprintf(stderr, "gzip: %s: not in gzip format\n", a)
			return out, 1
		}
		data, err := io.ReadAll(zr)
		out = append(out, data...)
		if err != nil {
			fmt.Fprintf(stderr, "gzip: %s: unexpected end of file\n", a)
			return out, 1
		}
	}
	return out, 0
}

// find supports: find BASE -type d -name NAME [-print] [-quit]
func (f *Fake) find(args []string, stderr *bytes.Buffer) ([]byte, int) {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "find: missing base")
		return nil, 1
	}
	base := path.Clean(args[0])
	var name string
	quit := false
	for i := 1; i < len(args); i++ {
		switch args[i] {
		case "-name":
			if i+1 < len(args) {
				name = args[i+1]
				i++
			}
		case "-type":
			i++
		case "-quit":
			quit = true
		}
	}

	f.mu.Lock()
	dirs := make(map[string]bool)
	baseExists := false
	for p := range f.files {
		if p == base || strings.HasPrefix(p, base+"/") {
			baseExists = true
		}
		for d := path.Dir(p); d != "/" && d != "."; d = path.Dir(d) {
			dirs[d] = true
		}
	}
	f.mu.Unlock()

	if !baseExists {
		fmt.Fprintf(stderr, "find: '%s': No such file or directory\n", base)
		return nil, 1
	}
	var hits []string
	for d := range dirs {
		if d != base && !strings.HasPrefix(d, base+"/") {
			continue
		}
		if ok, _ := path.Match(name, path.Base(d)); ok || name == "" {
			hits = append(hits, d)
		}
	}
	sort.Strings(hits)
	if quit && len(hits) > 1 {
		hits = hits[:1]
	}
	var out bytes.Buffer
	for _, h := range hits {
		out.WriteString(h + "\n")
	}
	return out.Bytes(), 0
}

// isAssignment reports whether arg is a NAME=value environment prefix.
func isAssignment(arg string) bool {
	eq := strings.IndexByte(arg, '=')
	if eq <= 0 {
		return false
	}
	for i := 0; i < eq; i++ {
		c := arg[i]
		if c != '_' && !('A' <= c && c <= 'Z') && !('a' <= c && c <= 'z') && !(i > 0 && '0' <= c && c <= '9') {
			return false
		}
	}
	return true
}

// lowerLiterals lower-cases ASCII letters that are not escaped.
func lowerLiterals(s string) string {
	b := []byte(s)
	for i := 0; i < len(b); i++ {
		switch {
		case b[i] == '\\':
			i++
		case 'A' <= b[i] && b[i] <= 'Z':
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}

func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}

// fakeGrep supports -n -F -E -i -v -e PATTERN -C N.
func fakeGrep(args []string, stdin []byte, stderr *bytes.Buffer) ([]byte, int) {
	var (
		patterns            []string
		fixed, fold, invert bool
		number              bool
		ctxLines            int
		explicit            bool
	)
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "-e":
			if i+1 >= len(args) {
				fmt.Fprintln(stderr, "grep: option requires an argument -- 'e'")
				return nil, 2
			}
			patterns = append(patterns, args[i+1])
			explicit = true
			i++
		case a == "-C":
			if i+1 >= len(args) {
				return nil, 2
			}
			n, err := strconv.Atoi(args[i+1])
			if err != nil {
				fmt.Fprintf(stderr, "grep: %s: invalid context length argument\n", args[i+1])
				return nil, 2
			}
			ctxLines = n
			i++
		case strings.HasPrefix(a, "-C"):
			n, err := strconv.Atoi(a[2:])
			if err != nil {
				return nil, 2
			}
			ctxLines = n
		case a == "--":
			if i+1 < len(args) && !explicit {
				patterns = append(patterns, args[i+1])
			}
			i = len(args)
		case strings.HasPrefix(a, "-") && len(a) > 1:
			for _, c := range a[1:] {
				switch c {
				case 'n':
					number = true
				case 'F':
					fixed = true
				case 'E':
				case 'i':
					fold = true
				case 'v':
					invert = true
				default:
					fmt.Fprintf(stderr, "grep: invalid option -- '%c'\n", c)
					return nil, 2
				}
			}
		default:
			if !explicit {
				patterns = append(patterns, a)
				explicit = true
			}
		}
	}
	if len(patterns) == 0 {
		fmt.Fprintln(stderr, "Usage: grep [OPTION]... PATTERNS [FILE]...")
		return nil, 2
	}

	// -i folds ASCII letters only, as grep does in the C locale.
	var alts []string
	for _, p := range patterns {
		for _, line := range strings.Split(p, "\n") {
			if fixed {
				line = regexp.QuoteMeta(line)
			}
			if fold {
				line = lowerLiterals(line)
			}
			alts = append(alts, "(?:"+line+")")
		}
	}
	expr := strings.Join(alts, "|")
	re, err := regexp.Compile(expr)
	if err != nil {
		fmt.Fprintf(stderr, "grep: %v\n", err)
		return nil, 2
	}

	text := string(stdin)
	text = strings.TrimSuffix(text, "\n")
	var lines []string
	if text != "" || len(stdin) > 0 {
		lines = strings.Split(text, "\n")
	}

	matched := make([]bool, len(lines))
	found := false
	for i, l := range lines {
		if fold {
			l = lowerASCII(l)
		}
		if re.MatchString(l) != invert {
			matched[i] = true
			found = true
		}
	}

	var out bytes.Buffer
	last := -1
	for i := range lines {
		if !matched[i] {
			continue
		}
		from, to := i-ctxLines, i+ctxLines
		if from < 0 {
			from = 0
		}
		if to >= len(lines) {
			to = len(lines) - 1
		}
		if from <= last {
			from = last + 1
		}
		if ctxLines > 0 && last >= 0 && from > last+1 {
			out.WriteString("--\n")
		}
		for j := from; j <= to; j++ {
			if number {
				sep := "-"
				if matched[j] {
					sep = ":"
				}
				out.WriteString(strconv.Itoa(j+1) + sep)
			}
			out.WriteString(lines[j] + "\n")
			last = j
		}
	}
	if !found {
		return nil, 1
	}
	return out.Bytes(), 0
}

// splitPipeline tokenizes a pipeline using POSIX single/double quoting and
// drops stderr redirections.
func splitPipeline(cmd string) ([][]string, error) {
	var (
		stages [][]string
		argv   []string
		cur    strings.Builder
		inWord bool
	)
	flushWord := func() {
		if inWord {
			argv = append(argv, cur.String())
			cur.Reset()
			inWord = false
		}
	}
	flushStage := func() {
		flushWord()
		var kept []string
		for _, a := range argv {
			if a == "2>/dev/null" || a == "2>&1" {
				continue
			}
			kept = append(kept, a)
		}
		stages = append(stages, kept)
		argv = nil
	}

	for i := 0; i < len(cmd); i++ {
		c := cmd[i]
		switch {
		case c == '\'':
			end := strings.IndexByte(cmd[i+1:], '\'')
			if end < 0 {
				return nil, fmt.Errorf("unterminated quoted string")
			}
			cur.WriteString(cmd[i+1 : i+1+end])
			inWord = true
			i += end + 1
		case c == '"':
			j := i + 1
			for ; j < len(cmd) && cmd[j] != '"'; j++ {
				if cmd[j] == '\\' && j+1 < len(cmd) {
					j++
				}
				cur.WriteByte(cmd[j])
			}
			if j >= len(cmd) {
				return nil, fmt.Errorf("unterminated quoted string")
			}
			inWord = true
			i = j
		case c == '\\' && i+1 < len(cmd):
			cur.WriteByte(cmd[i+1])
			inWord = true
			i++
		case c == '|':
			flushStage()
		case c == ' ' || c == '\t' || c == '\n':
			flushWord()
		default:
			cur.WriteByte(c)
			inWord = true
		}
	}
	flushStage()
	return stages, nil
}

type fakeStream struct {
	ctx    context.Context
	r      io.Reader
	result Result
}

func (s *fakeStream) Read(p []byte) (int, error) {
	if err := s.ctx.Err(); err != nil {
		return 0, err
	}
	return s.r.Read(p)
}

func (s *fakeStream) Close() (Result, error) {
	return s.result, nil
}
