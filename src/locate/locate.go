// Package locate finds the canonical log artifact under a capture directory.
package locate

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"faultscope/src/contracts"
	"faultscope/src/errkind"
	"faultscope/src/logger"
	"faultscope/src/transport"
)

const (
	// DefaultSnapshotHost is the address baked into snapshot directory names.
	DefaultSnapshotHost = "192.168.1.10"

	snapshotPrefix = "snapshot-txtlog-"
	gzipName       = "log.gz"
	rawName        = "log"
)

// Locator resolves a base directory to a LogArtifact.
type Locator struct {
	transport    transport.Transport
	snapshotHost string
	logger       logger.Logger
}

// New creates a Locator. An empty snapshotHost selects DefaultSnapshotHost.
func New(t transport.Transport, snapshotHost string, log logger.Logger) *Locator {
	if snapshotHost == "" {
		snapshotHost = DefaultSnapshotHost
	}
	return &Locator{transport: t, snapshotHost: snapshotHost, logger: log}
}

// SnapshotDirName is the directory name searched for.
func (l *Locator) SnapshotDirName() string {
	return snapshotPrefix + l.snapshotHost
}

// Locate searches basePath for the snapshot directory and picks log.gz, then
// log. Nothing else in the tree is ever considered.
func (l *Locator) Locate(ctx context.Context, basePath string) (contracts.LogArtifact, error) {
	basePath = strings.TrimSpace(basePath)
	if basePath == "" {
		return contracts.LogArtifact{}, errkind.Newf(errkind.InvalidInput, "locate", "", "base path is required")
	}
	if strings.ContainsAny(basePath, "\n\x00") {
		return contracts.LogArtifact{}, errkind.Newf(errkind.InvalidInput, "locate", basePath, "base path contains control characters")
	}

	dir, err := l.findSnapshotDir(ctx, basePath)
	if err != nil {
		return contracts.LogArtifact{}, err
	}

	candidates := []struct {
		name string
		kind contracts.ArtifactKind
	}{
		{gzipName, contracts.ArtifactGzip},
		{rawName, contracts.ArtifactRaw},
	}
	for _, c := range candidates {
		p := path.Join(dir, c.name)
		size, exists, err := l.transport.Stat(ctx, p)
		if err != nil {
			return contracts.LogArtifact{}, err
		}
		if !exists {
			continue
		}
		artifact := contracts.LogArtifact{
			Path:               p,
			Kind:               c.kind,
			SizeBytes:          size,
			LocatedSnapshotDir: dir,
		}
		l.logger.Debug("located %s artifact %s (%d bytes)", c.kind, p, size)
		return artifact, nil
	}

	return contracts.LogArtifact{}, errkind.Newf(errkind.ArtifactNotFound, "locate", dir,
		"neither %s nor %s present", gzipName, rawName).
		WithHint("the snapshot directory exists but holds no log file; the capture may be incomplete")
}

func (l *Locator) findSnapshotDir(ctx context.Context, basePath string) (string, error) {
	name := l.SnapshotDirName()
	cmd := fmt.Sprintf("find %s -type d -name %s -print 2>/dev/null",
		transport.Quote(basePath), transport.Quote(name))

	res, err := l.transport.Exec(ctx, cmd)
	if err != nil {
		return "", err
	}

	// find exits non-zero when parts of the tree are unreadable but may still
	// have printed hits, so the output decides.
	var dirs []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			dirs = append(dirs, line)
		}
	}
	if len(dirs) == 0 {
		return "", errkind.Newf(errkind.ArtifactNotFound, "locate", basePath, "no %s directory", name).
			WithHint("check the base path and the configured snapshot host")
	}
	sort.Strings(dirs)
	if len(dirs) > 1 {
		l.logger.Warn("found %d %s directories under %s, using %s", len(dirs), name, basePath, dirs[0])
	}
	return dirs[0], nil
}
