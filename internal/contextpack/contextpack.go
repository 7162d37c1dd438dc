// Package contextpack assembles the context string handed to judges. It is
// the only core collaborator that touches the filesystem or launches a
// process, and it never fails: any error collapses to a short stub so an
// audit can always proceed with whatever context exists.
package contextpack

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DRCubix/gansauditor/internal/types"
)

// FailureStub is the prefix of every degraded context pack.
const FailureStub = "Context building failed"

// Limits bound how much context one pack may carry.
type Limits struct {
	// MaxFileBytes caps each individual file's contribution.
	MaxFileBytes int64
	// MaxTotalBytes caps the whole pack.
	MaxTotalBytes int64
	// MaxFiles caps how many files a workspace walk may include.
	MaxFiles int
	// Concurrency bounds parallel file reads for the paths scope.
	Concurrency int
}

// DefaultLimits returns the production bounds.
func DefaultLimits() Limits {
	return Limits{
		MaxFileBytes:  64 << 10,  // 64 KiB per file
		MaxTotalBytes: 512 << 10, // 512 KiB per pack
		MaxFiles:      50,
		Concurrency:   4,
	}
}

// PackRequest selects what goes into a context pack.
type PackRequest struct {
	Scope types.AuditScope
	// Paths lists files for the paths scope.
	Paths []string
	// Diff is a pre-computed diff for the diff scope; when empty the
	// packer asks git.
	Diff string
	// Root is the workspace root for workspace walks and git invocations.
	Root string
}

// Packer builds context packs. Safe for concurrent callers.
type Packer struct {
	limits Limits
	logger *zap.Logger
}

// New builds a packer, filling zero limits from defaults.
func New(limits Limits, logger *zap.Logger) *Packer {
	def := DefaultLimits()
	if limits.MaxFileBytes <= 0 {
		limits.MaxFileBytes = def.MaxFileBytes
	}
	if limits.MaxTotalBytes <= 0 {
		limits.MaxTotalBytes = def.MaxTotalBytes
	}
	if limits.MaxFiles <= 0 {
		limits.MaxFiles = def.MaxFiles
	}
	if limits.Concurrency <= 0 {
		limits.Concurrency = def.Concurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Packer{limits: limits, logger: logger}
}

// Build assembles the context pack for the request. It never returns an
// error; failures degrade to a stub beginning with FailureStub.
func (p *Packer) Build(ctx context.Context, req PackRequest) string {
	var pack string
	var err error

	switch req.Scope {
	case types.ScopePaths:
		pack, err = p.buildPaths(ctx, req)
	case types.ScopeWorkspace:
		pack, err = p.buildWorkspace(ctx, req)
	default: // diff is also the fallback scope
		pack, err = p.buildDiff(ctx, req)
	}

	if err != nil {
		p.logger.Warn("context pack degraded to stub",
			zap.String("scope", string(req.Scope)),
			zap.Error(err))
		return fmt.Sprintf("%s: %v", FailureStub, err)
	}
	if pack == "" {
		pack = "No context available for this audit."
	}
	return p.truncate(pack)
}

func (p *Packer) buildDiff(ctx context.Context, req PackRequest) (string, error) {
	if strings.TrimSpace(req.Diff) != "" {
		return "## Diff\n\n```diff\n" + req.Diff + "\n```", nil
	}

	cmd := exec.CommandContext(ctx, "git", "diff", "HEAD")
	if req.Root != "" {
		cmd.Dir = req.Root
	}
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git diff: %w", err)
	}
	if len(strings.TrimSpace(string(out))) == 0 {
		return "## Diff\n\nWorking tree is clean.", nil
	}
	return "## Diff\n\n```diff\n" + string(out) + "\n```", nil
}

// buildPaths reads the listed files with bounded concurrency, preserving
// request order in the output.
func (p *Packer) buildPaths(ctx context.Context, req PackRequest) (string, error) {
	if len(req.Paths) == 0 {
		return "", fmt.Errorf("paths scope requires at least one path")
	}

	sections := make([]string, len(req.Paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.limits.Concurrency)

	var mu sync.Mutex
	failures := 0
	for i, path := range req.Paths {
		i, path := i, path
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			section, err := p.readSection(path)
			if err != nil {
				mu.Lock()
				failures++
				mu.Unlock()
				section = fmt.Sprintf("## %s\n\n(unreadable: %v)", path, err)
			}
			sections[i] = section
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	if failures == len(req.Paths) {
		return "", fmt.Errorf("none of the %d requested paths were readable", len(req.Paths))
	}
	return strings.Join(sections, "\n\n"), nil
}

var skipDirs = map[string]bool{
	".git": true, "node_modules": true, "vendor": true,
	"dist": true, "build": true, ".idea": true, ".vscode": true,
}

var codeExts = map[string]bool{
	".go": true, ".ts": true, ".tsx": true, ".js": true, ".jsx": true,
	".py": true, ".rs": true, ".java": true, ".rb": true, ".c": true,
	".h": true, ".cpp": true, ".md": true, ".yaml": true, ".yml": true,
	".json": true, ".sql": true, ".sh": true,
}

func (p *Packer) buildWorkspace(ctx context.Context, req PackRequest) (string, error) {
	root := req.Root
	if root == "" {
		root = "."
	}

	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable subtrees
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return fs.SkipDir
			}
			return nil
		}
		if !codeExts[filepath.Ext(d.Name())] {
			return nil
		}
		paths = append(paths, path)
		if len(paths) >= p.limits.MaxFiles {
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("workspace walk: %w", err)
	}
	if len(paths) == 0 {
		return "", fmt.Errorf("no source files under %s", root)
	}
	sort.Strings(paths)

	return p.buildPaths(ctx, PackRequest{Scope: types.ScopePaths, Paths: paths})
}

func (p *Packer) readSection(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	truncated := false
	if int64(len(data)) > p.limits.MaxFileBytes {
		data = data[:p.limits.MaxFileBytes]
		truncated = true
	}
	section := fmt.Sprintf("## %s\n\n```\n%s\n```", path, string(data))
	if truncated {
		section += "\n(truncated)"
	}
	return section, nil
}

func (p *Packer) truncate(pack string) string {
	if int64(len(pack)) <= p.limits.MaxTotalBytes {
		return pack
	}
	return pack[:p.limits.MaxTotalBytes] + "\n(context pack truncated)"
}
