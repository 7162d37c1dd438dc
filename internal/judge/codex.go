package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/DRCubix/gansauditor/internal/types"
)

// Codex shells out to an external reviewer CLI: the request JSON goes to
// stdin, a review JSON comes back on stdout. Any binary that speaks the
// Review wire format works.
type Codex struct {
	binary string
	args   []string
	logger *zap.Logger
}

// NewCodex builds a subprocess judge around the named binary.
func NewCodex(binary string, args []string, logger *zap.Logger) *Codex {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Codex{binary: binary, args: args, logger: logger}
}

// Audit launches one reviewer process for the request. The context bounds
// the subprocess lifetime.
func (c *Codex) Audit(ctx context.Context, req *Request) (*types.Review, error) {
	if req == nil {
		return nil, fmt.Errorf("nil judge request")
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode judge request: %w", err)
	}

	cmd := exec.CommandContext(ctx, c.binary, c.args...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("codex judge failed: %w (stderr: %s)",
			err, strings.TrimSpace(stderr.String()))
	}

	var review types.Review
	if err := types.DecodeLenient(stdout.String(), &review); err != nil {
		return nil, fmt.Errorf("codex judge produced unparseable output: %w", err)
	}
	if len(review.JudgeCards) == 0 {
		review.JudgeCards = []types.JudgeCard{{
			Model: c.binary,
			Score: float64(review.Overall),
		}}
	}
	if review.Iterations < 1 {
		review.Iterations = 1
	}
	c.logger.Debug("codex judge completed",
		zap.String("binary", c.binary),
		zap.Int("overall", review.Overall))
	return &review, nil
}

// IsAvailable reports whether the binary resolves on PATH.
func (c *Codex) IsAvailable(ctx context.Context) bool {
	_, err := exec.LookPath(c.binary)
	return err == nil
}

// Version asks the binary for --version, falling back to its name.
func (c *Codex) Version(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, c.binary, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("codex version probe failed: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}
