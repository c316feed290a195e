// Package audio plays live speech streams and persists audio artifacts.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/voicerag/internal/domain"
)

// CommandPlayer pipes the stream into an external player such as
// `ffplay -autoexit -nodisp -f s16le -ar 24000 -ac 1 -`.
// Playback runs to completion once started; cancelling ctx does not interrupt it.
type CommandPlayer struct {
	name   string
	args   []string
	logger *zap.Logger
}

// NewCommandPlayer creates a player from argv. argv must not be empty.
func NewCommandPlayer(argv []string, logger *zap.Logger) (*CommandPlayer, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, errors.New("playback command is empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandPlayer{name: argv[0], args: argv[1:], logger: logger}, nil
}

// Play streams r into the command's stdin and waits for it to exit.
func (p *CommandPlayer) Play(ctx context.Context, r io.Reader, format domain.AudioFormat) error {
	cmd := exec.CommandContext(context.WithoutCancel(ctx), p.name, p.args...) //nolint:gosec // operator-configured command
	cmd.Stdin = r
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 200 {
			msg = msg[len(msg)-200:]
		}
		return fmt.Errorf("player %s: %w %s: %w", p.name, err, msg, domain.ErrSynthesis)
	}

	p.logger.Debug("Playback finished", zap.String("player", p.name), zap.String("format", string(format)))
	return nil
}

// DiscardPlayer drains the stream without playing it. Used on headless hosts.
type DiscardPlayer struct{}

// Play reads r to EOF.
func (DiscardPlayer) Play(_ context.Context, r io.Reader, _ domain.AudioFormat) error {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return fmt.Errorf("drain audio stream: %w: %w", err, domain.ErrSynthesis)
	}
	return nil
}
