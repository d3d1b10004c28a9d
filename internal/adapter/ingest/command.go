// Package ingest hands captured artifacts to the downstream ingestion program.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cwygoda/postcatch/internal/domain"
)

const (
	defaultTimeout = 5 * time.Minute
	// outputTail bounds how much process output ends up in errors.
	outputTail = 2048
	// waitDelay bounds the wait for output pipes after the process is killed.
	waitDelay = 2 * time.Second
)

var artifactIDPattern = regexp.MustCompile(`(?m)(?:Materia ID:\s*|ARTIFACT_ID=)(\d+)`)

// Options configures a CommandIngestor.
type Options struct {
	Command string
	// Args are placed before the positional arguments.
	Args    []string
	Dir     string
	Timeout time.Duration
	Log     *zap.Logger
}

// CommandIngestor runs an external program once per captured link.
type CommandIngestor struct {
	command string
	args    []string
	dir     string
	timeout time.Duration
	log     *zap.Logger
}

var _ domain.Ingestor = (*CommandIngestor)(nil)

// NewCommandIngestor resolves the command and creates an ingestor.
func NewCommandIngestor(opts Options) (*CommandIngestor, error) {
	if strings.TrimSpace(opts.Command) == "" {
		return nil, errors.New("ingest command not configured")
	}
	path, err := exec.LookPath(opts.Command)
	if err != nil {
		return nil, fmt.Errorf("ingest command %q: %w", opts.Command, err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &CommandIngestor{
		command: path,
		args:    opts.Args,
		dir:     opts.Dir,
		timeout: opts.Timeout,
		log:     opts.Log,
	}, nil
}

// Command returns the resolved executable path.
func (c *CommandIngestor) Command() string {
	return c.command
}

// Ingest runs the program and reports the artifact id it printed, if any.
// A non-zero exit is an ErrIngestionFailed.
func (c *CommandIngestor) Ingest(ctx context.Context, req domain.IngestRequest) (domain.IngestResult, error) {
	args, err := c.buildArgs(req)
	if err != nil {
		return domain.IngestResult{}, err
	}

	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	c.log.Info("running ingestion",
		zap.Int64("link_id", req.LinkID),
		zap.String("command", c.command),
		zap.Strings("args", args),
	)
	start := time.Now()
	cmd := exec.CommandContext(runCtx, c.command, args...)
	cmd.Dir = c.dir
	cmd.WaitDelay = waitDelay
	output, err := cmd.CombinedOutput()
	res := domain.IngestResult{Output: string(output)}
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if runCtx.Err() != nil {
			err = fmt.Errorf("timed out after %s", c.timeout)
		}
		return res, fmt.Errorf("%w: link %d: %v: %s", domain.ErrIngestionFailed, req.LinkID, err, tail(output))
	}

	res.ArtifactID = parseArtifactID(output)
	fields := []zap.Field{
		zap.Int64("link_id", req.LinkID),
		zap.Duration("took", time.Since(start)),
	}
	if res.ArtifactID != nil {
		fields = append(fields, zap.Int64("artifact_id", *res.ArtifactID))
	}
	c.log.Info("ingestion finished", fields...)
	return res, nil
}

func (c *CommandIngestor) buildArgs(req domain.IngestRequest) ([]string, error) {
	img, err := filepath.Abs(req.ImagePath)
	if err != nil {
		return nil, err
	}
	txt, err := filepath.Abs(req.TextPath)
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, len(c.args)+7)
	args = append(args, c.args...)
	return append(args,
		strconv.FormatInt(req.LinkID, 10),
		img,
		txt,
		req.PublishedOn,
		strconv.FormatInt(req.VehicleCode, 10),
		strconv.FormatInt(req.ChannelCode, 10),
		strconv.FormatInt(req.ClientCode, 10),
	), nil
}

// parseArtifactID returns the last id the program printed.
func parseArtifactID(output []byte) *int64 {
	matches := artifactIDPattern.FindAllSubmatch(output, -1)
	if len(matches) == 0 {
		return nil
	}
	id, err := strconv.ParseInt(string(matches[len(matches)-1][1]), 10, 64)
	if err != nil {
		return nil
	}
	return &id
}

func tail(output []byte) string {
	s := strings.TrimSpace(string(output))
	if len(s) > outputTail {
		s = "..." + s[len(s)-outputTail:]
	}
	return s
}
