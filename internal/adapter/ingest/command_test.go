package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwygoda/postcatch/internal/domain"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "adapter.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func request() domain.IngestRequest {
	return domain.IngestRequest{
		LinkID:      100,
		ImagePath:   "captures/instagram_100.png",
		TextPath:    "captures/instagram_100.txt",
		PublishedOn: "2024-05-01",
		VehicleCode: 54108,
		ChannelCode: 7,
		ClientCode:  42,
	}
}

func TestNewCommandIngestor(t *testing.T) {
	tests := []struct {
		name    string
		command string
		wantErr bool
	}{
		{"empty", "", true},
		{"missing", "/nonexistent/adapter", true},
		{"on path", "sh", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCommandIngestor(Options{Command: tt.command})
			if (err != nil) != tt.wantErr {
				t.Errorf("NewCommandIngestor() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCommandIngestor_PassesPositionalArgs(t *testing.T) {
	out := filepath.Join(t.TempDir(), "args.txt")
	script := writeScript(t, `printf '%s\n' "$@" > "`+out+`"; echo "Materia ID: 555"`)

	ing, err := NewCommandIngestor(Options{Command: script, Args: []string{"--mode", "web"}})
	require.NoError(t, err)

	res, err := ing.Ingest(context.Background(), request())
	require.NoError(t, err)
	require.NotNil(t, res.ArtifactID)
	assert.Equal(t, int64(555), *res.ArtifactID)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	args := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, args, 9)
	assert.Equal(t, []string{"--mode", "web", "100"}, args[:3])
	assert.True(t, filepath.IsAbs(args[3]))
	assert.True(t, strings.HasSuffix(args[3], "instagram_100.png"))
	assert.True(t, strings.HasSuffix(args[4], "instagram_100.txt"))
	assert.Equal(t, []string{"2024-05-01", "54108", "7", "42"}, args[5:])
}

func TestCommandIngestor_NonZeroExit(t *testing.T) {
	script := writeScript(t, `echo "MANAGER ERROR: boom"; exit 1`)
	ing, err := NewCommandIngestor(Options{Command: script})
	require.NoError(t, err)

	res, err := ing.Ingest(context.Background(), request())
	assert.ErrorIs(t, err, domain.ErrIngestionFailed)
	assert.Contains(t, err.Error(), "MANAGER ERROR: boom")
	assert.Nil(t, res.ArtifactID)
}

func TestCommandIngestor_Timeout(t *testing.T) {
	script := writeScript(t, `exec sleep 5`)
	ing, err := NewCommandIngestor(Options{Command: script, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = ing.Ingest(context.Background(), request())
	assert.ErrorIs(t, err, domain.ErrIngestionFailed)
	assert.Contains(t, err.Error(), "timed out")
}

func TestCommandIngestor_Canceled(t *testing.T) {
	script := writeScript(t, `exec sleep 5`)
	ing, err := NewCommandIngestor(Options{Command: script})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ing.Ingest(ctx, request())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseArtifactID(t *testing.T) {
	tests := []struct {
		output string
		want   int64
		ok     bool
	}{
		{"Processing Link 1...\nInserting Materia...\nMateria ID: 123\nDone", 123, true},
		{"ARTIFACT_ID=77", 77, true},
		{"Materia ID: 1\nMateria ID: 2", 2, true},
		{"nothing here", 0, false},
	}

	for _, tt := range tests {
		got := parseArtifactID([]byte(tt.output))
		if (got != nil) != tt.ok {
			t.Fatalf("parseArtifactID(%q) = %v, want ok=%v", tt.output, got, tt.ok)
		}
		if got != nil && *got != tt.want {
			t.Errorf("parseArtifactID(%q) = %d, want %d", tt.output, *got, tt.want)
		}
	}
}
