package dashboard

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// DebugDumper persists last-seen raw page state to a fresh temp directory on
// terminal failure and reports the paths through the logger. Best effort
// only; it never fails the fetch.
type DebugDumper struct {
	log *zap.Logger
}

// NewDebugDumper creates a dumper. log may be nil.
func NewDebugDumper(log *zap.Logger) *DebugDumper {
	if log == nil {
		log = zap.NewNop()
	}
	return &DebugDumper{log: log}
}

// Dump writes page.html and page.txt under a temp directory.
func (d *DebugDumper) Dump(account AccountID, rawHTML, rawText string) {
	if rawHTML == "" && rawText == "" {
		return
	}
	dir, err := os.MkdirTemp("", "quotaprobe-dump-*")
	if err != nil {
		d.log.Warn("debug dump skipped", zap.Error(err))
		return
	}
	if rawHTML != "" {
		d.writeArtifact(account, filepath.Join(dir, "page.html"), rawHTML)
	}
	if rawText != "" {
		d.writeArtifact(account, filepath.Join(dir, "page.txt"), rawText)
	}
}

func (d *DebugDumper) writeArtifact(account AccountID, path, content string) {
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		d.log.Warn("debug artifact write failed",
			zap.String("path", path), zap.Error(err))
		return
	}
	d.log.Info("debug artifact written",
		zap.String("account", string(account)),
		zap.String("path", path))
}
