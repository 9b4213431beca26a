package apply

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonathan/job-applier/internal/types"
)

const screenshotTimeout = 10 * time.Second

// saveScreenshot writes the current page to DebugDir. It runs after the job context may
// have expired, so it uses its own deadline.
func (s *Submitter) saveScreenshot(ctx context.Context, job types.JobReference, log *slog.Logger) {
	if s.cfg.DebugDir == "" {
		return
	}
	shotCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), screenshotTimeout)
	defer cancel()

	data, err := s.b.Screenshot(shotCtx)
	if err != nil {
		log.Debug("could not capture screenshot", "error", err)
		return
	}
	if err := os.MkdirAll(s.cfg.DebugDir, 0o755); err != nil {
		log.Debug("could not create debug directory", "error", err)
		return
	}
	name := fmt.Sprintf("failed_%s_%s.png", safeName(job.ExternalID), time.Now().Format("20060102_150405"))
	path := filepath.Join(s.cfg.DebugDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Debug("could not write screenshot", "error", err)
		return
	}
	log.Info("debug screenshot saved", "path", path)
}

func safeName(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, s)
}
