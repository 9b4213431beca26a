package apply

import (
	"context"
	"time"

	"github.com/jonathan/job-applier/internal/browser"
	"github.com/jonathan/job-applier/internal/locator"
)

const pollInterval = 100 * time.Millisecond

// stateChanged waits for the confirmation to show or the clicked control to disappear.
func (s *Submitter) stateChanged(ctx context.Context, clicked browser.Descriptor) bool {
	control := locator.Target{Candidates: []browser.Descriptor{clicked}, Visible: true}
	deadline := time.Now().Add(s.cfg.StateChangeTimeout)
	for {
		if _, _, err := s.loc.Scan(ctx, s.targets.confirmation); err == nil {
			return true
		}
		if _, _, err := s.loc.Scan(ctx, control); browser.IsNotFound(err) {
			return true
		}
		remaining := time.Until(deadline)
		if ctx.Err() != nil || remaining <= 0 {
			return false
		}
		if !sleep(ctx, min(pollInterval, remaining)) {
			return false
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
