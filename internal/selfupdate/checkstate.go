package selfupdate

import (
	"os"
	"time"
)

// CheckState persists "when was the last update check" across invocations.
// The signal is the modification time of a marker file; its content is
// irrelevant.
type CheckState struct {
	path string
}

// NewCheckState creates a state store backed by the marker file at path.
func NewCheckState(path string) *CheckState {
	return &CheckState{path: path}
}

// LastChecked returns the time of the last recorded check, or false if no
// check has ever been recorded.
func (s *CheckState) LastChecked() (time.Time, bool) {
	info, err := os.Stat(s.path)
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

// Touch records that a check happened now.
func (s *CheckState) Touch() error {
	now := time.Now()
	if err := os.Chtimes(s.path, now, now); err == nil {
		return nil
	}
	return os.WriteFile(s.path, nil, 0644)
}

// Due reports whether at least interval has elapsed since the last check.
// A missing marker means a check has never run and is always due.
func (s *CheckState) Due(interval time.Duration, now time.Time) bool {
	last, ok := s.LastChecked()
	if !ok {
		return true
	}
	return now.Sub(last) >= interval
}
