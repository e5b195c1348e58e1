package common

import "errors"

var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a named module has been administratively paused.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects operations against a paused module. A nil view or empty
// module name means no pause policy applies.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// StaticPauses is a fixed pause list resolved from configuration at startup.
type StaticPauses map[string]bool

// IsPaused implements PauseView.
func (s StaticPauses) IsPaused(module string) bool {
	if s == nil {
		return false
	}
	return s[module]
}
