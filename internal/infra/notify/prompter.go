package notify

import "newsstand/internal/domain/alert"

var _ alert.PermissionPrompter = (*DesktopPrompter)(nil)

// DesktopPrompter resolves notification permission for desktop sessions.
// Desktop environments have no runtime permission dialog; delivery is
// governed by system do-not-disturb settings instead, so an explicit user
// request resolves to Granted.
type DesktopPrompter struct{}

// Prompt reports the resolved permission.
func (DesktopPrompter) Prompt() alert.Permission {
	return alert.PermissionGranted
}
