// Package notify delivers native desktop notifications via beeep.
package notify

import (
	"log/slog"
	"sync"
	"time"

	"newsstand/internal/domain/alert"

	"github.com/gen2brain/beeep"
)

var _ alert.NativeNotifier = (*DesktopNotifier)(nil)

// DesktopNotifier sends native OS notifications. Desktop toolkits cannot
// close a posted notification or observe clicks, so the dismiss delay is
// emulated as a per-tag collapse window: repeated sends with the same tag
// inside the window are swallowed, mirroring how a browser collapses
// notifications by tag.
type DesktopNotifier struct {
	icon string
	log  *slog.Logger

	mu     sync.Mutex
	active map[string]*time.Timer
}

// NewDesktopNotifier creates a notifier. icon is an optional image path.
func NewDesktopNotifier(appName, icon string, log *slog.Logger) *DesktopNotifier {
	if appName != "" {
		beeep.AppName = appName
	}
	if log == nil {
		log = slog.Default()
	}
	return &DesktopNotifier{
		icon:   icon,
		log:    log.With("component", "notify.DesktopNotifier"),
		active: make(map[string]*time.Timer),
	}
}

// Send posts the notification unless one with the same tag is still inside
// its dismiss window.
func (d *DesktopNotifier) Send(n alert.Notification) error {
	dismiss := n.DismissAfter
	if dismiss <= 0 {
		dismiss = alert.NativeDismissAfter
	}

	if n.Tag != "" {
		d.mu.Lock()
		if _, dup := d.active[n.Tag]; dup {
			d.mu.Unlock()
			d.log.Debug("collapsing duplicate notification", "tag", n.Tag)
			return nil
		}
		tag := n.Tag
		d.active[tag] = time.AfterFunc(dismiss, func() {
			d.mu.Lock()
			delete(d.active, tag)
			d.mu.Unlock()
		})
		d.mu.Unlock()
	}

	if n.OnActivate != nil {
		// Click activation is not observable through beeep; the control API
		// remains the way back into the app.
		d.log.Debug("activation handler not supported by backend", "tag", n.Tag)
	}

	return beeep.Notify(n.Title, n.Body, d.icon)
}
