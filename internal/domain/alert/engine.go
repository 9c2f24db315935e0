// Package alert decides whether an incoming change event is suppressed,
// counted, or surfaced to the user, and owns the session-wide notification
// state.
package alert

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"newsstand/internal/domain/stream"
)

// Permission is the OS notification permission state.
type Permission string

const (
	PermissionDefault Permission = "default"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// NativeDismissAfter is how long a native notification stays up before it is
// auto-dismissed.
const NativeDismissAfter = 10 * time.Second

// Notification is a native OS notification request.
type Notification struct {
	Title string
	Body  string
	// Tag is a stable dedup key so the OS collapses repeated notifications
	// for the same logical event.
	Tag string
	// DismissAfter closes the notification automatically when it elapses.
	DismissAfter time.Duration
	// OnActivate fires when the user clicks the notification; used to focus
	// the app. May be ignored by backends that cannot observe activation.
	OnActivate func()
}

// NativeNotifier delivers native OS notifications. Implementations live in
// infra/notify.
type NativeNotifier interface {
	Send(n Notification) error
}

// Toaster shows in-app transient messages. Implementations must not require
// any permission.
type Toaster interface {
	Show(t Toast) error
}

// Cues plays audio feedback. Satisfied by the audio engine.
type Cues interface {
	PlaySuccess()
	PlayError()
}

// PermissionPrompter asks the user for OS notification permission. Only
// invoked from RequestPermission, never implicitly from an event.
type PermissionPrompter interface {
	Prompt() Permission
}

// Engine implements the notification decision pipeline: dedup, severity
// classification, and fan-out to the independent toast and native channels.
type Engine struct {
	breakingTables map[string]bool
	toaster        Toaster
	native         NativeNotifier
	cues           Cues
	prompter       PermissionPrompter
	refresh        func(ev stream.ChangeEvent)
	focus          func()
	log            *slog.Logger

	mu             sync.Mutex
	permission     Permission
	lastSurfacedID string
	pendingCount   int
	surfaced       map[string]bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithNative attaches a native OS notifier.
func WithNative(n NativeNotifier) Option {
	return func(e *Engine) { e.native = n }
}

// WithCues attaches audio feedback.
func WithCues(c Cues) Option {
	return func(e *Engine) { e.cues = c }
}

// WithPrompter attaches the permission prompt capability.
func WithPrompter(p PermissionPrompter) Option {
	return func(e *Engine) { e.prompter = p }
}

// WithRefresh sets the callback invoked when an already-surfaced item is
// updated; consumers refresh displayed content without re-notifying.
func WithRefresh(fn func(ev stream.ChangeEvent)) Option {
	return func(e *Engine) { e.refresh = fn }
}

// WithFocus sets the callback a native-notification click invokes.
func WithFocus(fn func()) Option {
	return func(e *Engine) { e.focus = fn }
}

// NewEngine creates a decision engine. Inserts on any table in
// breakingTables take the active notification path; other inserts only
// increment the pending counter.
func NewEngine(toaster Toaster, breakingTables []string, log *slog.Logger, opts ...Option) *Engine {
	if log == nil {
		log = slog.Default()
	}
	bt := make(map[string]bool, len(breakingTables))
	for _, t := range breakingTables {
		bt[t] = true
	}
	e := &Engine{
		breakingTables: bt,
		toaster:        toaster,
		log:            log.With("component", "alert.Engine"),
		permission:     PermissionDefault,
		surfaced:       make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// OnEvent runs the decision pipeline for one change event.
func (e *Engine) OnEvent(ev stream.ChangeEvent) {
	key := ev.ID

	e.mu.Lock()
	if key == e.lastSurfacedID {
		e.mu.Unlock()
		// Stale duplicate from at-least-once delivery.
		e.log.Debug("suppressing duplicate event", "id", key)
		return
	}

	switch ev.Op {
	case stream.OpInsert:
		if e.isBreaking(ev) {
			e.mu.Unlock()
			e.surface(ev, key)
			return
		}
		e.pendingCount++
		count := e.pendingCount
		e.mu.Unlock()
		e.log.Debug("pending count incremented", "id", key, "pending", count)

	case stream.OpUpdate:
		known := e.surfaced[key]
		e.mu.Unlock()
		if known && e.refresh != nil {
			// Refresh displayed content without re-notifying.
			e.refresh(ev)
		}

	default:
		e.mu.Unlock()
	}
}

// isBreaking classifies event severity. Callers must hold mu.
func (e *Engine) isBreaking(ev stream.ChangeEvent) bool {
	if e.breakingTables[ev.Table] {
		return true
	}
	var tag struct {
		Breaking bool `json:"is_breaking"`
	}
	if err := json.Unmarshal(ev.Record, &tag); err == nil && tag.Breaking {
		return true
	}
	return false
}

// surface runs the active notification path: in-app toast always, native
// notification only when permission is granted. The two channels are
// independent; a native failure never blocks the toast. The dedup marker
// advances only after the toast surfaced successfully, so a transient
// failure does not poison future dedup.
func (e *Engine) surface(ev stream.ChangeEvent, key string) {
	toast := toastFromEvent(ev)

	if err := e.toaster.Show(toast); err != nil {
		e.log.Error("showing toast", "id", key, "error", err)
		if e.cues != nil {
			e.cues.PlayError()
		}
		return
	}

	e.mu.Lock()
	e.lastSurfacedID = key
	e.surfaced[key] = true
	perm := e.permission
	e.mu.Unlock()

	if perm == PermissionGranted && e.native != nil {
		err := e.native.Send(Notification{
			Title:        toast.Title,
			Body:         toast.Body,
			Tag:          key,
			DismissAfter: NativeDismissAfter,
			OnActivate:   e.focus,
		})
		if err != nil {
			e.log.Error("native notification failed", "id", key, "error", err)
		}
	}

	if e.cues != nil {
		e.cues.PlaySuccess()
	}
	e.log.Info("notification surfaced", "id", key, "table", ev.Table)
}

// RequestPermission prompts the user for OS notification permission. A
// Granted or Denied state is terminal and returned without prompting again.
func (e *Engine) RequestPermission() Permission {
	e.mu.Lock()
	if e.permission != PermissionDefault {
		perm := e.permission
		e.mu.Unlock()
		return perm
	}
	e.mu.Unlock()

	perm := PermissionDefault
	if e.prompter != nil {
		perm = e.prompter.Prompt()
	}

	e.mu.Lock()
	e.permission = perm
	e.mu.Unlock()

	e.log.Info("notification permission resolved", "permission", perm)
	return perm
}

// Permission returns the current permission state.
func (e *Engine) Permission() Permission {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.permission
}

// PendingCount returns the passive unread counter.
func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pendingCount
}

// ClearPending resets the passive counter, e.g. after the user views the
// feed.
func (e *Engine) ClearPending() {
	e.mu.Lock()
	e.pendingCount = 0
	e.mu.Unlock()
}

// toastFromEvent builds the in-app message from the event record. Falls back
// to the raw id when the record has no title.
func toastFromEvent(ev stream.ChangeEvent) Toast {
	var rec struct {
		Title   string `json:"title"`
		Summary string `json:"summary"`
	}
	_ = json.Unmarshal(ev.Record, &rec)
	if rec.Title == "" {
		rec.Title = "Breaking news"
	}
	return Toast{
		ID:       ev.ID,
		Title:    rec.Title,
		Body:     rec.Summary,
		Breaking: true,
		At:       time.Now(),
	}
}
