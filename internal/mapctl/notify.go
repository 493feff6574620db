package mapctl

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Level is a notification severity.
type Level string

// Notification levels.
const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// User-facing messages.
const (
	MsgPinFailed      = "Failed to insert pin"
	MsgDrawingFailed  = "Failed to send drawing"
	MsgUpdateFailed   = "Failed to update project."
	MsgCreateFailed   = "Failed to create map"
	MsgDeleteFailed   = "Failed to delete map"
	MsgLoadFailed     = "Failed to load map project"
	MsgWelcomeBackFmt = "Welcome back, %s"
)

// Notification is a transient message for the user.
type Notification struct {
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Notifier receives user-facing notifications.
type Notifier interface {
	Notify(n Notification)
}

// Inbox keeps the most recent notifications. It is safe for concurrent use.
type Inbox struct {
	mu    sync.Mutex
	items []Notification
	next  int
	full  bool
}

var _ Notifier = (*Inbox)(nil)

// NewInbox returns an inbox holding up to size notifications.
func NewInbox(size int) *Inbox {
	if size <= 0 {
		size = 50
	}
	return &Inbox{items: make([]Notification, size)}
}

// Notify records n, evicting the oldest entry when full.
func (in *Inbox) Notify(n Notification) {
	zap.L().Info("notification",
		zap.String("component", "mapctl.notify"),
		zap.String("level", string(n.Level)),
		zap.String("message", n.Message),
	)

	in.mu.Lock()
	defer in.mu.Unlock()
	in.items[in.next] = n
	in.next = (in.next + 1) % len(in.items)
	if in.next == 0 {
		in.full = true
	}
}

// Recent returns the held notifications, oldest first.
func (in *Inbox) Recent() []Notification {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.full {
		return append([]Notification(nil), in.items[:in.next]...)
	}
	out := make([]Notification, 0, len(in.items))
	out = append(out, in.items[in.next:]...)
	return append(out, in.items[:in.next]...)
}
