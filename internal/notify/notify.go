// Package notify delivers short user-visible notifications such as
// "Session connected" or a backend error message.
package notify

import (
	"sync"
	"time"

	waLog "go.mau.fi/whatsmeow/util/log"
)

// Kind classifies a notification.
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
	KindInfo    Kind = "info"
)

// Notifier shows transient notifications to the user.
type Notifier interface {
	Success(msg string)
	Error(msg string)
	Info(msg string)
}

// Console writes notifications through a logger.
type Console struct {
	log waLog.Logger
}

// NewConsole creates a Console notifier.
func NewConsole(log waLog.Logger) *Console {
	return &Console{log: log.Sub("Notify")}
}

func (c *Console) Success(msg string) { c.log.Infof("✓ %s", msg) }
func (c *Console) Error(msg string)   { c.log.Errorf("✗ %s", msg) }
func (c *Console) Info(msg string)    { c.log.Infof("%s", msg) }

// Notification is one recorded notification.
type Notification struct {
	Kind    Kind      `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// DefaultRecorderSize is the number of notifications a Recorder keeps.
const DefaultRecorderSize = 100

// Recorder keeps the most recent notifications in memory and optionally
// forwards them to another Notifier.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
	size  int
	next  Notifier
}

// NewRecorder creates a Recorder keeping up to size entries. next may be nil.
func NewRecorder(size int, next Notifier) *Recorder {
	if size <= 0 {
		size = DefaultRecorderSize
	}
	return &Recorder{size: size, next: next}
}

func (r *Recorder) add(kind Kind, msg string) {
	r.mu.Lock()
	r.items = append(r.items, Notification{Kind: kind, Message: msg, At: time.Now()})
	if over := len(r.items) - r.size; over > 0 {
		r.items = append(r.items[:0:0], r.items[over:]...)
	}
	r.mu.Unlock()
}

func (r *Recorder) Success(msg string) {
	r.add(KindSuccess, msg)
	if r.next != nil {
		r.next.Success(msg)
	}
}

func (r *Recorder) Error(msg string) {
	r.add(KindError, msg)
	if r.next != nil {
		r.next.Error(msg)
	}
}

func (r *Recorder) Info(msg string) {
	r.add(KindInfo, msg)
	if r.next != nil {
		r.next.Info(msg)
	}
}

// All returns a copy of the recorded notifications, oldest first.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.items))
	copy(out, r.items)
	return out
}

// Count returns how many recorded notifications are of kind.
func (r *Recorder) Count(kind Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, it := range r.items {
		if it.Kind == kind {
			n++
		}
	}
	return n
}

// Messages returns the recorded messages of kind, oldest first.
func (r *Recorder) Messages(kind Kind) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, it := range r.items {
		if it.Kind == kind {
			out = append(out, it.Message)
		}
	}
	return out
}
