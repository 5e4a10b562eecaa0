package notify

import (
	"encoding/json"
	"net/http"
	"sync"
)

// Level is the severity of a toast.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelWarning Level = "warning"
)

// triggerEvent is the htmx event name the layout listens on to render toasts.
const triggerEvent = "toast"

// Notifier is the fire-and-forget user notification channel.
type Notifier interface {
	Success(message string)
	Error(message string)
	Warning(message string)
}

// Toast is one user-facing notification.
type Toast struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

// Collector records toasts raised while handling a single request.
type Collector struct {
	mu     sync.Mutex
	toasts []Toast
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Success(message string) { c.add(LevelSuccess, message) }
func (c *Collector) Error(message string)   { c.add(LevelError, message) }
func (c *Collector) Warning(message string) { c.add(LevelWarning, message) }

func (c *Collector) add(level Level, message string) {
	if message == "" {
		return
	}
	c.mu.Lock()
	c.toasts = append(c.toasts, Toast{Level: level, Message: message})
	c.mu.Unlock()
}

// Toasts returns the recorded toasts in emission order.
func (c *Collector) Toasts() []Toast {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Toast, len(c.toasts))
	copy(out, c.toasts)
	return out
}

// Flush writes the recorded toasts to the HX-Trigger header. It must run before the body is written.
func (c *Collector) Flush(w http.ResponseWriter) {
	toasts := c.Toasts()
	if len(toasts) == 0 {
		return
	}
	payload := map[string]any{triggerEvent: toasts}
	if raw, err := json.Marshal(payload); err == nil {
		w.Header().Set("HX-Trigger", string(raw))
	}
}

// Discard drops every notification.
type Discard struct{}

func (Discard) Success(string) {}
func (Discard) Error(string)   {}
func (Discard) Warning(string) {}
