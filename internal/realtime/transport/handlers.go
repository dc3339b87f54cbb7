package transport

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
)

// Handlers is a registry of event handlers keyed by case-insensitive event
// name. It is safe for concurrent use.
type Handlers struct {
	mu      sync.RWMutex
	nextID  uint64
	byEvent map[string][]registration
	logger  *slog.Logger
}

type registration struct {
	id uint64
	h  Handler
}

// NewHandlers creates an empty registry. A nil logger uses slog.Default().
func NewHandlers(logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		byEvent: make(map[string][]registration),
		logger:  logger,
	}
}

// Add binds h to event and returns a func that removes exactly this binding.
func (r *Handlers) Add(event string, h Handler) func() {
	key := strings.ToLower(event)

	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.byEvent[key] = append(r.byEvent[key], registration{id: id, h: h})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(key, id) })
	}
}

func (r *Handlers) remove(key string, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	regs := r.byEvent[key]
	for i, reg := range regs {
		if reg.id == id {
			r.byEvent[key] = append(regs[:i:i], regs[i+1:]...)
			break
		}
	}
	if len(r.byEvent[key]) == 0 {
		delete(r.byEvent, key)
	}
}

// Dispatch runs every handler bound to event in registration order and
// returns how many ran. A handler that fails or panics is logged and does
// not stop the others.
func (r *Handlers) Dispatch(event string, payload json.RawMessage) int {
	r.mu.RLock()
	regs := r.byEvent[strings.ToLower(event)]
	snapshot := make([]registration, len(regs))
	copy(snapshot, regs)
	r.mu.RUnlock()

	if len(snapshot) == 0 {
		r.logger.Debug("no handler for push event", "event", event)
		return 0
	}

	for _, reg := range snapshot {
		if err := r.invoke(reg.h, payload); err != nil {
			r.logger.Error("push event handler failed", "event", event, "error", err)
		}
	}
	return len(snapshot)
}

func (r *Handlers) invoke(h Handler, payload json.RawMessage) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v\n%s", p, debug.Stack())
		}
	}()
	return h(payload)
}

// Len returns the number of handlers bound to event.
func (r *Handlers) Len(event string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byEvent[strings.ToLower(event)])
}
