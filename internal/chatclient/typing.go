package chatclient

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultTypingTimeout is how long after the last keystroke typing stops.
const DefaultTypingTimeout = 3000 * time.Millisecond

// TypingEmitter sends typing signals; *Conn implements it.
type TypingEmitter interface {
	Typing(chatID string) error
	StopTyping(chatID string) error
}

type typingTimer struct {
	timer *time.Timer
	gen   uint64
}

// TypingNotifier debounces keystrokes into typing / typing stopped signals.
// The first keystroke in a room emits typing; each keystroke reschedules the
// stop, replacing the pending timer for that room.
type TypingNotifier struct {
	emitter TypingEmitter
	timeout time.Duration
	log     *zap.Logger

	mu      sync.Mutex
	gen     uint64
	pending map[string]typingTimer
}

// NewTypingNotifier returns a notifier. A non-positive timeout uses
// DefaultTypingTimeout.
func NewTypingNotifier(emitter TypingEmitter, timeout time.Duration, log *zap.Logger) *TypingNotifier {
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &TypingNotifier{
		emitter: emitter,
		timeout: timeout,
		log:     log,
		pending: make(map[string]typingTimer),
	}
}

// Keystroke records typing activity in chatID.
func (n *TypingNotifier) Keystroke(chatID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if prev, typing := n.pending[chatID]; typing {
		prev.timer.Stop()
	} else if err := n.emitter.Typing(chatID); err != nil {
		return err
	}

	n.gen++
	gen := n.gen
	n.pending[chatID] = typingTimer{
		timer: time.AfterFunc(n.timeout, func() { n.expire(chatID, gen) }),
		gen:   gen,
	}
	return nil
}

// expire fires for a timer that may since have been superseded; only the
// current generation emits.
func (n *TypingNotifier) expire(chatID string, gen uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	current, ok := n.pending[chatID]
	if !ok || current.gen != gen {
		return
	}
	delete(n.pending, chatID)
	if err := n.emitter.StopTyping(chatID); err != nil {
		n.log.Debug("typing stop not sent", zap.String("room", chatID), zap.Error(err))
	}
}

// Flush stops typing in chatID immediately, as when the message is sent.
func (n *TypingNotifier) Flush(chatID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	current, ok := n.pending[chatID]
	if !ok {
		return nil
	}
	current.timer.Stop()
	delete(n.pending, chatID)
	return n.emitter.StopTyping(chatID)
}

// IsTyping reports whether a stop is pending for chatID.
func (n *TypingNotifier) IsTyping(chatID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.pending[chatID]
	return ok
}

// Stop cancels every pending timer without emitting.
func (n *TypingNotifier) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for chatID, t := range n.pending {
		t.timer.Stop()
		delete(n.pending, chatID)
	}
}
