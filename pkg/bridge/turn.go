package bridge

import (
	"sync"
	"time"
)

// DefaultTurnDebounce absorbs brief mid-sentence pauses from the speech
// detector without materially harming turn-taking latency. Tunable constant,
// not computed.
const DefaultTurnDebounce = 800 * time.Millisecond

// TurnController decides when to request a new spoken response from the
// session. A speech-stop signal arms a debounce timer; a speech-start
// signal before it fires disarms it.
type TurnController struct {
	debounce time.Duration
	respond  func()

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// NewTurnController creates a controller that invokes respond after the
// debounce elapses following the last speech-stop signal.
func NewTurnController(debounce time.Duration, respond func()) *TurnController {
	if debounce <= 0 {
		debounce = DefaultTurnDebounce
	}
	return &TurnController{debounce: debounce, respond: respond}
}

// SpeechStarted disarms any pending response request.
func (t *TurnController) SpeechStarted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// SpeechStopped arms the debounce timer. A subsequent stop signal resets it.
func (t *TurnController) SpeechStopped() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = time.AfterFunc(t.debounce, t.fire)
}

func (t *TurnController) fire() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.timer = nil
	t.mu.Unlock()

	t.respond()
}

// Stop disarms the controller permanently. Called on relay teardown.
func (t *TurnController) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}
