package measurement

import (
	"context"
	"fmt"

	"github.com/veltis/measure/runtime/shared"
)

// Hook runs before or after the main task of a measure. Hooks must honour
// pause/resume/stop requests; BaseHook provides immediate acknowledgements
// for hooks without long running work.
type Hook interface {
	Run(ctx context.Context, m *Measure) error
	Pause()
	Resume()
	Stop(force bool)
	// Paused and Resumed are set once the matching request took effect.
	Paused() *shared.Flag
	Resumed() *shared.Flag
}

// BaseHook implements the signalling part of Hook. Hooks performing long
// running work should override Pause/Resume/Stop to act on the request
// before acknowledging.
type BaseHook struct {
	paused  *shared.Flag
	resumed *shared.Flag
	stopped *shared.Flag
}

// NewBaseHook returns an initialised BaseHook for embedding.
func NewBaseHook() BaseHook {
	return BaseHook{
		paused:  shared.NewFlag(),
		resumed: shared.NewFlag(),
		stopped: shared.NewFlag(),
	}
}

func (h *BaseHook) Pause() {
	h.resumed.Clear()
	h.paused.Set()
}

func (h *BaseHook) Resume() {
	h.paused.Clear()
	h.resumed.Set()
}

func (h *BaseHook) Stop(force bool) {
	h.stopped.Set()
}

func (h *BaseHook) Paused() *shared.Flag  { return h.paused }
func (h *BaseHook) Resumed() *shared.Flag { return h.resumed }

// Stopped reports whether a stop was requested on this hook.
func (h *BaseHook) Stopped() bool { return h.stopped.IsSet() }

// ChecksHookID is the id the internal checks pre-hook reports under.
const ChecksHookID = "internal_checks"

// ChecksHook is the pre-execution hook running the task tree checks. A
// forced-enqueued measure skips it.
type ChecksHook struct {
	BaseHook
}

// NewChecksHook returns the internal checks hook.
func NewChecksHook() *ChecksHook {
	return &ChecksHook{BaseHook: NewBaseHook()}
}

func (h *ChecksHook) Run(ctx context.Context, m *Measure) error {
	if m.ForcedEnqueued {
		return nil
	}
	ok, traceback := m.Root.Check(ctx)
	if !ok {
		return fmt.Errorf("checks failed: %v", traceback)
	}
	return nil
}
