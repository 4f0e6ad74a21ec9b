// Package wizard sequences the steps of the project-setup wizard and
// persists its progress.
package wizard

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrUnknownStep is returned when a step ID is not part of the wizard.
	ErrUnknownStep = errors.New("unknown step")
	// ErrStepHidden is returned when jumping to a step skipped for the
	// current data.
	ErrStepHidden = errors.New("step is hidden")
)

// Option configures a Sequencer.
type Option func(*Sequencer)

// OnComplete is called once, when Next runs past the last visible step.
func OnComplete(fn func(Data)) Option {
	return func(s *Sequencer) { s.onComplete = fn }
}

// OnExit is called when Back is invoked on the first visible step.
func OnExit(fn func()) Option {
	return func(s *Sequencer) { s.onExit = fn }
}

// OnChange is called after every navigation or data update.
func OnChange(fn func(Step, Data)) Option {
	return func(s *Sequencer) { s.onChange = fn }
}

// Sequencer walks an ordered list of steps, showing only the ones whose
// Skip predicate is false for the current data. Callbacks run without the
// internal lock held.
type Sequencer struct {
	mu        sync.Mutex
	steps     []Step
	current   int
	data      Data
	completed bool

	onComplete func(Data)
	onExit     func()
	onChange   func(Step, Data)
}

// New creates a sequencer positioned on the first visible step.
func New(steps []Step, data Data, opts ...Option) *Sequencer {
	s := &Sequencer{steps: steps, data: data}
	for _, opt := range opts {
		opt(s)
	}
	s.settle()
	return s
}

func (s *Sequencer) visible(i int) bool {
	return !s.steps[i].Hidden(s.data)
}

func (s *Sequencer) nextVisible(from int) int {
	for i := from + 1; i < len(s.steps); i++ {
		if s.visible(i) {
			return i
		}
	}
	return -1
}

func (s *Sequencer) prevVisible(from int) int {
	for i := from - 1; i >= 0; i-- {
		if s.visible(i) {
			return i
		}
	}
	return -1
}

// settle keeps current in range and moves it off a step that became hidden,
// forward first, then backward. When every step is hidden current keeps its
// index and currentLocked reports no step.
func (s *Sequencer) settle() {
	if len(s.steps) == 0 {
		s.current = 0
		return
	}
	s.current = min(max(s.current, 0), len(s.steps)-1)
	if s.visible(s.current) {
		return
	}
	if i := s.nextVisible(s.current); i >= 0 {
		s.current = i
	} else if i := s.prevVisible(s.current); i >= 0 {
		s.current = i
	}
}

func (s *Sequencer) currentLocked() Step {
	if len(s.steps) == 0 || !s.visible(s.current) {
		return Step{}
	}
	return s.steps[s.current]
}

// Next advances to the next visible step. With no visible step left it
// marks the wizard complete, firing the completion callback the first time
// only, and returns true.
func (s *Sequencer) Next() bool {
	s.mu.Lock()
	if i := s.nextVisible(s.current); i >= 0 {
		s.current = i
		step, data := s.currentLocked(), s.data.Clone()
		s.mu.Unlock()
		s.changed(step, data)
		return false
	}

	fire := !s.completed
	s.completed = true
	data := s.data.Clone()
	s.mu.Unlock()

	if fire && s.onComplete != nil {
		s.onComplete(data)
	}
	return true
}

// Back moves to the previous visible step and reports whether it moved.
// On the first visible step it calls the exit callback instead.
func (s *Sequencer) Back() bool {
	s.mu.Lock()
	if i := s.prevVisible(s.current); i >= 0 {
		s.current = i
		step, data := s.currentLocked(), s.data.Clone()
		s.mu.Unlock()
		s.changed(step, data)
		return true
	}
	s.mu.Unlock()

	if s.onExit != nil {
		s.onExit()
	}
	return false
}

// Progress is the position of the current step among the visible ones as a
// fraction in [0,1]. It is recomputed from the predicates on every call.
func (s *Sequencer) Progress() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	total, atOrBefore := 0, 0
	for i := range s.steps {
		if !s.visible(i) {
			continue
		}
		total++
		if i <= s.current {
			atOrBefore++
		}
	}
	if total <= 1 {
		return 0
	}
	p := float64(atOrBefore-1) / float64(total-1)
	return min(max(p, 0), 1)
}

// Position returns the 1-based index of the current step among the visible
// steps and their count.
func (s *Sequencer) Position() (n, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.steps {
		if s.visible(i) {
			total++
			if i <= s.current {
				n++
			}
		}
	}
	return n, total
}

// ShouldShow reports whether the step with id is visible for the current
// data. Unknown IDs are never shown.
func (s *Sequencer) ShouldShow(id StepID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.index(id)
	return i >= 0 && s.visible(i)
}

func (s *Sequencer) index(id StepID) int {
	for i, st := range s.steps {
		if st.ID == id {
			return i
		}
	}
	return -1
}

// Current returns the step the wizard is on. It returns the zero Step
// (empty ID) while the data hides every step; Next then completes the wizard.
func (s *Sequencer) Current() Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked()
}

// Visible returns the steps shown for the current data, in order.
func (s *Sequencer) Visible() []Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Step
	for i, st := range s.steps {
		if s.visible(i) {
			out = append(out, st)
		}
	}
	return out
}

// Data returns a copy of the wizard data.
func (s *Sequencer) Data() Data {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Clone()
}

// Completed reports whether the wizard ran past its last step.
func (s *Sequencer) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// Update applies fn to the wizard data and re-evaluates visibility. If the
// current step became hidden the wizard moves to the nearest visible step.
func (s *Sequencer) Update(fn func(*Data)) {
	s.mu.Lock()
	fn(&s.data)
	s.settle()
	step, data := s.currentLocked(), s.data.Clone()
	s.mu.Unlock()
	s.changed(step, data)
}

// JumpTo moves to a visible step, e.g. when resuming a saved wizard.
func (s *Sequencer) JumpTo(id StepID) error {
	s.mu.Lock()
	i := s.index(id)
	if i < 0 {
		s.mu.Unlock()
		return fmt.Errorf("jump to %q: %w", id, ErrUnknownStep)
	}
	if !s.visible(i) {
		s.mu.Unlock()
		return fmt.Errorf("jump to %q: %w", id, ErrStepHidden)
	}
	s.current = i
	step, data := s.currentLocked(), s.data.Clone()
	s.mu.Unlock()
	s.changed(step, data)
	return nil
}

func (s *Sequencer) changed(step Step, data Data) {
	if s.onChange != nil {
		s.onChange(step, data)
	}
}
