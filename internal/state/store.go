// Package state holds the per-question answer workflow state and the named
// transitions that are the only way to change it.
package state

import (
	"context"
	"sync"

	"github.com/pitabwire/answerdesk/model"
)

// slot is the workflow state of one question.
type slot struct {
	editing             bool
	generating          bool
	versions            []model.Version
	loadingVersions     bool
	showVersionDropdown bool
	analysisResult      *model.AnalysisResult
	submissionError     string
	chatPromptSaved     bool

	// Only written in scoped-errors and per-question-analyzing modes.
	versionsError string
	analyzing     bool
}

func (s *slot) clone() *slot {
	c := *s
	if s.versions != nil {
		c.versions = make([]model.Version, len(s.versions))
		copy(c.versions, s.versions)
	}
	if s.analysisResult != nil {
		res := *s.analysisResult
		c.analysisResult = &res
	}
	return &c
}

// State is the complete workflow state: one slot per question id plus a
// handful of global flags. The zero value is not usable; states are created
// by a Store.
type State struct {
	slots map[string]*slot

	analyzingID string
	loading     bool
	err         string
	chatLoading bool
	chatErr     string
	revision    uint64

	perQuestionAnalyzing bool
	scopedErrors         bool
}

func newState(o options) State {
	return State{
		slots:                make(map[string]*slot),
		perQuestionAnalyzing: o.perQuestionAnalyzing,
		scopedErrors:         o.scopedErrors,
	}
}

// slot returns the question's slot, creating it on first write.
func (st *State) slot(q string) *slot {
	s, ok := st.slots[q]
	if !ok {
		s = &slot{}
		st.slots[q] = s
	}
	return s
}

// peek returns the question's slot or an empty one without creating it.
func (st *State) peek(q string) *slot {
	if s, ok := st.slots[q]; ok {
		return s
	}
	return &slot{}
}

func (st *State) clone() State {
	c := *st
	c.slots = make(map[string]*slot, len(st.slots))
	for q, s := range st.slots {
		c.slots[q] = s.clone()
	}
	return c
}

// Revision returns the number of transitions applied to this state.
func (st *State) Revision() uint64 { return st.revision }

// QuestionIDs returns the ids of every question that has a slot.
func (st *State) QuestionIDs() []string {
	ids := make([]string, 0, len(st.slots))
	for q := range st.slots {
		ids = append(ids, q)
	}
	return ids
}

// Change describes one applied transition.
type Change struct {
	Revision   uint64 `json:"revision"`
	Transition string `json:"transition"`
	QuestionID string `json:"question_id,omitempty"`
}

type options struct {
	perQuestionAnalyzing bool
	scopedErrors         bool
	observers            []func(Change)
}

// Option configures a Store.
type Option func(*options)

// WithPerQuestionAnalyzing keys the analyze in-flight marker per question
// instead of using the single global marker.
func WithPerQuestionAnalyzing() Option {
	return func(o *options) { o.perQuestionAnalyzing = true }
}

// WithScopedErrors records version-fetch and submit failures on the
// question's slot instead of only in the global error.
func WithScopedErrors() Option {
	return func(o *options) { o.scopedErrors = true }
}

// WithObserver registers a callback invoked synchronously after every
// applied transition. Observers must not call Apply.
func WithObserver(fn func(Change)) Option {
	return func(o *options) { o.observers = append(o.observers, fn) }
}

const watchBuffer = 64

// Store owns the workflow State. Every mutation goes through Apply, which
// runs one transition to completion under the lock, so the sequence of
// revisions is a serializable history even when many effect workers apply
// transitions concurrently. It is safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	state State
	opts  options

	watchMu     sync.Mutex
	watchers    map[int]chan Change
	nextWatcher int
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Store{
		state:    newState(o),
		opts:     o,
		watchers: make(map[int]chan Change),
	}
}

// Apply runs a transition atomically and notifies observers and watchers.
func (s *Store) Apply(tr Transition) Change {
	s.mu.Lock()
	tr.apply(&s.state)
	s.state.revision++
	ch := Change{
		Revision:   s.state.revision,
		Transition: tr.Name,
		QuestionID: tr.QuestionID,
	}
	s.mu.Unlock()

	for _, fn := range s.opts.observers {
		fn(ch)
	}
	s.broadcast(ch)
	return ch
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.clone()
}

// Revision returns the current revision.
func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.revision
}

// Reset drops every slot and global flag. The revision counter restarts.
func (s *Store) Reset() {
	s.mu.Lock()
	s.state = newState(s.opts)
	s.mu.Unlock()
}

// Select evaluates fn against the current state under the read lock. fn
// must not retain the state pointer.
func Select[T any](s *Store, fn func(*State) T) T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&s.state)
}

// Slot returns the projection of one question's slot.
func (s *Store) Slot(q string) SlotProjection {
	return Select(s, func(st *State) SlotProjection { return SlotView(st, q) })
}

// Global returns the projection of the global flags.
func (s *Store) Global() GlobalProjection {
	return Select(s, GlobalView)
}

// Watch returns a channel receiving every change applied after the call.
// Slow readers miss changes rather than blocking Apply; the revision field
// lets them detect gaps. The channel is closed when ctx is done.
func (s *Store) Watch(ctx context.Context) <-chan Change {
	ch := make(chan Change, watchBuffer)

	s.watchMu.Lock()
	id := s.nextWatcher
	s.nextWatcher++
	s.watchers[id] = ch
	s.watchMu.Unlock()

	go func() {
		<-ctx.Done()
		s.watchMu.Lock()
		delete(s.watchers, id)
		close(ch)
		s.watchMu.Unlock()
	}()
	return ch
}

func (s *Store) broadcast(c Change) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	for _, ch := range s.watchers {
		select {
		case ch <- c:
		default:
		}
	}
}
