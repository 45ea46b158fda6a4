package guard

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// fakeStore is an in-memory BindingStore with a per-Get hook so tests can
// simulate a concurrent operator command landing between a scanner's reads.
type fakeStore struct {
	mu       sync.Mutex
	bindings map[string]*Binding

	getCalls      int
	onGet         func(call int, b *Binding)
	statusWrites  []string
	lockWrites    []string
	sessionWrites []string
	flags         map[string]string
}

func newFakeStore(bindings ...Binding) *fakeStore {
	s := &fakeStore{bindings: make(map[string]*Binding)}
	for i := range bindings {
		b := bindings[i]
		s.bindings[b.OwnerID] = &b
	}
	return s
}

func (s *fakeStore) Get(ctx context.Context, ownerID string) (*Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getCalls++
	if s.onGet != nil {
		// The hook may mutate or delete the binding; look it up afterwards so
		// the caller observes the post-hook state.
		s.onGet(s.getCalls, s.bindings[ownerID])
	}
	b := s.bindings[ownerID]
	if b == nil {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (s *fakeStore) listWhere(pred func(Binding) bool) []Binding {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Binding
	for _, b := range s.bindings {
		if pred(*b) {
			out = append(out, *b)
		}
	}
	return out
}

func (s *fakeStore) ListMonitored(ctx context.Context) ([]Binding, error) {
	return s.listWhere(func(b Binding) bool { return b.MonitoringEnabled }), nil
}

func (s *fakeStore) ListLocked(ctx context.Context) ([]Binding, error) {
	return s.listWhere(func(b Binding) bool { return b.Locked }), nil
}

func (s *fakeStore) ListProtectedUnlocked(ctx context.Context) ([]Binding, error) {
	return s.listWhere(func(b Binding) bool { return b.ProtectionEnabled && !b.Locked }), nil
}

func (s *fakeStore) SetLastStatus(ctx context.Context, ownerID string, st Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b := s.bindings[ownerID]; b != nil {
		b.LastStatus = st
	}
	s.statusWrites = append(s.statusWrites, fmt.Sprintf("%s=%s", ownerID, st))
	return nil
}

func (s *fakeStore) SetLock(ctx context.Context, ownerID, sessionRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b := s.bindings[ownerID]; b != nil {
		b.Locked = true
		b.LockSessionRef = sessionRef
		b.MonitoringEnabled = false
	}
	s.lockWrites = append(s.lockWrites, ownerID)
	return nil
}

func (s *fakeStore) SetLockSession(ctx context.Context, ownerID, sessionRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b := s.bindings[ownerID]; b != nil {
		b.LockSessionRef = sessionRef
	}
	s.sessionWrites = append(s.sessionWrites, fmt.Sprintf("%s=%s", ownerID, sessionRef))
	return nil
}

func (s *fakeStore) GetFlag(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags[key], nil
}

func (s *fakeStore) setFlag(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flags == nil {
		s.flags = make(map[string]string)
	}
	s.flags[key] = value
}

func (s *fakeStore) binding(ownerID string) Binding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.bindings[ownerID]
}

// fakeAPI is a scriptable AccountService.
type fakeAPI struct {
	mu sync.Mutex

	status    *AccountStatus
	statusErr error

	lockResult *LockResult
	lockErr    error

	// jobSteps are consumed one per UploadJob call; the last step repeats.
	jobSteps []jobStep

	statusCalls int
	lockCalls   int
	jobCalls    int
}

type jobStep struct {
	st  *JobStatus
	err error
}

func (a *fakeAPI) QueryStatus(ctx context.Context, token string) (*AccountStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.statusCalls++
	if a.statusErr != nil {
		return nil, a.statusErr
	}
	cp := *a.status
	return &cp, nil
}

func (a *fakeAPI) AssertLock(ctx context.Context, token string, params MachineParams) (*LockResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lockCalls++
	if a.lockErr != nil {
		return nil, a.lockErr
	}
	cp := *a.lockResult
	return &cp, nil
}

func (a *fakeAPI) ReleaseLock(ctx context.Context, token string, params MachineParams) error {
	return nil
}

func (a *fakeAPI) SubmitUpload(ctx context.Context, token, target string) (string, error) {
	return "job-1", nil
}

func (a *fakeAPI) UploadJob(ctx context.Context, jobID string) (*JobStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := a.jobCalls
	a.jobCalls++
	if idx >= len(a.jobSteps) {
		idx = len(a.jobSteps) - 1
	}
	step := a.jobSteps[idx]
	if step.err != nil {
		return nil, step.err
	}
	cp := *step.st
	return &cp, nil
}

// fakeNotifier records every delivered message.
type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
	targets  []Target
}

func (n *fakeNotifier) Send(ctx context.Context, target Target, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	n.targets = append(n.targets, target)
	return nil
}

func (n *fakeNotifier) sent() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}

// fakeClock makes every wait elapse immediately.
type fakeClock struct {
	now    time.Time
	waited int
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.waited++
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}
