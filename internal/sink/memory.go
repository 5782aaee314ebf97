package sink

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// MemorySink keeps every written object in memory. It backs dry runs and tests.
type MemorySink struct {
	mu      sync.Mutex
	objects map[string][]byte
	writes  []string
	failN   int
	failErr error
}

func NewMemorySink() *MemorySink {
	return &MemorySink{objects: make(map[string][]byte)}
}

// FailNext makes the next n writes fail with err.
func (s *MemorySink) FailNext(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		err = errors.New("memory sink: injected failure")
	}
	s.failN = n
	s.failErr = err
}

func (s *MemorySink) WriteOrAppend(ctx context.Context, name string, content []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failN > 0 {
		s.failN--
		return s.failErr
	}
	s.objects[name] = append([]byte(nil), content...)
	s.writes = append(s.writes, name)
	return nil
}

// Get returns the current content stored under name.
func (s *MemorySink) Get(name string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[name]
	return string(b), ok
}

// Names returns stored object names in lexical order.
func (s *MemorySink) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.objects))
	for name := range s.objects {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Writes returns the names of successful writes in call order.
func (s *MemorySink) Writes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.writes...)
}
