package laptrack

import (
	"io"
	"log"
	"sync"
)

// LogWriters routes the tracker's three log streams. A nil writer silences
// its stream; every stream starts silent.
//
//	Ops    run start and finish, stage failures, ignored solver picks
//	Diag   one line per frame pair and per segment-linking matrix
//	Trace  formatted cost matrices and every accepted stage-2 link
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

// logStream is one prefixed logger that can be swapped while frame pairs
// are being linked concurrently.
type logStream struct {
	mu sync.RWMutex
	l  *log.Logger
}

func (s *logStream) set(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w == nil {
		s.l = nil
		return
	}
	s.l = log.New(w, "[laptrack] ", log.LstdFlags|log.Lmicroseconds)
}

func (s *logStream) printf(format string, args ...interface{}) {
	s.mu.RLock()
	l := s.l
	s.mu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

func (s *logStream) enabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.l != nil
}

var opsLog, diagLog, traceLog logStream

// SetLogWriters replaces all three streams at once.
func SetLogWriters(w LogWriters) {
	opsLog.set(w.Ops)
	diagLog.set(w.Diag)
	traceLog.set(w.Trace)
}

// Opsf reports run lifecycle events and failures.
func Opsf(format string, args ...interface{}) { opsLog.printf(format, args...) }

// Diagf reports per-stage matrix sizes, gated pair counts and cutoffs.
func Diagf(format string, args ...interface{}) { diagLog.printf(format, args...) }

// Tracef dumps cost matrices and link decisions.
func Tracef(format string, args ...interface{}) { traceLog.printf(format, args...) }

// traceEnabled guards matrix formatting, which is costly for large frames.
func traceEnabled() bool { return traceLog.enabled() }
