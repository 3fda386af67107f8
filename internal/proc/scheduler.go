package proc

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Scheduler is the global task table plus one run queue shared by every
// hart. One
// goroutine runs Scheduler.RunHart per simulated hart, standing in for
// biscuit's one-OS-thread-pinned-per-CPU design (SPEC_FULL.md §5).
type Scheduler struct {
	mu      sync.Mutex
	tasks   map[Pid]*Task
	runq    []Pid
	nextPid Pid
	log     logrus.FieldLogger
}

func NewScheduler(log logrus.FieldLogger) *Scheduler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Scheduler{tasks: make(map[Pid]*Task), nextPid: 1, log: log.WithField("subsystem", "proc")}
}

// Spawn registers t under a freshly allocated pid and enqueues it
// runnable.
func (s *Scheduler) Spawn(build func(pid Pid) *Task) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	pid := s.nextPid
	s.nextPid++
	t := build(pid)
	s.tasks[pid] = t
	s.runq = append(s.runq, pid)
	return t
}

// Enqueue marks t runnable again (e.g. after it blocks and is woken).
func (s *Scheduler) Enqueue(pid Pid) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runq = append(s.runq, pid)
}

// Lookup returns the task registered under pid.
func (s *Scheduler) Lookup(pid Pid) (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[pid]
	return t, ok
}

// Reap drops pid from the task table once its exit status has been
// collected by Wait4.
func (s *Scheduler) Reap(pid Pid) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, pid)
}

// Next pops the next runnable pid for one hart's RunHart loop to
// schedule, round-robin, blocking the calling goroutine (not the
// simulated hart) when the queue is momentarily empty is the caller's
// responsibility via the returned ok=false case.
func (s *Scheduler) Next() (Pid, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.runq) == 0 {
		return 0, false
	}
	pid := s.runq[0]
	s.runq = s.runq[1:]
	return pid, true
}

// RunHart is one simulated hart's scheduling loop: repeatedly pop a
// runnable task and hand it to runOne (supplied by the trap/syscall
// layer, which knows how to resume a task's execution context) until
// done is closed. Biscuit's equivalent is an OS thread parked on a per-CPU
// run queue condition variable (tinfo.Tnote_t plus runtime-level
// scheduling); here the "hart" is simply the goroutine executing this
// loop, and blocking is ordinary goroutine blocking.
func (s *Scheduler) RunHart(done <-chan struct{}, runOne func(*Task)) {
	for {
		select {
		case <-done:
			return
		default:
		}
		pid, ok := s.Next()
		if !ok {
			continue
		}
		t, ok := s.Lookup(pid)
		if !ok {
			continue
		}
		runOne(t)
	}
}
