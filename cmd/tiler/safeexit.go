package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
)

// SafeExit cancels the command context on the first termination signal
// and runs the registered cleanups once, in reverse order, when the command
// returns. A second signal runs them immediately and exits.
type SafeExit struct {
	funcs  []func()
	mu     sync.Mutex
	once   sync.Once
	cancel context.CancelFunc
	sigs   chan os.Signal
	log    logrus.FieldLogger
}

// NewSafeExit starts listening for signals and returns the context they
// cancel.
func NewSafeExit(parent context.Context, log logrus.FieldLogger) (*SafeExit, context.Context) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	s := &SafeExit{
		cancel: cancel,
		sigs:   make(chan os.Signal, 2),
		log:    log,
	}
	signal.Notify(s.sigs, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go s.listen()
	return s, ctx
}

// Register adds a cleanup.
func (s *SafeExit) Register(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.funcs = append(s.funcs, f)
}

// Exit stops listening and runs the cleanups. Later calls do nothing.
func (s *SafeExit) Exit() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		signal.Stop(s.sigs)
		s.cancel()

		s.mu.Lock()
		defer s.mu.Unlock()
		for i := len(s.funcs) - 1; i >= 0; i-- {
			s.funcs[i]()
		}
		close(s.sigs)
	})
}

func (s *SafeExit) listen() {
	first := true
	for sig := range s.sigs {
		if first {
			first = false
			s.log.Warnf("received signal %s, stopping, please wait", sig)
			s.cancel()
			continue
		}
		s.log.Warnf("received signal %s again, exiting now", sig)
		s.Exit()
		os.Exit(1)
	}
}
