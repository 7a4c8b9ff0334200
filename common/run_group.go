package common

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

var ErrInterrupted = errors.New("interrupted by signal")

type member struct {
	name      string
	execute   func() error
	interrupt func(error)
}

type RunGroupOption func(*RunGroup) error

func WithSystemInterrupt(ok bool) RunGroupOption {
	return func(rg *RunGroup) error {
		rg.systemInterrupt = ok
		return nil
	}
}

func WithStopTimeout(td time.Duration) RunGroupOption {
	return func(rg *RunGroup) error {
		if td <= 0 {
			return fmt.Errorf("stop timeout must be positive")
		}
		rg.stopTimeout = td
		return nil
	}
}

// RunGroup runs members until the first one returns, then interrupts all of
// them and waits up to the stop timeout for the interrupts to finish.
type RunGroup struct {
	mu              sync.Mutex
	members         []member
	systemInterrupt bool
	stopTimeout     time.Duration
	started         bool
}

const (
	defaultSystemInterrupt = true
	defaultStopTimeout     = 10 * time.Second
)

func NewRunGroup(opts ...RunGroupOption) (*RunGroup, error) {
	rg := &RunGroup{
		systemInterrupt: defaultSystemInterrupt,
		stopTimeout:     defaultStopTimeout,
	}

	for _, opt := range opts {
		if err := opt(rg); err != nil {
			return nil, err
		}
	}
	return rg, nil
}

func (g *RunGroup) Add(name string, execute func() error, interrupt func(error)) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.started {
		return fmt.Errorf("cannot add %q after Run has started", name)
	}
	g.members = append(g.members, member{name: name, execute: execute, interrupt: interrupt})
	return nil
}

// Run blocks until a member exits, ctx is done or, with system interrupt
// enabled, SIGINT/SIGQUIT/SIGTERM arrives. The first member error is returned.
func (g *RunGroup) Run(ctx context.Context) error {
	g.mu.Lock()
	if g.started {
		g.mu.Unlock()
		return fmt.Errorf("run group already started")
	}
	g.started = true
	members := append([]member(nil), g.members...)
	g.mu.Unlock()

	if len(members) == 0 {
		return nil
	}

	var term chan os.Signal
	if g.systemInterrupt {
		term = make(chan os.Signal, 1)
		signal.Notify(term, os.Interrupt, unix.SIGINT, unix.SIGQUIT, unix.SIGTERM)
		defer signal.Stop(term)
	}

	exits := make(chan error, len(members))
	for _, m := range members {
		go func(m member) {
			err := m.execute()
			if err != nil && !errors.Is(err, context.Canceled) {
				exits <- fmt.Errorf("%s: %w", m.name, err)
				return
			}
			exits <- nil
		}(m)
	}

	var err error
	select {
	case err = <-exits:
	case <-term:
		err = ErrInterrupted
	case <-ctx.Done():
		if !errors.Is(ctx.Err(), context.Canceled) {
			err = ctx.Err()
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), g.stopTimeout)
	defer stopCancel()

	var wg sync.WaitGroup
	for _, m := range members {
		wg.Add(1)
		go func(m member) {
			defer wg.Done()
			m.interrupt(err)
		}(m)
	}

	interrupted := make(chan struct{})
	go func() {
		wg.Wait()
		close(interrupted)
	}()

	select {
	case <-interrupted:
		if errors.Is(err, ErrInterrupted) {
			return nil
		}
		return err
	case <-stopCtx.Done():
		return fmt.Errorf("run group stop: %w", stopCtx.Err())
	}
}
