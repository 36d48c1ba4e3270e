// Package supervisor implements Marlin's process lifecycle (spec.md
// §5's "the server transitions through init -> configured -> running
// -> draining -> stopped"). Everything beyond that in-process state
// machine — Windows service control, installation/registry, CLI UX,
// WMI event log (spec.md §1's enumerated supervisor surface) — is an
// external collaborator; this package only carries the boundary
// interface plus a minimal implementation sufficient to drive
// cmd/marlinctl's marlin:serve task.
//
// Grounded on other_examples/ManuGH-xg2g's Server.Start/Shutdown(ctx)
// pair (ListenAndServe in a goroutine, http.ErrServerClosed treated as
// a clean stop, Shutdown(ctx) for the graceful half), generalized from
// one listener to the one-http.Server-per-port shape spec.md §4.D's
// site registry requires.
package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/johnjansen/marlin/report"
)

// State is a Supervisor's position in spec.md §5's lifecycle.
type State int

const (
	StateInit State = iota
	StateConfigured
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateConfigured:
		return "configured"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "init"
	}
}

// Controller is the lifecycle surface cmd/marlinctl drives. It names
// only the state transitions spec.md §5 specifies; how a concrete
// Controller maps those onto listening sockets is its own concern.
type Controller interface {
	State() State
	Configure(port int, handler http.Handler) error
	Start() error
	Drain(ctx context.Context) error
	Stop() error
}

// listener pairs one bound port with the *http.Server serving it.
// Marlin runs one net/http server per distinct port in the site
// registry (spec.md §4.D: sites share a port, each port gets its own
// listen socket).
type listener struct {
	port   int
	server *http.Server
}

var _ Controller = (*Supervisor)(nil)

// Supervisor is the minimal in-process Controller: it owns one
// *http.Server per configured port and walks them through Start,
// graceful Drain, and force Stop together.
type Supervisor struct {
	mu            sync.Mutex
	state         State
	listeners     []*listener
	reporter      *report.Reporter
	drainDeadline time.Duration
	errCh         chan error
}

// New returns a Supervisor in StateInit. drainDeadline bounds how long
// Drain waits for in-flight requests and streams to finish before
// giving up and letting the caller force-close (spec.md §5: "up to a
// grace deadline, then force-closes").
func New(rpt *report.Reporter, drainDeadline time.Duration) *Supervisor {
	return &Supervisor{
		reporter:      rpt,
		drainDeadline: drainDeadline,
		errCh:         make(chan error, 1),
	}
}

// State reports the Supervisor's current lifecycle position.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Configure binds handler to port, transitioning Init/Configured ->
// Configured. Calling it after Start has already run returns an error:
// the listener set is fixed once the Supervisor is Running.
func (s *Supervisor) Configure(port int, handler http.Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateInit && s.state != StateConfigured {
		return fmt.Errorf("supervisor: cannot configure a port while %s", s.state)
	}

	s.listeners = append(s.listeners, &listener{
		port:   port,
		server: &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: handler},
	})
	s.state = StateConfigured
	return nil
}

// Start begins accepting connections on every configured port,
// transitioning Configured -> Running. Each listener's ListenAndServe
// runs on its own goroutine; a failure other than the expected
// post-Shutdown http.ErrServerClosed is reported and surfaced to Wait.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	if s.state != StateConfigured {
		s.mu.Unlock()
		return fmt.Errorf("supervisor: Start called from state %s, not configured", s.state)
	}
	listeners := append([]*listener{}, s.listeners...)
	s.state = StateRunning
	s.mu.Unlock()

	for _, l := range listeners {
		l := l
		go func() {
			if err := l.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				if s.reporter != nil {
					s.reporter.Report("supervisor.start", err, fmt.Sprintf("listener on port %d failed", l.port), report.SeverityAlert)
				}
				select {
				case s.errCh <- err:
				default:
				}
			}
		}()
	}
	return nil
}

// Wait blocks until a listener fails outside of an expected Shutdown,
// or ctx is done, whichever comes first. A supervising caller can use
// this to know when to begin draining; cmd/marlinctl's marlin:serve
// task does not call it and drains on SIGINT/SIGTERM instead.
func (s *Supervisor) Wait(ctx context.Context) error {
	select {
	case err := <-s.errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain stops accepting new connections on every listener and waits,
// up to the Supervisor's drainDeadline (bounded further by ctx), for
// in-flight requests and streams to finish — spec.md §5's "draining
// stops accepting new connections, lets in-flight requests and
// streams complete up to a grace deadline". Transitions Running ->
// Draining -> Stopped.
func (s *Supervisor) Drain(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return fmt.Errorf("supervisor: Drain called from state %s, not running", s.state)
	}
	s.state = StateDraining
	listeners := append([]*listener{}, s.listeners...)
	s.mu.Unlock()

	deadline := s.drainDeadline
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	drainCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	var firstErr error
	for _, l := range listeners {
		if err := l.server.Shutdown(drainCtx); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()
	return firstErr
}

// Stop force-closes every listener immediately, without waiting for
// in-flight work — the "then force-closes" half of spec.md §5's
// lifecycle, for callers that skip Drain or whose grace deadline has
// already elapsed.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	listeners := append([]*listener{}, s.listeners...)
	s.state = StateStopped
	s.mu.Unlock()

	var firstErr error
	for _, l := range listeners {
		if err := l.server.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
