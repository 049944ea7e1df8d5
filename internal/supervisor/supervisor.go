// Package supervisor owns the feed session: the connection state machine,
// the retry budget and the arming of the strategy on connect.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fxgateway/internal/feed"
	"fxgateway/internal/publish"
	"fxgateway/logger"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	Terminated
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Supervisor drives the session state machine. The budget convention is
// decrement-then-check: a budget of N tolerates exactly N consecutive failed
// reconnects, and the budget resets on every confirmed connect.
type Supervisor struct {
	client   feed.Client
	strategy feed.Strategy
	pub      *publish.Publisher
	log      *logger.Log

	budget int
	// onTerminal fires once when the state machine reaches Terminated;
	// process shutdown is the prescribed policy.
	onTerminal func()

	mu         sync.Mutex
	state      State
	retries    int
	started    bool
	strategyID int64
}

func New(client feed.Client, strategy feed.Strategy, pub *publish.Publisher, budget int, onTerminal func()) *Supervisor {
	s := &Supervisor{
		client:     client,
		strategy:   strategy,
		pub:        pub,
		log:        logger.GetLogger(),
		budget:     budget,
		onTerminal: onTerminal,
		state:      Disconnected,
		retries:    budget,
	}
	client.SetSystemListener(s)
	return s
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) RetriesRemaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retries
}

// Connect initiates the session. The transition to Connected arrives
// asynchronously through OnConnect.
func (s *Supervisor) Connect(url, username, password string) error {
	s.mu.Lock()
	if s.state != Disconnected {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("cannot connect from state %s", state)
	}
	s.state = Connecting
	s.mu.Unlock()

	s.log.WithComponent("supervisor").WithFields(logger.Fields{"url": url}).Info("connecting to feed")
	if err := s.client.Connect(url, username, password); err != nil {
		s.mu.Lock()
		s.state = Disconnected
		s.mu.Unlock()
		return fmt.Errorf("failed to initiate feed connection: %w", err)
	}
	return nil
}

// WaitConnected blocks until the session is confirmed or the timeout lapses.
func (s *Supervisor) WaitConnected(ctx context.Context, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		switch s.State() {
		case Connected:
			return nil
		case Terminated:
			return fmt.Errorf("session terminated while waiting for connection")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("feed connection not confirmed within %s", timeout)
		case <-ticker.C:
		}
	}
}

func (s *Supervisor) OnStart(processID int64) {
	s.log.WithComponent("supervisor").WithFields(logger.Fields{"process_id": processID}).Info("feed strategy started")
}

// OnStop is the feed's clean-stop signal: orderly shutdown, not an error.
func (s *Supervisor) OnStop(processID int64) {
	s.mu.Lock()
	s.state = Disconnected
	s.started = false
	s.mu.Unlock()
	s.log.WithComponent("supervisor").WithFields(logger.Fields{"process_id": processID}).Info("feed strategy stopped")
}

// OnConnect confirms the session: the retry budget resets and, on the first
// connect of a session, the strategy is armed (which in turn triggers the
// backfill coordinator).
func (s *Supervisor) OnConnect() {
	s.mu.Lock()
	prev := s.state
	s.state = Connected
	s.retries = s.budget
	startStrategy := !s.started
	if startStrategy {
		s.started = true
	}
	s.mu.Unlock()

	s.log.WithComponent("supervisor").WithFields(logger.Fields{"previous_state": prev.String()}).Info("connected to feed")

	if !startStrategy {
		return
	}
	id, err := s.client.StartStrategy(s.strategy)
	if err != nil {
		s.log.WithComponent("supervisor").WithError(err).Error("failed to start strategy")
		s.pub.PublishError(context.Background(), "Failed to start strategy: "+err.Error())
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		return
	}
	s.mu.Lock()
	s.strategyID = id
	s.mu.Unlock()
}

// OnDisconnect spends one unit of retry budget, or terminates the session
// when the budget is already exhausted. A failure to initiate the reconnect
// does not itself consume additional budget.
func (s *Supervisor) OnDisconnect() {
	s.mu.Lock()
	if s.state == Terminated || s.state == Disconnected {
		s.mu.Unlock()
		return
	}
	if s.retries <= 0 {
		s.state = Terminated
		s.mu.Unlock()
		s.log.WithComponent("supervisor").Error("exceeded maximum reconnection attempts")
		s.pub.PublishError(context.Background(), "Exceeded maximum reconnection attempts.")
		if s.onTerminal != nil {
			go s.onTerminal()
		}
		return
	}
	s.retries--
	remaining := s.retries
	s.state = Reconnecting
	s.mu.Unlock()

	s.log.WithComponent("supervisor").WithFields(logger.Fields{
		"retries_remaining": remaining,
	}).Warn("disconnected from feed, attempting to reconnect")

	if err := s.client.Reconnect(); err != nil {
		s.log.WithComponent("supervisor").WithError(err).Error("reconnection attempt failed")
	}
}

// Shutdown stops the running strategy, if any.
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	started := s.started
	id := s.strategyID
	s.mu.Unlock()

	if started {
		if err := s.client.StopStrategy(id); err != nil {
			s.log.WithComponent("supervisor").WithError(err).Warn("failed to stop strategy")
		}
	}
	s.client.Disconnect()
}
