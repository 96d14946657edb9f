// Package session owns the single in-process Session value and its state
// transitions, composing the strategy compiler, firewall reconciler, and
// worker supervisor into start/stop/restart operations.
package session

import (
	"fmt"
	"sync"
	"time"

	"diverter/internal/clock"
	"diverter/internal/config"
	"diverter/internal/ctlerrors"
	"diverter/internal/firewall"
	"diverter/internal/logging"
	"diverter/internal/strategy"
	"diverter/internal/worker"
)

// State is one of the four session states.
type State string

const (
	Idle     State = "idle"
	Starting State = "starting"
	Active   State = "active"
	Stopping State = "stopping"
)

// Controller owns the single Session value. All mutating operations hold
// mu for their full duration, so commands serialize naturally.
type Controller struct {
	mu sync.Mutex

	cfg      *config.Config
	firewall *firewall.Manager
	workers  *worker.Manager
	clock    clock.Clock
	log      *logging.Logger

	state    State
	strategy *strategy.CompiledStrategy

	lastRuleInstall time.Time
}

// New wires a Controller from an already-loaded Config and a selected
// firewall backend.
func New(cfg *config.Config, fw *firewall.Manager) *Controller {
	return &Controller{
		cfg:      cfg,
		firewall: fw,
		workers:  worker.NewManager(cfg.WorkerBinary),
		clock:    &clock.RealClock{},
		log:      logging.WithComponent("session"),
		state:    Idle,
	}
}

// Recover guarantees the idle invariant even if a previous instance
// crashed: it runs firewall cleanup and a worker-binary-wide sweep before
// the controller accepts any command. Errors here are warnings only.
func (c *Controller) Recover() {
	if err := c.firewall.Cleanup(); err != nil {
		c.log.Warn("recovery cleanup failed", "error", err)
	}
	if err := c.workers.KillAll(); err != nil {
		c.log.Warn("recovery kill-all failed", "error", err)
	}
}

// State reports the current session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start compiles the configured strategy, installs firewall rules, then
// spawns workers. On any failure it rolls back everything already done and
// returns to idle.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLocked()
}

// startLocked is Start's body, factored out so Restart can call it while
// already holding mu without a reentrant lock acquisition.
func (c *Controller) startLocked() error {
	if c.state != Idle {
		return ctlerrors.NewSessionError("start", string(c.state), "daemon is already running")
	}
	c.state = Starting

	cs, err := strategy.Parse(c.cfg.StrategyFile, c.cfg.GameFilterEnabled)
	if err != nil {
		c.state = Idle
		return err
	}
	if len(cs.Rules) == 0 {
		c.log.Warn("strategy compiled to zero rules, session will start but divert nothing")
	}

	if err := c.firewall.Setup(cs.Rules, c.cfg.Interface, c.cfg.RouterMode); err != nil {
		c.state = Idle
		return err
	}
	c.lastRuleInstall = c.clock.Now()

	if err := c.workers.Start(cs.Workers); err != nil {
		if cleanupErr := c.firewall.Cleanup(); cleanupErr != nil {
			c.log.Warn("rollback cleanup after worker spawn failure also failed", "error", cleanupErr)
		}
		c.state = Idle
		return err
	}

	c.strategy = cs
	c.state = Active
	return nil
}

// Stop tears workers down, then firewall rules, then marks idle. It always
// completes and transitions to idle, even if a step fails; failures are
// logged, not returned as a blocking condition, per the propagation
// policy: leaving the session in "stopping" forever is worse than
// acknowledging a partial failure.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked()
}

// stopLocked is Stop's body, factored out so Restart can call it while
// already holding mu without a reentrant lock acquisition.
func (c *Controller) stopLocked() error {
	if c.state == Idle {
		return ctlerrors.NewSessionError("stop", string(c.state), "daemon is not running")
	}
	c.state = Stopping

	var firstErr error
	if err := c.workers.Stop(); err != nil {
		c.log.Warn("stopping workers failed", "error", err)
		firstErr = err
	}
	if err := c.firewall.Cleanup(); err != nil {
		c.log.Warn("firewall cleanup during stop failed", "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	c.strategy = nil
	c.state = Idle
	return firstErr
}

// Restart is stop followed by start, with the controller's lock held
// across both phases so no command can interleave.
func (c *Controller) Restart() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Idle {
		if err := c.stopLocked(); err != nil {
			c.log.Warn("restart's stop phase reported an error, continuing to start", "error", err)
		}
	}
	return c.startLocked()
}

// Snapshot is the aggregate, read-only view the "status" command returns.
type Snapshot struct {
	State         State
	Firewall      firewall.Status
	Workers       worker.Status
	RuleOrderedOK bool
}

// Status reads directly from the firewall and worker managers without
// mutating anything.
func (c *Controller) Status() (Snapshot, error) {
	c.mu.Lock()
	state := c.state
	lastRuleInstall := c.lastRuleInstall
	c.mu.Unlock()

	fwStatus, err := c.firewall.Status()
	if err != nil {
		return Snapshot{}, err
	}
	wStatus := c.workers.Status()

	orderedOK := true
	if earliest, ok := c.workers.EarliestStart(); ok && !lastRuleInstall.IsZero() {
		orderedOK = earliest.After(lastRuleInstall)
	}

	return Snapshot{
		State:         state,
		Firewall:      fwStatus,
		Workers:       wStatus,
		RuleOrderedOK: orderedOK,
	}, nil
}

// Config returns the redacted config record for the "config" command.
func (c *Controller) Config() *config.Config {
	return c.cfg.Redacted()
}

// FirewallStatus and WorkerStatus back the dedicated "firewall" and
// "processes" commands.
func (c *Controller) FirewallStatus() (firewall.Status, error) { return c.firewall.Status() }
func (c *Controller) WorkerStatus() worker.Status               { return c.workers.Status() }

func (c *Controller) String() string {
	return fmt.Sprintf("session<%s>", c.State())
}
