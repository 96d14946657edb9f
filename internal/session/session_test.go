package session

import (
	"os"
	"path/filepath"
	"testing"

	"diverter/internal/config"
	"diverter/internal/ctlerrors"
	"diverter/internal/firewall"
	"diverter/internal/strategy"
)

// fakeBackend is a minimal firewall.Backend double used to exercise the
// session controller's composition without touching real kernel state.
type fakeBackend struct {
	setupCalls   int
	cleanupCalls int
	failSetup    bool
	ruleCount    int
}

func (f *fakeBackend) Kind() firewall.Kind { return firewall.ModernNFT }

func (f *fakeBackend) Setup(rules []strategy.FilterRule, iface string, routerMode bool) error {
	f.setupCalls++
	if f.failSetup {
		return ctlerrors.NewFirewallError("fake", "setup", "injected failure", nil)
	}
	f.ruleCount = len(rules)
	return nil
}

func (f *fakeBackend) Cleanup() error {
	f.cleanupCalls++
	f.ruleCount = 0
	return nil
}

func (f *fakeBackend) Status() (firewall.Status, error) {
	state := firewall.StateInactive
	if f.ruleCount > 0 {
		state = firewall.StateActive
	}
	return firewall.Status{Kind: firewall.ModernNFT, State: state, RuleCount: f.ruleCount}, nil
}

func newTestConfig(t *testing.T, strategyBody, workerBinary string) *config.Config {
	t.Helper()
	dir := t.TempDir()

	strategyPath := filepath.Join(dir, "strategy.bat")
	if err := os.WriteFile(strategyPath, []byte(strategyBody), 0644); err != nil {
		t.Fatalf("writing strategy file: %v", err)
	}

	return &config.Config{
		StrategyFile: strategyPath,
		Interface:    "any",
		WorkerBinary: workerBinary,
		Source:       map[string]string{},
	}
}

func TestStart_HappyPathTransitionsToActive(t *testing.T) {
	sleepPath := "/bin/sleep"
	if _, err := os.Stat(sleepPath); err != nil {
		t.Skip("/bin/sleep not available")
	}
	cfg := newTestConfig(t, "--filter-tcp=443 5 --new", sleepPath)
	fb := &fakeBackend{}
	ctrl := New(cfg, firewall.NewManagerWithBackend(fb))

	if err := ctrl.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer ctrl.Stop()

	if ctrl.State() != Active {
		t.Errorf("expected Active, got %s", ctrl.State())
	}
	if fb.setupCalls != 1 {
		t.Errorf("expected exactly one Setup call, got %d", fb.setupCalls)
	}
}

func TestStart_RejectsWhenAlreadyActive(t *testing.T) {
	sleepPath := "/bin/sleep"
	if _, err := os.Stat(sleepPath); err != nil {
		t.Skip("/bin/sleep not available")
	}
	cfg := newTestConfig(t, "--filter-tcp=443 5 --new", sleepPath)
	ctrl := New(cfg, firewall.NewManagerWithBackend(&fakeBackend{}))

	if err := ctrl.Start(); err != nil {
		t.Fatalf("first Start: %v", err)
	}
	defer ctrl.Stop()

	err := ctrl.Start()
	if !ctlerrors.Is(err, ctlerrors.SessionState) {
		t.Errorf("expected SessionState error, got %v", err)
	}
}

func TestStart_RollsBackFirewallOnWorkerSpawnFailure(t *testing.T) {
	cfg := newTestConfig(t, "--filter-tcp=443 5 --new", "/nonexistent/worker-binary")
	fb := &fakeBackend{}
	ctrl := New(cfg, firewall.NewManagerWithBackend(fb))

	err := ctrl.Start()
	if err == nil {
		t.Fatalf("expected an error from a missing worker binary")
	}
	if ctrl.State() != Idle {
		t.Errorf("expected session to roll back to Idle, got %s", ctrl.State())
	}
	if fb.cleanupCalls == 0 {
		t.Errorf("expected rollback to call firewall Cleanup")
	}
}

func TestStop_OnIdleSessionReturnsSessionStateError(t *testing.T) {
	cfg := newTestConfig(t, "--filter-tcp=443 5 --new", "/bin/sleep")
	ctrl := New(cfg, firewall.NewManagerWithBackend(&fakeBackend{}))

	err := ctrl.Stop()
	if !ctlerrors.Is(err, ctlerrors.SessionState) {
		t.Errorf("expected SessionState error, got %v", err)
	}
}
