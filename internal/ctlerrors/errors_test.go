package ctlerrors

import (
	"errors"
	"os"
	"testing"
)

func TestConfigError_MatchesKindWithoutStringParsing(t *testing.T) {
	err := NewConfigError("interface", "", "interface is required")
	if !Is(err, ConfigValidation) {
		t.Errorf("expected ConfigValidation kind to match")
	}
	if Is(err, StrategyParse) {
		t.Errorf("did not expect StrategyParse kind to match")
	}
}

func TestStrategyError_FormatsFileAndLine(t *testing.T) {
	err := NewStrategyError("strategy.bat", 42, "bad directive")
	want := "strategy.bat:42: bad directive"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestWrap_PreservesInnermostKindViaUnwrap(t *testing.T) {
	inner := NewFirewallError("modern-nft", "setup", "nft failed", errors.New("exit status 1"))
	wrapped := Wrap(inner, "setup failed")
	if !Is(wrapped, FirewallSetup) {
		t.Errorf("expected wrapped error to still match FirewallSetup")
	}
}

func TestFromOS_ClassifiesNotFound(t *testing.T) {
	_, statErr := os.Stat("/nonexistent/path/for/ctlerrors/test")
	classified := FromOS(statErr)
	if !Is(classified, NotFound) {
		t.Errorf("expected NotFound, got %v", classified)
	}
}

func TestSessionError_CarriesRequestedAndCurrent(t *testing.T) {
	err := NewSessionError("start", "active", "daemon is already running")
	if err.Requested != "start" || err.Current != "active" {
		t.Errorf("unexpected fields: %+v", err)
	}
	if !Is(err, SessionState) {
		t.Errorf("expected SessionState kind to match")
	}
}
