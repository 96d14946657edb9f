package strategy

import (
	"strings"
	"testing"
)

func TestParse_SingleDirectivePair(t *testing.T) {
	src := "--filter-tcp=443 arg1 arg2 --new --filter-udp=443 arg3 --new"
	cs, err := parseReader(strings.NewReader(src), "test.bat", false)
	if err != nil {
		t.Fatalf("parseReader: %v", err)
	}
	if len(cs.Rules) != 2 || len(cs.Workers) != 2 {
		t.Fatalf("expected 2 pairs, got %d rules, %d workers", len(cs.Rules), len(cs.Workers))
	}
	if cs.Rules[0].QueueNum != 0 || cs.Rules[1].QueueNum != 1 {
		t.Errorf("unexpected queue numbers: %d, %d", cs.Rules[0].QueueNum, cs.Rules[1].QueueNum)
	}
	if cs.Workers[0].QueueNum != cs.Rules[0].QueueNum {
		t.Errorf("worker/rule queue mismatch at index 0")
	}
}

func TestParse_EmptyFileProducesEmptyStrategy(t *testing.T) {
	cs, err := parseReader(strings.NewReader("\n::comment\n"), "empty.bat", false)
	if err != nil {
		t.Fatalf("parseReader: %v", err)
	}
	if len(cs.Rules) != 0 {
		t.Errorf("expected zero rules, got %d", len(cs.Rules))
	}
}

func TestParse_FilterWithoutArgumentsYieldsEmptyArgs(t *testing.T) {
	cs, err := parseReader(strings.NewReader("--filter-tcp=80"), "noargs.bat", false)
	if err != nil {
		t.Fatalf("parseReader: %v", err)
	}
	if len(cs.Workers) != 1 {
		t.Fatalf("expected one worker, got %d", len(cs.Workers))
	}
	if len(cs.Workers[0].Args) != 0 {
		t.Errorf("expected empty args, got %v", cs.Workers[0].Args)
	}
}

func TestGameFilter_DisabledElidesLeadingComma(t *testing.T) {
	line := applyPlaceholders("50000-65000,%GameFilter%", false)
	if strings.Contains(line, ",,") || strings.HasSuffix(line, ",") {
		t.Errorf("malformed port list after elision: %q", line)
	}
	if line != "50000-65000" {
		t.Errorf("got %q, want %q", line, "50000-65000")
	}
}

func TestGameFilter_EnabledSubstitutesPortRange(t *testing.T) {
	line := applyPlaceholders("1000,%GameFilter%", true)
	if !strings.Contains(line, gameFilterPorts) {
		t.Errorf("expected %q in %q", gameFilterPorts, line)
	}
}

func TestSubstitution_BinAndListsOrderIndependent(t *testing.T) {
	src := "%BIN%nfqws %LISTS%foo.txt"
	a := applyPlaceholders(src, true)
	if !strings.Contains(a, binReplacement) || !strings.Contains(a, listsReplacement) {
		t.Errorf("expected both replacements present in %q", a)
	}
	b := strings.ReplaceAll(strings.ReplaceAll(src, listsPlaceholder, listsReplacement), binPlaceholder, binReplacement)
	if a != b {
		t.Errorf("substitution order changed output: %q vs %q", a, b)
	}
}

func TestNegationNormalization_AppliedAfterSplit(t *testing.T) {
	args, err := splitArgs(`--dpi-desync-fooling="md5sig=^!" plain=^!`)
	if err != nil {
		t.Fatalf("splitArgs: %v", err)
	}
	args = normalizeNegation(args)
	for _, a := range args {
		if strings.Contains(a, "=^!") {
			t.Errorf("unnormalized negation survived in %q", a)
		}
	}
}

func TestSplitArgs_RespectsQuotedSpans(t *testing.T) {
	args, err := splitArgs(`--hostlist=lists/a.txt --desync="fake split" --flag`)
	if err != nil {
		t.Fatalf("splitArgs: %v", err)
	}
	want := []string{"--hostlist=lists/a.txt", "--desync=fake split", "--flag"}
	if len(args) != len(want) {
		t.Fatalf("got %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("arg[%d] = %q, want %q", i, args[i], want[i])
		}
	}
}

func TestIsCommentOrEmpty(t *testing.T) {
	cases := map[string]bool{
		"":                 true,
		"   ":              true,
		"::a comment":      true,
		"@echo off":        true,
		"chcp 65001":       true,
		"--filter-tcp=443": false,
	}
	for line, want := range cases {
		if got := isCommentOrEmpty(line); got != want {
			t.Errorf("isCommentOrEmpty(%q) = %v, want %v", line, got, want)
		}
	}
}
