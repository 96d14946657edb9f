// Package strategy compiles a flat, declarative strategy file into
// queue-numbered (FilterRule, WorkerSpec) pairs.
package strategy

import (
	"bufio"
	"io"
	"os"
	"regexp"
	"strings"

	"diverter/internal/ctlerrors"
)

const (
	binPlaceholder        = "%BIN%"
	listsPlaceholder       = "%LISTS%"
	gameFilterPlaceholder  = "%GameFilter%"
	binReplacement         = "bin/"
	listsReplacement       = "lists/"
	gameFilterPorts        = "1024-65535"
)

// Protocol is one of the two transport protocols a FilterRule can match.
type Protocol string

const (
	TCP Protocol = "tcp"
	UDP Protocol = "udp"
)

// FilterRule is one compiled divert predicate, keyed by QueueNum.
type FilterRule struct {
	Protocol      Protocol
	Ports         string
	QueueNum      int
	BypassOnStall bool
}

// WorkerSpec is the 1:1 counterpart to a FilterRule, carrying the
// post-substitution argument vector for the worker bound to QueueNum.
type WorkerSpec struct {
	QueueNum int
	Args     []string
}

// CompiledStrategy is the paired, queue-indexed output of Parse.
type CompiledStrategy struct {
	Rules   []FilterRule
	Workers []WorkerSpec
}

var directiveRe = regexp.MustCompile(`--filter-(tcp|udp)=([0-9,-]+)(?:\s+(.*?))?(?:--new|$)`)

// Parse streams file line by line, substituting tokens and extracting
// directives, and returns the compiled strategy or a StrategyError carrying
// the offending line number.
func Parse(path string, gameFilterEnabled bool) (*CompiledStrategy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ctlerrors.NewStrategyError(path, 0, "opening strategy file: "+err.Error())
	}
	defer f.Close()
	return parseReader(f, path, gameFilterEnabled)
}

func parseReader(r io.Reader, path string, gameFilterEnabled bool) (*CompiledStrategy, error) {
	cs := &CompiledStrategy{}
	scanner := bufio.NewScanner(r)
	lineNum := 0
	nextQueue := 0

	for scanner.Scan() {
		lineNum++
		line := strings.ReplaceAll(scanner.Text(), "\r", "")

		if isCommentOrEmpty(line) {
			continue
		}

		substituted := applyPlaceholders(line, gameFilterEnabled)

		allMatches := directiveRe.FindAllStringSubmatch(substituted, -1)
		for _, matches := range allMatches {
			proto := Protocol(matches[1])
			ports := matches[2]
			argString := strings.TrimSpace(matches[3])

			args, err := splitArgs(argString)
			if err != nil {
				return nil, ctlerrors.NewStrategyError(path, lineNum, "splitting worker arguments: "+err.Error())
			}
			args = normalizeNegation(args)

			q := nextQueue
			nextQueue++

			cs.Rules = append(cs.Rules, FilterRule{
				Protocol:      proto,
				Ports:         ports,
				QueueNum:      q,
				BypassOnStall: true,
			})
			cs.Workers = append(cs.Workers, WorkerSpec{
				QueueNum: q,
				Args:     args,
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, ctlerrors.NewStrategyError(path, lineNum, "reading strategy file: "+err.Error())
	}
	return cs, nil
}

func isCommentOrEmpty(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return true
	}
	if strings.HasPrefix(trimmed, "::") {
		return true
	}
	if strings.HasPrefix(strings.ToLower(trimmed), "@echo") {
		return true
	}
	if strings.HasPrefix(strings.ToLower(trimmed), "chcp") {
		return true
	}
	return false
}

func applyPlaceholders(line string, gameFilterEnabled bool) string {
	line = strings.ReplaceAll(line, binPlaceholder, binReplacement)
	line = strings.ReplaceAll(line, listsPlaceholder, listsReplacement)

	if gameFilterEnabled {
		line = strings.ReplaceAll(line, gameFilterPlaceholder, gameFilterPorts)
		return line
	}

	// Disabled: elide the token and any adjacent comma so the surrounding
	// port list stays well-formed (no leading/trailing/doubled comma).
	line = strings.ReplaceAll(line, ","+gameFilterPlaceholder, "")
	line = strings.ReplaceAll(line, gameFilterPlaceholder+",", "")
	line = strings.ReplaceAll(line, gameFilterPlaceholder, "")
	return line
}

// normalizeNegation rewrites =^! to =! in each already-split argument,
// rather than in the raw line, so a straddled quoted boundary is handled
// correctly.
func normalizeNegation(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = strings.ReplaceAll(a, "=^!", "=!")
	}
	return out
}

// splitArgs splits a string into an argument vector respecting
// double-quoted spans, mirroring shell word-splitting without invoking a
// shell.
func splitArgs(s string) ([]string, error) {
	var args []string
	var current strings.Builder
	inQuotes := false
	hasToken := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			inQuotes = !inQuotes
			hasToken = true
		case c == ' ' || c == '\t':
			if inQuotes {
				current.WriteByte(c)
			} else if hasToken {
				args = append(args, current.String())
				current.Reset()
				hasToken = false
			}
		default:
			current.WriteByte(c)
			hasToken = true
		}
	}
	if hasToken {
		args = append(args, current.String())
	}
	return args, nil
}
