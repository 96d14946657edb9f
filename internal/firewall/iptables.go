package firewall

import (
	"bufio"
	"bytes"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"diverter/internal/ctlerrors"
	"diverter/internal/logging"
	"diverter/internal/strategy"
)

// iptChainName is both the Tag and the dedicated custom chain: ownership in
// this backend is by chain membership, not per-rule comments.
const iptChainName = Tag

// iptBackend is the legacy-ipt variant: a dedicated chain holds every
// diverted-flow rule, reached by a single JUMP appended to OUTPUT.
type iptBackend struct {
	log *logging.Logger

	// masqIface is the -o interface the masquerade rule was last added
	// with, if any. Cleanup must delete with the same predicate it was
	// added under, so it never collaterally removes an operator's own
	// masquerade rule on a different interface.
	masqIface string
}

func newIPTBackend() *iptBackend {
	return &iptBackend{log: logging.WithComponent("firewall").WithOperation("legacy-ipt")}
}

func (b *iptBackend) Kind() Kind { return LegacyIPT }

func (b *iptBackend) probe() error {
	cmd := exec.Command("iptables", "-L", "-n")
	out, err := cmd.CombinedOutput()
	if err != nil {
		return ctlerrors.NewFirewallError(string(LegacyIPT), "probe", string(out), err)
	}
	return nil
}

func (b *iptBackend) Setup(rules []strategy.FilterRule, iface string, routerMode bool) error {
	if err := b.Cleanup(); err != nil {
		return err
	}

	if err := b.run("-N", iptChainName); err != nil {
		return ctlerrors.NewFirewallError(string(LegacyIPT), "setup", "creating chain", err)
	}

	for _, r := range rules {
		if err := b.addRule(r, iface); err != nil {
			return ctlerrors.NewFirewallError(string(LegacyIPT), "setup", fmt.Sprintf("adding rule for queue %d", r.QueueNum), err)
		}
	}

	if err := b.run("-A", "OUTPUT", "-j", iptChainName); err != nil {
		return ctlerrors.NewFirewallError(string(LegacyIPT), "setup", "appending jump rule", err)
	}

	if routerMode {
		if iface == "" || iface == InterfaceAny {
			b.log.Warn("router mode requested with interface=any, omitting masquerade rule (no selectable output interface)")
		} else if err := b.run("-t", "nat", "-A", "POSTROUTING", "-o", iface, "-j", "MASQUERADE"); err != nil {
			return ctlerrors.NewFirewallError(string(LegacyIPT), "setup", "adding masquerade rule", err)
		} else {
			b.masqIface = iface
		}
	}
	return nil
}

// InterfaceAny mirrors config.InterfaceAny so this package does not import
// the config package.
const InterfaceAny = "any"

func (b *iptBackend) addRule(r strategy.FilterRule, iface string) error {
	specs, err := expandPorts(r.Ports)
	if err != nil {
		return err
	}
	for _, spec := range specs {
		args := []string{"-A", iptChainName}
		if iface != "" && iface != InterfaceAny {
			args = append(args, "-o", iface)
		}
		args = append(args, "-p", string(r.Protocol))
		if spec.isRange {
			args = append(args, "--dport", fmt.Sprintf("%d:%d", spec.lo, spec.hi))
		} else {
			args = append(args, "--dport", strconv.Itoa(spec.single))
		}
		args = append(args, "-j", "NFQUEUE", "--queue-num", strconv.Itoa(r.QueueNum))
		if err := b.run(args...); err != nil {
			return err
		}
	}
	return nil
}

func (b *iptBackend) run(args ...string) error {
	cmd := exec.Command("iptables", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("iptables %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return nil
}

// Cleanup removes the jump rule, flushes and deletes the tag chain, and
// removes the masquerade rule if present, tolerating "already absent" as
// success at every step.
func (b *iptBackend) Cleanup() error {
	if b.jumpRuleExists() {
		if err := b.run("-D", "OUTPUT", "-j", iptChainName); err != nil {
			b.log.Warn("removing jump rule failed, continuing cleanup", "error", err)
		}
	}

	if b.masqIface != "" {
		_ = b.run("-t", "nat", "-D", "POSTROUTING", "-o", b.masqIface, "-j", "MASQUERADE")
		b.masqIface = ""
	}

	if b.chainExists() {
		if err := b.run("-F", iptChainName); err != nil {
			b.log.Warn("flushing chain failed", "error", err)
		}
		if err := b.run("-X", iptChainName); err != nil {
			b.log.Warn("deleting chain failed", "error", err)
		}
	}
	return nil
}

func (b *iptBackend) chainExists() bool {
	cmd := exec.Command("iptables", "-L", iptChainName, "-n")
	return cmd.Run() == nil
}

func (b *iptBackend) jumpRuleExists() bool {
	cmd := exec.Command("iptables", "-C", "OUTPUT", "-j", iptChainName)
	return cmd.Run() == nil
}

func (b *iptBackend) Status() (Status, error) {
	if !b.chainExists() {
		return Status{Kind: LegacyIPT, State: StateNoChain, RuleCount: 0}, nil
	}
	count, err := b.countChainRules()
	if err != nil {
		return Status{}, ctlerrors.NewFirewallError(string(LegacyIPT), "status", "counting chain rules", err)
	}
	state := StateInactive
	if count > 0 {
		state = StateActive
	}
	return Status{Kind: LegacyIPT, State: state, RuleCount: count}, nil
}

func (b *iptBackend) countChainRules() (int, error) {
	cmd := exec.Command("iptables", "-L", iptChainName, "-n", "--line-numbers")
	out, err := cmd.Output()
	if err != nil {
		return 0, err
	}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	lines := 0
	for scanner.Scan() {
		lines++
	}
	// Subtract the chain header line and the column-header line.
	if lines >= 2 {
		return lines - 2, nil
	}
	return 0, nil
}
