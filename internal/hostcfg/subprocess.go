package hostcfg

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// CommandRunner executes a host command and returns its combined stdout,
// abstracted so tests can substitute a fake without touching the real
// shell, mirroring the CommandExecutor split used for policy-routing
// tooling elsewhere in the pack.
type CommandRunner interface {
	RunCommand(ctx context.Context, name string, args ...string) (string, error)
}

// execCommandRunner shells out via os/exec, argv-only — arguments are
// never concatenated into a shell string.
type execCommandRunner struct{}

func (execCommandRunner) RunCommand(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), err
	}
	return string(out), nil
}

// DefaultCommandRunner is the production CommandRunner backed by the
// real host shell.
var DefaultCommandRunner CommandRunner = execCommandRunner{}

// SubprocessBackend implements Configurator by shelling out to `ip` and
// `nft`. All operations are idempotent: failures that indicate the
// desired state already holds (e.g. "File exists" from `ip route add`)
// are treated as success.
type SubprocessBackend struct {
	run CommandRunner
}

// NewSubprocessBackend constructs a backend using the real host shell.
func NewSubprocessBackend() *SubprocessBackend {
	return &SubprocessBackend{run: DefaultCommandRunner}
}

// NewSubprocessBackendWithRunner constructs a backend with an injected
// CommandRunner, for tests.
func NewSubprocessBackendWithRunner(r CommandRunner) *SubprocessBackend {
	return &SubprocessBackend{run: r}
}

func (b *SubprocessBackend) ip(ctx context.Context, op string, args ...string) error {
	out, err := b.run.RunCommand(ctx, "ip", args...)
	if err == nil {
		return nil
	}
	if idempotentIPError(out) {
		return nil
	}
	return classifyError(op, out, err)
}

// idempotentIPError recognizes `ip` failures that mean "already in the
// requested state", which a caller re-running a convergent operation
// should treat as success.
func idempotentIPError(stderr string) bool {
	lower := strings.ToLower(stderr)
	return strings.Contains(lower, "file exists") ||
		strings.Contains(lower, "no such process") ||
		strings.Contains(lower, "cannot find device")
}

func classifyError(op, stderr string, err error) error {
	lower := strings.ToLower(stderr)
	switch {
	case strings.Contains(lower, "cannot find device"), strings.Contains(lower, "no such device"):
		return fmt.Errorf("%s: %w", op, ErrNoSuchInterface)
	case strings.Contains(lower, "operation not permitted"), strings.Contains(lower, "permission denied"):
		return fmt.Errorf("%s: %w", op, ErrPermission)
	default:
		return &HostError{Op: op, Stderr: strings.TrimSpace(stderr), Err: err}
	}
}

func (b *SubprocessBackend) EnsureInterfaceUp(ctx context.Context, iface string) error {
	return b.ip(ctx, "ensure_interface_up", "link", "set", iface, "up")
}

func (b *SubprocessBackend) EnsureInterfaceDown(ctx context.Context, iface string) error {
	return b.ip(ctx, "ensure_interface_down", "link", "set", iface, "down")
}

func (b *SubprocessBackend) AssignAddr(ctx context.Context, iface, cidr string) error {
	return b.ip(ctx, "assign_addr", "addr", "add", cidr, "dev", iface)
}

func (b *SubprocessBackend) FlushAddrs(ctx context.Context, iface string) error {
	return b.ip(ctx, "flush_addrs", "addr", "flush", "dev", iface)
}

func (b *SubprocessBackend) SetDefaultVia(ctx context.Context, table int, gateway string) error {
	return b.ip(ctx, "set_default_via", "route", "replace", "default", "via", gateway, "table", strconv.Itoa(table))
}

func (b *SubprocessBackend) AddRoute(ctx context.Context, table int, prefix, via, dev string) error {
	args := []string{"route", "replace", prefix, "table", strconv.Itoa(table)}
	if via != "" {
		args = append(args, "via", via)
	}
	if dev != "" {
		args = append(args, "dev", dev)
	}
	return b.ip(ctx, "add_route", args...)
}

func (b *SubprocessBackend) DelRoute(ctx context.Context, table int, prefix string) error {
	return b.ip(ctx, "del_route", "route", "del", prefix, "table", strconv.Itoa(table))
}

func (b *SubprocessBackend) AddFwmarkRule(ctx context.Context, mark uint16, table int, priority int) error {
	return b.ip(ctx, "add_fwmark_rule",
		"rule", "add", "fwmark", fmt.Sprintf("0x%x", mark), "table", strconv.Itoa(table), "priority", strconv.Itoa(priority))
}

func (b *SubprocessBackend) DelFwmarkRule(ctx context.Context, mark uint16) error {
	return b.ip(ctx, "del_fwmark_rule", "rule", "del", "fwmark", fmt.Sprintf("0x%x", mark))
}

func (b *SubprocessBackend) ClassifyMarkSrc(ctx context.Context, ip string, mark uint16) error {
	_, err := b.run.RunCommand(ctx, "nft", "add", "rule", "inet", "magic_mark", "MAGIC_MARK",
		"ip", "saddr", ip, "ct", "mark", "set", fmt.Sprintf("0x%x", mark))
	if err != nil {
		return classifyError("classify_mark_src", err.Error(), err)
	}
	return nil
}

func (b *SubprocessBackend) ClassifyMarkDst(ctx context.Context, ip string, mark uint16) error {
	_, err := b.run.RunCommand(ctx, "nft", "add", "rule", "inet", "magic_mark", "MAGIC_MARK",
		"ip", "daddr", ip, "ct", "mark", "set", fmt.Sprintf("0x%x", mark))
	if err != nil {
		return classifyError("classify_mark_dst", err.Error(), err)
	}
	return nil
}

func (b *SubprocessBackend) RestoreConnMarkOnIngress(ctx context.Context) error {
	_, err := b.run.RunCommand(ctx, "nft", "add", "rule", "inet", "magic_mark", "PREROUTING",
		"ct", "mark", "!=", "0", "meta", "mark", "set", "ct", "mark")
	if err != nil {
		return classifyError("restore_conn_mark_on_ingress", err.Error(), err)
	}
	return nil
}

func (b *SubprocessBackend) RemoveClassifiersFor(ctx context.Context, ip string) error {
	return b.removeMatchingRules(ctx, "remove_classifiers_for", func(line string) bool {
		return strings.Contains(line, ip)
	})
}

// RemoveClassifierMark removes only the rule classifying ip to mark,
// leaving any other mark's rule for the same ip untouched — the
// precision switch_session needs to add the new link's classifier
// before removing the old one without a window where neither, or both,
// match.
func (b *SubprocessBackend) RemoveClassifierMark(ctx context.Context, ip string, mark uint16) error {
	markLiteral := fmt.Sprintf("0x%x", mark)
	return b.removeMatchingRules(ctx, "remove_classifier_mark", func(line string) bool {
		return strings.Contains(line, ip) && strings.Contains(line, markLiteral)
	})
}

func (b *SubprocessBackend) removeMatchingRules(ctx context.Context, op string, match func(line string) bool) error {
	out, err := b.run.RunCommand(ctx, "nft", "-a", "list", "chain", "inet", "magic_mark", "MAGIC_MARK")
	if err != nil {
		return classifyError(op, out, err)
	}
	for _, line := range strings.Split(out, "\n") {
		if !match(line) {
			continue
		}
		handle := extractHandle(line)
		if handle == "" {
			continue
		}
		if _, err := b.run.RunCommand(ctx, "nft", "delete", "rule", "inet", "magic_mark", "MAGIC_MARK", "handle", handle); err != nil {
			return classifyError(op, err.Error(), err)
		}
	}
	return nil
}

func extractHandle(line string) string {
	idx := strings.Index(line, "# handle ")
	if idx < 0 {
		return ""
	}
	return strings.TrimSpace(line[idx+len("# handle "):])
}

func (b *SubprocessBackend) CreateBlackholeTable(ctx context.Context, tableID int) error {
	return b.ip(ctx, "create_blackhole_table", "route", "replace", "blackhole", "default", "table", strconv.Itoa(tableID))
}

var errUnimplemented = errors.New("hostcfg: operation not implemented by this backend")
