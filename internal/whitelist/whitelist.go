// Package whitelist holds the set of IPs exempt from anonymizer rejection.
package whitelist

import (
	"bufio"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strings"
	"sync/atomic"

	"github.com/evyataryagoni/geoprobe/internal/logger"
	"github.com/go-playground/validator/v10"
)

// ipSet is an immutable set of canonical addresses
type ipSet map[netip.Addr]struct{}

// Whitelist is a process-wide, reloadable set of IP literals
// Reads are lock-free; Reload swaps the whole set at once
type Whitelist struct {
	path     string
	set      atomic.Pointer[ipSet]
	validate *validator.Validate
	logger   *logger.Logger
}

// New creates an empty whitelist backed by the file at path
// Call Reload to populate it
func New(path string, log *logger.Logger) *Whitelist {
	w := &Whitelist{
		path:     path,
		validate: validator.New(),
		logger:   logger.OrNop(log).WithComponent("whitelist"),
	}
	w.set.Store(&ipSet{})
	return w
}

// NewStatic creates a whitelist from a fixed list of IPs (no backing file)
// Invalid entries are skipped
func NewStatic(ips ...string) *Whitelist {
	w := New("", nil)
	set := ipSet{}
	for _, ip := range ips {
		if addr, ok := canonical(ip); ok {
			set[addr] = struct{}{}
		}
	}
	w.set.Store(&set)
	return w
}

// Contains reports whether ip is whitelisted
// A nil whitelist contains nothing
func (w *Whitelist) Contains(ip string) bool {
	if w == nil {
		return false
	}
	addr, ok := canonical(ip)
	if !ok {
		return false
	}
	_, found := (*w.set.Load())[addr]
	return found
}

// Len returns the number of whitelisted IPs
func (w *Whitelist) Len() int {
	if w == nil {
		return 0
	}
	return len(*w.set.Load())
}

// Reload re-reads the backing file and atomically replaces the set
// On error the previous set stays in place
func (w *Whitelist) Reload() error {
	if w.path == "" {
		return fmt.Errorf("whitelist has no backing file")
	}

	file, err := os.Open(w.path)
	if err != nil {
		return fmt.Errorf("failed to open whitelist file: %w", err)
	}
	defer file.Close()

	set, err := w.parse(file)
	if err != nil {
		return fmt.Errorf("failed to read whitelist file: %w", err)
	}

	w.set.Store(&set)
	w.logger.Info().
		Str("path", w.path).
		Int("entries", len(set)).
		Msg("Whitelist loaded")
	return nil
}

// parse reads one IP literal per line
// Blank lines and "#" comments are ignored, invalid lines are skipped
func (w *Whitelist) parse(r io.Reader) (ipSet, error) {
	set := ipSet{}
	scanner := bufio.NewScanner(r)

	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if err := w.validate.Var(line, "ip"); err != nil {
			w.logger.Warn().
				Int("line", lineNumber).
				Str("value", line).
				Msg("Skipping invalid whitelist entry")
			continue
		}

		if addr, ok := canonical(line); ok {
			set[addr] = struct{}{}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return set, nil
}

// canonical parses ip so that equivalent spellings compare equal
// (e.g. "::ffff:1.2.3.4" and "1.2.3.4")
func canonical(ip string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap().WithZone(""), true
}
