package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/evyataryagoni/geoprobe/internal/models"
)

// locator is the lookup capability the tool needs
type locator interface {
	Lookup(ctx context.Context, ip string) (*models.LocationInfo, error)
}

// lookupLine is one line of output
type lookupLine struct {
	IP       string                 `json:"ip"`
	Location *models.PublicLocation `json:"location,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// readIPs reads one IP per line, skipping blanks and # comments
func readIPs(r io.Reader) ([]string, error) {
	var ips []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ips = append(ips, line)
	}
	return ips, scanner.Err()
}

// lookupAll resolves ips with at most concurrency lookups in flight
// Lines are written in input order. Returns the number of failed lookups.
func lookupAll(ctx context.Context, loc locator, ips []string, concurrency int, out io.Writer) (int, error) {
	if concurrency < 1 {
		concurrency = 1
	}

	lines := make([]lookupLine, len(ips))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, ip := range ips {
		i, ip := i, ip
		g.Go(func() error {
			line := lookupLine{IP: ip}
			location, err := loc.Lookup(gctx, ip)
			if err != nil {
				line.Error = err.Error()
			} else {
				public := location.Public()
				line.Location = &public
			}
			lines[i] = line
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	failed := 0
	encoder := json.NewEncoder(out)
	for _, line := range lines {
		if line.Error != "" {
			failed++
		}
		if err := encoder.Encode(line); err != nil {
			return failed, err
		}
	}
	return failed, nil
}
