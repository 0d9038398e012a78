// Package discovery finds candidate peer addresses to connect to: a
// minimal DNS-seed Resolver, and an optional regional NodePool adapted
// from the teacher's bitnodes.io/ip-api.com discovery routine.
package discovery

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/bitlab-net/bitlab/internal/logger"
)

// DefaultSeeds mirrors the well-known Bitcoin mainnet DNS seeds.
var DefaultSeeds = []string{
	"seed.bitcoin.sipa.be",
	"dnsseed.bluematt.me",
	"seed.bitcoinstats.com",
	"seed.bitnodes.io",
}

// Resolver looks up candidate peer addresses by DNS seed, the abstract
// collaborator spec.md's discovery section describes.
type Resolver struct {
	Seeds      []string
	Port       uint16
	LookupHost func(ctx context.Context, host string) ([]string, error)
}

// NewResolver builds a Resolver over DefaultSeeds using net.DefaultResolver.
func NewResolver(port uint16) *Resolver {
	return &Resolver{
		Seeds:      DefaultSeeds,
		Port:       port,
		LookupHost: net.DefaultResolver.LookupHost,
	}
}

// Lookup queries every configured seed and returns the union of resolved
// "ip:port" addresses. A seed that fails to resolve is skipped, not fatal.
func (r *Resolver) Lookup(ctx context.Context) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, seed := range r.Seeds {
		ips, err := r.LookupHost(ctx, seed)
		if err != nil {
			logger.Log.Warn().Err(err).Str("seed", seed).Msg("dns seed lookup failed")
			continue
		}
		for _, ip := range ips {
			addr := net.JoinHostPort(ip, strconv.Itoa(int(r.Port)))
			if _, dup := seen[addr]; dup {
				continue
			}
			seen[addr] = struct{}{}
			out = append(out, addr)
		}
	}
	return out
}

// StartPeriodicLookup refreshes candidates into onResult on a fixed
// interval until ctx is cancelled, the discovery-layer analogue of the
// teacher's StartDiscoveryRoutine.
func (r *Resolver) StartPeriodicLookup(ctx context.Context, interval time.Duration, onResult func([]string)) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		onResult(r.Lookup(ctx))
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				onResult(r.Lookup(ctx))
			}
		}
	}()
}
