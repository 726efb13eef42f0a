// Copyright (c) 2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package p2p

import (
	"net"
)

// LookupFunc resolves a DNS seed hostname to a set of addresses, the same
// shape as the teacher's connmgr.LookupFunc so net.LookupIP can be passed
// directly in production and a fake substituted in tests.
type LookupFunc func(host string) ([]net.IP, error)

// SeedFromDNS resolves each of seeds (a network's configured DNS seed
// hostnames) and returns "ip:port" candidates for the bootstrap dialer,
// grounded on the teacher's connmgr.SeedFromDNS minus the subnetwork/service
// filtering this chain has no equivalent of.
func SeedFromDNS(seeds []string, defaultPort string, lookup LookupFunc) []string {
	var out []string
	for _, seed := range seeds {
		ips, err := lookup(seed)
		if err != nil {
			log.Infof("dns seed %s: lookup failed: %v", seed, err)
			continue
		}
		log.Infof("dns seed %s: %d addresses", seed, len(ips))
		for _, ip := range ips {
			out = append(out, net.JoinHostPort(ip.String(), defaultPort))
		}
	}
	return out
}
