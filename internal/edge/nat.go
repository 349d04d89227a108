// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package edge

import (
	"fmt"
	"sync"
	"time"
)

// NAT installs the single destination-NAT rule forwarding the public
// endpoint to a backend address (spec §4.2). Implementations must be
// idempotent: installing the currently-installed target is a no-op.
type NAT interface {
	Install(addr string) error
	Current() string
}

// LoggingNAT logs the rule replacement instead of calling into a real NAT
// table (iptables/nftables/cloud LB). Not for production use.
type LoggingNAT struct {
	mu      sync.Mutex
	current string
}

func (n *LoggingNAT) Install(addr string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if addr == n.current {
		return nil
	}
	fmt.Printf("[nat-demo] %s DNAT public-endpoint -> %s (was %s)\n", time.Now().Format(time.RFC3339), addr, n.current)
	n.current = addr
	return nil
}

func (n *LoggingNAT) Current() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}
