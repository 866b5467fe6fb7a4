package chain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var networks = map[string]uint64{
	"mainnet":  1,
	"ethereum": 1,
	"goerli":   5,
	"optimism": 10,
	"gnosis":   100,
	"xdai":     100,
	"polygon":  137,
	"matic":    137,
	"arbitrum": 42161,
	"sepolia":  11155111,
}

// ParseNetwork resolves a chain id given as a decimal number or a network
// name such as "gnosis".
func ParseNetwork(s string) (uint64, error) {
	if id, err := strconv.ParseUint(s, 10, 64); err == nil {
		if id == 0 {
			return 0, fmt.Errorf("invalid chain id %q", s)
		}
		return id, nil
	}
	if id, ok := networks[strings.ToLower(s)]; ok {
		return id, nil
	}
	names := make([]string, 0, len(networks))
	for name := range networks {
		names = append(names, name)
	}
	sort.Strings(names)
	return 0, fmt.Errorf("unknown network %q: use a chain id or one of %s", s, strings.Join(names, ", "))
}
