// Package fixtures embeds the sample organization used by tests and by
// `evmcl --offline`.
package fixtures

import (
	"bytes"
	_ "embed"

	"github.com/ethereum/go-ethereum/common"

	"github.com/opal-lang/evmcl/runtime/metadata"
)

//go:embed dao.yaml
var daoYAML []byte

// Organization is the name of the embedded organization.
const Organization = "dao.aragonid.eth"

// Addresses of the embedded organization's apps.
var (
	Kernel           = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	ACL              = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	Voting           = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	Vault            = common.HexToAddress("0x00000000000000000000000000000000000000a3")
	Agent            = common.HexToAddress("0x00000000000000000000000000000000000000a4")
	TokenManager     = common.HexToAddress("0x00000000000000000000000000000000000000a5")
	Finance          = common.HexToAddress("0x00000000000000000000000000000000000000a6")
	DisputableVoting = common.HexToAddress("0x00000000000000000000000000000000000000a7")

	DAI = common.HexToAddress("0x00000000000000000000000000000000000000d1")
)

// YAML returns a copy of the raw fixture file.
func YAML() []byte {
	return bytes.Clone(daoYAML)
}

// Fetcher loads the embedded fixtures.
func Fetcher() (*metadata.Static, error) {
	return metadata.LoadFixtures(bytes.NewReader(daoYAML))
}
