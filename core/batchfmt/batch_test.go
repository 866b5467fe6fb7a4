package batchfmt_test

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opal-lang/evmcl/core/action"
	"github.com/opal-lang/evmcl/core/batchfmt"
)

var (
	tokenAddr  = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	votingAddr = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

func sampleBatch() *batchfmt.Batch {
	b := batchfmt.New("my-dao.aragonid.eth", []action.Action{
		action.New(tokenAddr, []byte{0x09, 0x5e, 0xa7, 0xb3}, nil),
		action.New(votingAddr, []byte{0xd9, 0x48, 0xd4, 0x68}, big.NewInt(1000)),
	})
	b.ChainID = 100
	b.Path = []string{"voting"}
	b.Label(votingAddr, "voting:0")
	b.Label(tokenAddr, "fee-token")
	return b
}

func TestWriteReadRoundTrip(t *testing.T) {
	original := sampleBatch()

	var buf bytes.Buffer
	digest, err := batchfmt.Write(&buf, original)
	require.NoError(t, err)

	decoded, readDigest, err := batchfmt.Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, digest, readDigest)

	if diff := cmp.Diff(original, decoded); diff != "" {
		t.Errorf("batch mismatch (-want +got):\n%s", diff)
	}

	actions := decoded.Actions()
	require.Len(t, actions, 2)
	assert.False(t, actions[0].HasValue())
	assert.Equal(t, int64(1000), actions[1].Value().Int64())
}

func TestDigestIsDeterministic(t *testing.T) {
	// GIVEN two batches with labels inserted in different orders
	a := sampleBatch()
	b := batchfmt.New("my-dao.aragonid.eth", a.Actions())
	b.ChainID = 100
	b.Path = []string{"voting"}
	b.Label(tokenAddr, "fee-token")
	b.Label(votingAddr, "voting:0")

	// WHEN digesting both
	da, err := batchfmt.Digest(a)
	require.NoError(t, err)
	db, err := batchfmt.Digest(b)
	require.NoError(t, err)

	// THEN map ordering does not leak into the digest
	assert.Equal(t, da, db)

	ok, err := batchfmt.Verify(b, da)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDigestChangesWithContent(t *testing.T) {
	a := sampleBatch()
	b := sampleBatch()
	b.Context = "vote #1"

	da, err := batchfmt.Digest(a)
	require.NoError(t, err)
	ok, err := batchfmt.Verify(b, da)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReadRejectsForeignInput(t *testing.T) {
	_, _, err := batchfmt.Read(bytes.NewReader([]byte("PLAN\x01\x00\x00\x00\x00\x00")))
	assert.ErrorContains(t, err, "invalid magic")

	_, _, err = batchfmt.Read(bytes.NewReader([]byte("EVMB\x02\x00\x00\x00\x00\x00")))
	assert.ErrorContains(t, err, "unsupported version")

	_, _, err = batchfmt.Read(bytes.NewReader([]byte("EVMB\x01\x00\x05\x00\x00\x00ab")))
	assert.ErrorContains(t, err, "read body")

	_, _, err = batchfmt.Read(bytes.NewReader([]byte("EV")))
	assert.ErrorContains(t, err, "read preamble")
}

func TestLabels(t *testing.T) {
	b := sampleBatch()
	name, ok := b.LabelFor(votingAddr)
	assert.True(t, ok)
	assert.Equal(t, "voting:0", name)
	assert.Equal(t, []string{votingAddr.Hex(), tokenAddr.Hex()}, b.SortedLabels())
}
