package chainmanager

import (
	"sort"

	"github.com/Hamza1s34/Qbitcoin/block"
	"github.com/Hamza1s34/Qbitcoin/codec"
	"github.com/Hamza1s34/Qbitcoin/config"
	"github.com/Hamza1s34/Qbitcoin/crypto"
	"github.com/Hamza1s34/Qbitcoin/ledger"
	"github.com/Hamza1s34/Qbitcoin/txtypes"
	"github.com/pkg/errors"
)

// buildGenesisBlock constructs block 0: a single coinbase transaction
// paying recipient the height-0 subsidy, with a zero parent hash (spec.md
// 4.6, 8 scenario 1). Pre-declared balances in params.GenesisBalances are
// credited separately, by the caller, in the same commit that applies this
// block: Coinbase only has one recipient, so it cannot itself express an
// arbitrary set of pre-funded accounts.
func buildGenesisBlock(params *config.NetworkParams, recipient crypto.Address) *block.Block {
	subsidy := block.Subsidy(0, params.InitialSubsidy, params.HalvingInterval)
	coinbase := &txtypes.Transaction{
		Type:    txtypes.TypeCoinbase,
		Payload: &txtypes.Coinbase{Recipient: recipient, Amount: subsidy},
	}
	blk := &block.Block{
		Header: block.Header{
			BlockNumber: 0,
			Timestamp:   params.GenesisTimestamp,
			Bits:        params.InitialDifficultyBits,
			Reward:      subsidy,
		},
		Transactions: []*txtypes.Transaction{coinbase},
	}
	blk.Header.MerkleRoot = block.MerkleRoot(blk.Transactions)
	return blk
}

// genesisCredits resolves params.GenesisBalances into addr/amount pairs in
// address-string sorted order, so the extra balances folded into the
// genesis commit are applied in a deterministic order on every node
// regardless of Go's randomized map iteration.
func genesisCredits(params *config.NetworkParams) ([]ledger.Output, error) {
	addrStrs := make([]string, 0, len(params.GenesisBalances))
	for addrStr := range params.GenesisBalances {
		addrStrs = append(addrStrs, addrStr)
	}
	sort.Strings(addrStrs)

	out := make([]ledger.Output, 0, len(addrStrs))
	for _, addrStr := range addrStrs {
		addr, err := crypto.ParseAddress(addrStr)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing genesis address %q", addrStr)
		}
		out = append(out, ledger.Output{Recipient: addr, Amount: params.GenesisBalances[addrStr]})
	}
	return out, nil
}

func encodeBlock(blk *block.Block) []byte {
	w := codec.NewWriter()
	blk.Encode(w)
	return w.Bytes()
}

func decodeBlockBytes(data []byte) (*block.Block, error) {
	r := codec.NewReader(data)
	blk, err := block.Decode(r)
	if err != nil {
		return nil, err
	}
	if err := r.Finish(); err != nil {
		return nil, err
	}
	return blk, nil
}
