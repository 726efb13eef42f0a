package block

// Subsidy computes the block reward at blockNumber, halving every
// halvingInterval blocks and clamping to zero once it would underflow past
// 64 shifts (spec.md 4.6: "subsidy(block_number) = initial_subsidy >>
// (block_number / halving_interval), clamped to 0").
func Subsidy(blockNumber, initialSubsidy, halvingInterval uint64) uint64 {
	if halvingInterval == 0 {
		return initialSubsidy
	}
	halvings := blockNumber / halvingInterval
	if halvings >= 64 {
		return 0
	}
	return initialSubsidy >> halvings
}
