// Package fees inserts compute-budget instructions and estimates priority fees.
package fees

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"

	"github.com/brojonat/rescuer/service/txcodec"
	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
)

const (
	// MaxComputeUnits is the per-transaction compute unit ceiling.
	MaxComputeUnits uint32 = 1_400_000
	// MinComputeUnits keeps simulated limits from landing too close to zero.
	MinComputeUnits uint32 = 1_000
	// DefaultComputeUnits is the implicit limit for a transaction without a SetComputeUnitLimit.
	DefaultComputeUnits uint32 = 200_000
	// LamportsPerSignature is the base fee charged per required signature.
	LamportsPerSignature uint64 = 5_000

	microLamportsPerLamport = uint64(1_000_000)
)

var ErrOverflow = errors.New("overflow")

// EnsureComputeBudget returns ixs with a SetComputeUnitLimit and a
// SetComputeUnitPrice instruction. Existing compute-budget instructions of
// either kind are replaced in place; missing ones are prepended, limit first.
// A zero limit or price leaves that instruction out.
func EnsureComputeBudget(ixs []txcodec.Instruction, limit uint32, microLamports uint64) ([]txcodec.Instruction, error) {
	out := make([]txcodec.Instruction, len(ixs))
	copy(out, ixs)

	var prepend []txcodec.Instruction
	if limit > 0 {
		limitIx, err := txcodec.FromSolana(computebudget.NewSetComputeUnitLimitInstruction(limit).Build())
		if err != nil {
			return nil, fmt.Errorf("failed to build compute unit limit: %w", err)
		}
		if i := indexOf(out, computebudget.Instruction_SetComputeUnitLimit); i >= 0 {
			out[i] = limitIx
		} else {
			prepend = append(prepend, limitIx)
		}
	}
	if microLamports > 0 {
		priceIx, err := txcodec.FromSolana(computebudget.NewSetComputeUnitPriceInstruction(microLamports).Build())
		if err != nil {
			return nil, fmt.Errorf("failed to build compute unit price: %w", err)
		}
		if i := indexOf(out, computebudget.Instruction_SetComputeUnitPrice); i >= 0 {
			out[i] = priceIx
		} else {
			prepend = append(prepend, priceIx)
		}
	}
	return append(prepend, out...), nil
}

// Budget is what the compute-budget instructions of a transaction request.
type Budget struct {
	Units         uint32
	MicroLamports uint64
	HasLimit      bool
	HasPrice      bool
}

// ReadBudget extracts the compute unit limit and price from ixs. Units
// defaults to DefaultComputeUnits per non-budget instruction when unset.
func ReadBudget(ixs []txcodec.Instruction) Budget {
	var b Budget
	others := 0
	for _, ix := range ixs {
		if !ix.ProgramID.Equals(solana.ComputeBudget) || len(ix.Data) == 0 {
			others++
			continue
		}
		switch ix.Data[0] {
		case computebudget.Instruction_SetComputeUnitLimit:
			if len(ix.Data) >= 5 {
				b.Units = binary.LittleEndian.Uint32(ix.Data[1:5])
				b.HasLimit = true
			}
		case computebudget.Instruction_SetComputeUnitPrice:
			if len(ix.Data) >= 9 {
				b.MicroLamports = binary.LittleEndian.Uint64(ix.Data[1:9])
				b.HasPrice = true
			}
		}
	}
	if !b.HasLimit {
		units := uint64(others) * uint64(DefaultComputeUnits)
		if units > uint64(MaxComputeUnits) {
			units = uint64(MaxComputeUnits)
		}
		b.Units = uint32(units)
	}
	return b
}

func indexOf(ixs []txcodec.Instruction, kind uint8) int {
	for i, ix := range ixs {
		if ix.ProgramID.Equals(solana.ComputeBudget) && len(ix.Data) > 0 && ix.Data[0] == kind {
			return i
		}
	}
	return -1
}

// PriorityFeeLamports is ceil(limit * microLamports / 1e6).
func PriorityFeeLamports(computeUnitLimit uint32, microLamportsPerCU uint64) (uint64, error) {
	if computeUnitLimit == 0 || microLamportsPerCU == 0 {
		return 0, nil
	}
	hi, lo := bits.Mul64(uint64(computeUnitLimit), microLamportsPerCU)
	if hi != 0 {
		return 0, ErrOverflow
	}
	q := lo / microLamportsPerLamport
	if lo%microLamportsPerLamport != 0 {
		q++
	}
	return q, nil
}

// BaseFeeLamports is the signature fee for a transaction.
func BaseFeeLamports(lamportsPerSignature, signatures uint64) (uint64, error) {
	hi, lo := bits.Mul64(lamportsPerSignature, signatures)
	if hi != 0 {
		return 0, ErrOverflow
	}
	return lo, nil
}

// TotalFeeLamports sums the base and priority fee of a transaction with the
// given number of signatures and compute budget.
func TotalFeeLamports(signatures uint64, b Budget) (uint64, error) {
	base, err := BaseFeeLamports(LamportsPerSignature, signatures)
	if err != nil {
		return 0, err
	}
	priority, err := PriorityFeeLamports(b.Units, b.MicroLamports)
	if err != nil {
		return 0, err
	}
	total, carry := bits.Add64(base, priority, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return total, nil
}

// UnitsFromSimulation pads consumed units by 20% and clamps the result to
// [MinComputeUnits, MaxComputeUnits].
func UnitsFromSimulation(consumed uint64) uint32 {
	padded := consumed + consumed/5
	if consumed%5 != 0 {
		padded++
	}
	switch {
	case padded < uint64(MinComputeUnits):
		return MinComputeUnits
	case padded > uint64(MaxComputeUnits):
		return MaxComputeUnits
	default:
		return uint32(padded)
	}
}
