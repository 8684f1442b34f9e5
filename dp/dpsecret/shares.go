package dpsecret

import (
	"bytes"
	"fmt"

	"github.com/klauspost/reedsolomon"

	"github.com/rotor-engine/rotor/dp/dpconsensus"
	"github.com/rotor-engine/rotor/dphash"
)

// SplitInValue splits a miner's secret in-value into minerCount shares,
// any Byzantine quorum of which reconstructs the value.
//
// Threshold recovery is what lets the network recover a skipped miner's
// reveal: as long as a quorum of miners republish their decrypted
// shares, the in-value becomes public even if its owner disappears.
//
// Encrypting each share to its recipient is the caller's concern;
// this function only produces the share material.
func SplitInValue(in dphash.Hash, minerCount int) ([][]byte, error) {
	if minerCount <= 0 {
		return nil, dpconsensus.Malformedf("miner count must be positive, got %d", minerCount)
	}

	dataShards := dpconsensus.MinimumReportCount(minerCount)
	parityShards := minerCount - dataShards

	if parityShards == 0 {
		// Degenerate sets (one or two miners) have a quorum equal to
		// the full set; every share is required, so plain segmentation
		// suffices.
		return segment(in.Bytes(), dataShards), nil
	}

	rs, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, fmt.Errorf("failed to create reed-solomon encoder: %w", err)
	}

	shards, err := rs.Split(in.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to split in-value: %w", err)
	}

	// Splitting alone does not populate the parity shards.
	if err := rs.Encode(shards); err != nil {
		return nil, fmt.Errorf("failed to encode parity shards: %w", err)
	}

	return shards, nil
}

// ReconstructInValue recovers an in-value from the shares collected so
// far, keyed by share index in [0, minerCount). It fails when fewer
// than the quorum of shares are present.
func ReconstructInValue(shares map[int][]byte, minerCount int) (dphash.Hash, error) {
	if minerCount <= 0 {
		return dphash.Hash{}, dpconsensus.Malformedf("miner count must be positive, got %d", minerCount)
	}

	dataShards := dpconsensus.MinimumReportCount(minerCount)
	parityShards := minerCount - dataShards

	all := make([][]byte, minerCount)
	present := 0
	for idx, share := range shares {
		if idx < 0 || idx >= minerCount {
			return dphash.Hash{}, dpconsensus.Malformedf(
				"share index %d outside [0, %d)", idx, minerCount,
			)
		}
		all[idx] = share
		present++
	}
	if present < dataShards {
		return dphash.Hash{}, fmt.Errorf(
			"have %d shares, need at least %d to reconstruct", present, dataShards,
		)
	}

	if parityShards == 0 {
		var buf bytes.Buffer
		for _, s := range all {
			if s == nil {
				return dphash.Hash{}, fmt.Errorf(
					"have %d shares, need all %d to reconstruct", present, dataShards,
				)
			}
			buf.Write(s)
		}
		return hashFromPadded(buf.Bytes())
	}

	rs, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return dphash.Hash{}, fmt.Errorf("failed to create reed-solomon encoder: %w", err)
	}

	if err := rs.ReconstructData(all); err != nil {
		return dphash.Hash{}, fmt.Errorf("failed to reconstruct in-value: %w", err)
	}

	var buf bytes.Buffer
	if err := rs.Join(&buf, all, dphash.Size); err != nil {
		return dphash.Hash{}, fmt.Errorf("failed to join reconstructed shards: %w", err)
	}

	return hashFromPadded(buf.Bytes())
}

// segment slices data into n contiguous shards,
// the last padded with zeros, mirroring reed-solomon's layout.
func segment(data []byte, n int) [][]byte {
	per := (len(data) + n - 1) / n
	padded := make([]byte, per*n)
	copy(padded, data)

	out := make([][]byte, n)
	for i := range out {
		out[i] = padded[i*per : (i+1)*per]
	}
	return out
}

func hashFromPadded(b []byte) (dphash.Hash, error) {
	if len(b) < dphash.Size {
		return dphash.Hash{}, fmt.Errorf("reconstructed value is %d bytes, want %d", len(b), dphash.Size)
	}
	return dphash.FromBytes(b[:dphash.Size])
}
