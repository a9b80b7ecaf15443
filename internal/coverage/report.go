package coverage

import (
	"fmt"
	"io"
	"sort"
)

// WriteReport emits a human-readable block/edge summary of a baseline,
// consumed by `hoedur run-cov`.
func WriteReport(w io.Writer, baseline *Baseline) error {
	if _, err := fmt.Fprintf(w, "basic blocks: %d\n", baseline.BlockCount()); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "edges:        %d\n\n", baseline.EdgeCount()); err != nil {
		return err
	}

	counts := make([]int, 8)
	for _, bucket := range baseline.edgeBuckets {
		counts[bucket]++
	}
	labels := []string{"1", "2", "3", "4-7", "8-15", "16-31", "32-127", "128+"}
	for i, label := range labels {
		if _, err := fmt.Fprintf(w, "  bucket %-7s %d\n", label, counts[i]); err != nil {
			return err
		}
	}

	blocks := make([]uint64, 0, len(baseline.blocks))
	for addr := range baseline.blocks {
		blocks = append(blocks, addr)
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i] < blocks[j] })
	if _, err := fmt.Fprintln(w); err != nil {
		return err
	}
	for _, addr := range blocks {
		if _, err := fmt.Fprintf(w, "0x%08x\n", addr); err != nil {
			return err
		}
	}
	return nil
}
