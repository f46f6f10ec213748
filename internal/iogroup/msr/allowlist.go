package msr

import (
	"fmt"
	"sort"
	"strings"
)

// Allowlist renders the deterministic (offset, write_mask, comment) table
// the privileged service process checks every write against: one line per
// known register, ordered by offset ascending, tab-separated, with a
// write_mask of 0 for registers that carry no writable field (read
// permitted, write denied).
func (g *Group) Allowlist() string {
	regs := make([]Register, 0, len(g.registers))
	for _, reg := range g.registers {
		regs = append(regs, reg)
	}
	sort.Slice(regs, func(i, j int) bool { return regs[i].Offset < regs[j].Offset })

	var b strings.Builder
	b.WriteString("# MSR Allowlist\n")
	for _, reg := range regs {
		var mask uint64
		for _, f := range reg.Fields {
			if f.Writable {
				mask |= f.mask()
			}
		}
		fmt.Fprintf(&b, "0x%016x\t0x%016x\t# %s\n", reg.Offset, mask, reg.Name)
	}
	return b.String()
}
