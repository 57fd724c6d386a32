package detour

import (
	"encoding/binary"
	"fmt"
	"math"

	"golang.org/x/arch/x86/x86asm"

	"github.com/dshills/gamehook/internal/memory"
)

// maxInstLen is the longest legal x86 instruction.
const maxInstLen = 15

// stealLength decodes whole instructions from the start of code until at
// least JumpSize bytes are covered and returns their total length.
func stealLength(code []byte) (int, []x86asm.Inst, error) {
	var insts []x86asm.Inst
	n := 0
	for n < JumpSize {
		if n >= len(code) {
			return 0, nil, fmt.Errorf("%w: function shorter than %d bytes", ErrRelocation, JumpSize)
		}
		inst, err := x86asm.Decode(code[n:], 64)
		if err != nil {
			return 0, nil, fmt.Errorf("%w: decode at +%d: %v", ErrRelocation, n, err)
		}
		switch inst.Op {
		case x86asm.RET, x86asm.JMP, x86asm.INT, x86asm.UD2:
			if n+inst.Len < JumpSize {
				return 0, nil, fmt.Errorf("%w: function ends at +%d", ErrRelocation, n+inst.Len)
			}
		}
		insts = append(insts, inst)
		n += inst.Len
	}
	return n, insts, nil
}

// buildTrampoline copies the first whole instructions of code (which lives
// at from) covering JumpSize bytes, rewrites their PC-relative displacements
// for execution at to, and appends a jump back to the rest of the original
// function. It returns the trampoline bytes and the number of bytes stolen.
func buildTrampoline(code []byte, from, to uintptr) ([]byte, int, error) {
	stolen, insts, err := stealLength(code)
	if err != nil {
		return nil, 0, err
	}

	out := make([]byte, 0, stolen+JumpSize)
	off := 0
	for _, inst := range insts {
		raw := append([]byte(nil), code[off:off+inst.Len]...)
		if inst.PCRel > 0 {
			if err := relocate(raw, inst, from+uintptr(off), to+uintptr(off)); err != nil {
				return nil, 0, err
			}
		}
		out = append(out, raw...)
		off += inst.Len
	}
	out = append(out, EncodeJump(from+uintptr(stolen))...)
	return out, stolen, nil
}

// relocate rewrites the rel32 displacement of raw so the instruction, moved
// from oldPC to newPC, still addresses the same target.
func relocate(raw []byte, inst x86asm.Inst, oldPC, newPC uintptr) error {
	if inst.PCRel != 4 {
		return fmt.Errorf("%w: %d-byte relative operand in %v", ErrRelocation, inst.PCRel, inst.Op)
	}
	disp := int64(int32(binary.LittleEndian.Uint32(raw[inst.PCRelOff:])))
	target := int64(oldPC) + int64(inst.Len) + disp
	moved := target - (int64(newPC) + int64(inst.Len))
	if moved < math.MinInt32 || moved > math.MaxInt32 {
		return fmt.Errorf("%w: %v target %#x out of rel32 range from %#x", ErrRelocation, inst.Op, target, newPC)
	}
	binary.LittleEndian.PutUint32(raw[inst.PCRelOff:], uint32(int32(moved)))
	return nil
}

// RIPTarget decodes the instruction at addr and returns the address its
// RIP-relative operand refers to.
func RIPTarget(r memory.Region, addr uintptr) (uintptr, error) {
	code, err := r.Read(addr, maxInstLen)
	if err != nil {
		// The instruction may sit at the very end of a mapping.
		m, qerr := r.Query(addr)
		if qerr != nil {
			return 0, err
		}
		if code, err = r.Read(addr, int(m.End-addr)); err != nil {
			return 0, err
		}
	}
	inst, err := x86asm.Decode(code, 64)
	if err != nil {
		return 0, fmt.Errorf("decode at %#x: %w", addr, err)
	}
	if inst.PCRel != 4 {
		return 0, fmt.Errorf("instruction at %#x (%v) has no rel32 operand", addr, inst.Op)
	}
	disp := int32(binary.LittleEndian.Uint32(code[inst.PCRelOff:]))
	return uintptr(int64(addr) + int64(inst.Len) + int64(disp)), nil
}
