package detour

import "encoding/binary"

// JumpSize is the length of the absolute indirect jump written over a
// hooked function's entry:
//
//	FF 25 00 00 00 00    jmp qword ptr [rip+0]
//	xx xx xx xx xx xx xx xx  destination
const JumpSize = 14

// EncodeJump returns an absolute jump to dest.
func EncodeJump(dest uintptr) []byte {
	b := make([]byte, JumpSize)
	b[0] = 0xFF
	b[1] = 0x25
	binary.LittleEndian.PutUint64(b[6:], uint64(dest))
	return b
}

// DecodeJump returns the destination of an absolute jump produced by
// EncodeJump, or ok == false when b does not start with one.
func DecodeJump(b []byte) (dest uintptr, ok bool) {
	if len(b) < JumpSize || b[0] != 0xFF || b[1] != 0x25 {
		return 0, false
	}
	if binary.LittleEndian.Uint32(b[2:6]) != 0 {
		return 0, false
	}
	return uintptr(binary.LittleEndian.Uint64(b[6:])), true
}
