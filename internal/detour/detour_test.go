package detour

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/dshills/gamehook/internal/memory"
)

const (
	codeBase    = 0x400000
	dataBase    = 0x600000
	replacement = 0x7f0000001000
)

// prologue is a small function whose first five instructions cover
// exactly JumpSize bytes:
//
//	push rbp; mov rbp,rsp; sub rsp,0x10; mov [rbp-4],edi; mov eax,[rbp-4]
//	add eax,eax; leave; ret
var prologue = []byte{
	0x55,
	0x48, 0x89, 0xE5,
	0x48, 0x83, 0xEC, 0x10,
	0x89, 0x7D, 0xFC,
	0x8B, 0x45, 0xFC,
	0x01, 0xC0,
	0xC9,
	0xC3,
}

func newImage(t *testing.T, functions ...[]byte) (*memory.Buffer, []uintptr) {
	t.Helper()
	code := bytes.Repeat([]byte{0xCC}, memory.PageSize)
	var addrs []uintptr
	off := 0
	for _, fn := range functions {
		copy(code[off:], fn)
		addrs = append(addrs, codeBase+uintptr(off))
		off += (len(fn) + 15) &^ 15
	}
	buf := memory.NewBuffer()
	if err := buf.Map(codeBase, code, memory.ProtRX, "host"); err != nil {
		t.Fatal(err)
	}
	if err := buf.Map(dataBase, make([]byte, memory.PageSize), memory.ProtRW, "host"); err != nil {
		t.Fatal(err)
	}
	return buf, addrs
}

func TestJumpRoundTrip(t *testing.T) {
	b := EncodeJump(0x1122334455667788)
	if len(b) != JumpSize {
		t.Fatalf("len = %d", len(b))
	}
	dest, ok := DecodeJump(b)
	if !ok || dest != 0x1122334455667788 {
		t.Errorf("DecodeJump = %#x, %v", dest, ok)
	}
	if _, ok := DecodeJump(prologue); ok {
		t.Error("prologue decoded as a jump")
	}
}

func TestInstall_RedirectsAndBuildsTrampoline(t *testing.T) {
	buf, addrs := newImage(t, prologue)
	target := addrs[0]
	e := NewEngine(buf, nil)

	h, err := e.Install("double", target, replacement)
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if !h.Enabled() {
		t.Error("hook not enabled after install")
	}
	if dest, _ := Destination(buf, target); dest != replacement {
		t.Errorf("target lands at %#x, expected %#x", dest, uintptr(replacement))
	}
	if h.Stolen() != JumpSize {
		t.Errorf("stolen = %d, expected %d", h.Stolen(), JumpSize)
	}

	tramp, err := buf.Read(h.Trampoline(), JumpSize+JumpSize)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(tramp[:JumpSize], prologue[:JumpSize]) {
		t.Errorf("trampoline body = % x", tramp[:JumpSize])
	}
	back, ok := DecodeJump(tramp[JumpSize:])
	if !ok || back != target+JumpSize {
		t.Errorf("trampoline returns to %#x, expected %#x", back, target+JumpSize)
	}

	rest, _ := buf.Read(target+JumpSize, len(prologue)-JumpSize)
	if !bytes.Equal(rest, prologue[JumpSize:]) {
		t.Error("bytes past the entry jump were modified")
	}
	if m, _ := buf.Query(target); m.Prot != memory.ProtRX {
		t.Errorf("code protection = %s after install", m.Prot)
	}
}

func TestInstall_AlreadyHooked(t *testing.T) {
	buf, addrs := newImage(t, prologue)
	e := NewEngine(buf, nil)
	if _, err := e.Install("f", addrs[0], replacement); err != nil {
		t.Fatal(err)
	}
	_, err := e.Install("f", addrs[0], replacement+0x10)
	if !errors.Is(err, ErrAlreadyHooked) {
		t.Fatalf("expected ErrAlreadyHooked, got %v", err)
	}
	var he *HookError
	if !errors.As(err, &he) || he.Addr != addrs[0] {
		t.Errorf("expected HookError for %#x, got %v", addrs[0], err)
	}
	if dest, _ := Destination(buf, addrs[0]); dest != replacement {
		t.Error("second install changed the live hook")
	}
}

func TestInstall_InvalidAddress(t *testing.T) {
	buf, addrs := newImage(t, prologue)
	e := NewEngine(buf, nil)

	tests := []struct {
		name        string
		target      uintptr
		replacement uintptr
	}{
		{"unmapped", 0x900000, replacement},
		{"not executable", dataBase, replacement},
		{"null target", 0, replacement},
		{"null replacement", addrs[0], 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.Install(tt.name, tt.target, tt.replacement); !errors.Is(err, ErrInvalidAddress) {
				t.Errorf("expected ErrInvalidAddress, got %v", err)
			}
		})
	}
	if e.Len() != 0 {
		t.Errorf("Len = %d after failed installs", e.Len())
	}
}

func TestDisableEnable(t *testing.T) {
	buf, addrs := newImage(t, prologue)
	target := addrs[0]
	e := NewEngine(buf, nil)
	h, err := e.Install("f", target, replacement)
	if err != nil {
		t.Fatal(err)
	}

	if err := h.Disable(); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if dest, _ := Destination(buf, target); dest != target {
		t.Errorf("disabled hook still lands at %#x", dest)
	}
	got, _ := buf.Read(target, len(prologue))
	if !bytes.Equal(got, prologue) {
		t.Error("disable did not restore the original bytes")
	}
	if _, ok := e.Lookup(target); !ok {
		t.Error("disabled hook was unregistered")
	}

	if err := h.Enable(); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if dest, _ := Destination(buf, target); dest != replacement {
		t.Errorf("re-enabled hook lands at %#x", dest)
	}
}

func TestClose_RestoresExactly(t *testing.T) {
	buf, addrs := newImage(t, prologue)
	target := addrs[0]
	e := NewEngine(buf, nil)
	h, err := e.Install("f", target, replacement)
	if err != nil {
		t.Fatal(err)
	}
	tramp := h.Trampoline()

	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	got, _ := buf.Read(target, len(prologue))
	if !bytes.Equal(got, prologue) {
		t.Errorf("bytes after close = % x", got)
	}
	if e.Len() != 0 {
		t.Error("closed hook still registered")
	}
	if _, err := buf.Read(tramp, 1); err == nil {
		t.Error("trampoline still mapped after close")
	}
	if err := h.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if err := h.Enable(); !errors.Is(err, ErrClosed) {
		t.Errorf("Enable after close: %v", err)
	}

	if _, err := e.Install("f", target, replacement); err != nil {
		t.Errorf("reinstall after close: %v", err)
	}
}

func TestRelocatesRIPRelative(t *testing.T) {
	fn := []byte{
		0x48, 0x8B, 0x05, 0x10, 0x00, 0x00, 0x00, // mov rax,[rip+0x10]
		0x48, 0x8D, 0x0D, 0x20, 0x00, 0x00, 0x00, // lea rcx,[rip+0x20]
		0xC3,
	}
	buf, addrs := newImage(t, fn)
	target := addrs[0]
	e := NewEngine(buf, nil)
	h, err := e.Install("rip", target, replacement)
	if err != nil {
		t.Fatalf("Install: %v", err)
	}

	tramp, _ := buf.Read(h.Trampoline(), 14)
	checks := []struct {
		off  int
		want uintptr
	}{
		{0, target + 7 + 0x10},
		{7, target + 14 + 0x20},
	}
	for _, c := range checks {
		disp := int32(binary.LittleEndian.Uint32(tramp[c.off+3:]))
		landed := uintptr(int64(h.Trampoline()) + int64(c.off) + 7 + int64(disp))
		if landed != c.want {
			t.Errorf("instruction at +%d addresses %#x, expected %#x", c.off, landed, c.want)
		}
	}
	if !bytes.Equal(tramp[0:3], fn[0:3]) || !bytes.Equal(tramp[7:10], fn[7:10]) {
		t.Error("opcode bytes changed during relocation")
	}
}

func TestInstall_Unrelocatable(t *testing.T) {
	tests := []struct {
		name string
		code []byte
	}{
		{"ret first", []byte{0xC3}},
		{"short branch", []byte{
			0x85, 0xC0, // test eax,eax
			0x74, 0x05, // je +5
			0x48, 0x83, 0xEC, 0x10,
			0x89, 0x7D, 0xFC,
			0x8B, 0x45, 0xFC,
			0xC3,
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf, addrs := newImage(t, tt.code)
			e := NewEngine(buf, nil)
			if _, err := e.Install(tt.name, addrs[0], replacement); !errors.Is(err, ErrRelocation) {
				t.Fatalf("expected ErrRelocation, got %v", err)
			}
			got, _ := buf.Read(addrs[0], len(tt.code))
			if !bytes.Equal(got, tt.code) {
				t.Error("failed install modified the target")
			}
			if len(buf.Segments()) != 2 {
				t.Error("trampoline leaked after failed install")
			}
		})
	}
}

// failingWrites lets writes through until broken is set.
type failingWrites struct {
	*memory.Buffer
	broken bool
}

func (f *failingWrites) Write(addr uintptr, data []byte) error {
	if f.broken {
		return fmt.Errorf("write %#x: %w", addr, memory.ErrNotWritable)
	}
	return f.Buffer.Write(addr, data)
}

func TestClose_RestoreFailureIsReported(t *testing.T) {
	buf, addrs := newImage(t, prologue)
	region := &failingWrites{Buffer: buf}
	e := NewEngine(region, nil)
	h, err := e.Install("f", addrs[0], replacement)
	if err != nil {
		t.Fatal(err)
	}

	region.broken = true
	err = e.Close()
	var he *HookError
	if !errors.As(err, &he) || he.Op != "remove" {
		t.Fatalf("expected remove HookError, got %v", err)
	}
	if !h.Enabled() || e.Len() != 1 {
		t.Error("hook forgotten although its bytes were not restored")
	}

	region.broken = false
	if err := e.Close(); err != nil {
		t.Errorf("Close after recovery: %v", err)
	}
}

func TestEngine_DisableAllAndClose(t *testing.T) {
	buf, addrs := newImage(t, prologue, prologue, prologue)
	e := NewEngine(buf, nil)
	for i, a := range addrs {
		if _, err := e.Install(fmt.Sprintf("f%d", i), a, replacement+uintptr(i)); err != nil {
			t.Fatal(err)
		}
	}
	if err := e.DisableAll(); err != nil {
		t.Fatal(err)
	}
	for _, h := range e.Handles() {
		if h.Enabled() {
			t.Errorf("%s still enabled", h.Name())
		}
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	for _, a := range addrs {
		got, _ := buf.Read(a, len(prologue))
		if !bytes.Equal(got, prologue) {
			t.Errorf("function at %#x not restored", a)
		}
	}
}

func TestInstall_Concurrent(t *testing.T) {
	fns := make([][]byte, 8)
	for i := range fns {
		fns[i] = prologue
	}
	buf, addrs := newImage(t, fns...)
	e := NewEngine(buf, nil)

	var wg sync.WaitGroup
	errs := make(chan error, len(addrs)*2)
	for _, a := range addrs {
		for range 2 {
			wg.Add(1)
			go func(a uintptr) {
				defer wg.Done()
				_, err := e.Install("f", a, replacement)
				errs <- err
			}(a)
		}
	}
	wg.Wait()
	close(errs)

	var ok, dup int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadyHooked):
			dup++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != len(addrs) || dup != len(addrs) {
		t.Errorf("installs = %d, duplicates = %d", ok, dup)
	}
}

type recordingCaller struct {
	calls []uintptr
}

func (r *recordingCaller) Call(fn uintptr, args ...uintptr) uintptr {
	r.calls = append(r.calls, fn)
	return uintptr(len(args))
}

func (r *recordingCaller) Callback(any) uintptr { return replacement }

func TestOriginalCallsTrampoline(t *testing.T) {
	buf, addrs := newImage(t, prologue)
	e := NewEngine(buf, nil)
	c := &recordingCaller{}
	h, err := e.Install("f", addrs[0], c.Callback(nil))
	if err != nil {
		t.Fatal(err)
	}
	if got := Original(c, h, 1, 2); got != 2 {
		t.Errorf("result = %d", got)
	}
	if len(c.calls) != 1 || c.calls[0] != h.Trampoline() {
		t.Errorf("calls = %#x, expected trampoline %#x", c.calls, h.Trampoline())
	}
}

func TestRIPTarget(t *testing.T) {
	fn := []byte{
		0x48, 0x8B, 0x05, 0x00, 0x10, 0x00, 0x00, // mov rax,[rip+0x1000]
		0x48, 0x8D, 0x3D, 0xF0, 0xFF, 0xFF, 0xFF, // lea rdi,[rip-0x10]
		0x55,
		0xC3,
	}
	buf, addrs := newImage(t, fn)
	base := addrs[0]

	got, err := RIPTarget(buf, base)
	if err != nil || got != base+7+0x1000 {
		t.Errorf("mov target = %#x, %v", got, err)
	}
	got, err = RIPTarget(buf, base+7)
	if err != nil || got != base+14-0x10 {
		t.Errorf("lea target = %#x, %v", got, err)
	}
	if _, err := RIPTarget(buf, base+14); err == nil {
		t.Error("push has no RIP operand")
	}
}

func TestInstall_RejectsOverlap(t *testing.T) {
	buf, addrs := newImage(t, prologue)
	e := NewEngine(buf, nil)
	if _, err := e.Install("f", addrs[0], replacement); err != nil {
		t.Fatal(err)
	}

	for _, off := range []uintptr{1, JumpSize - 1} {
		_, err := e.Install("inner", addrs[0]+off, replacement+0x10)
		if !errors.Is(err, ErrAlreadyHooked) {
			t.Errorf("target +%d: expected ErrAlreadyHooked, got %v", off, err)
		}
	}
	if e.Len() != 1 {
		t.Errorf("Len = %d", e.Len())
	}
	if dest, _ := Destination(buf, addrs[0]); dest != replacement {
		t.Errorf("live hook lands at %#x", dest)
	}
}

func TestInstall_BeforeExistingHookOverlaps(t *testing.T) {
	code := append(bytes.Repeat([]byte{0x90}, 8), prologue...)
	buf, addrs := newImage(t, code)
	e := NewEngine(buf, nil)
	if _, err := e.Install("f", addrs[0]+8, replacement); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Install("g", addrs[0], replacement+0x10); !errors.Is(err, ErrAlreadyHooked) {
		t.Errorf("expected ErrAlreadyHooked, got %v", err)
	}
}

func TestRelease_LeavesTargetAlone(t *testing.T) {
	buf, addrs := newImage(t, prologue)
	target := addrs[0]
	e := NewEngine(buf, nil)
	h, err := e.Install("f", target, replacement)
	if err != nil {
		t.Fatal(err)
	}
	if !h.Live() {
		t.Fatal("new hook not live")
	}

	// The code is replaced underneath the hook.
	if err := memory.WriteProtected(buf, target, prologue); err != nil {
		t.Fatal(err)
	}
	if h.Live() {
		t.Error("hook live after its entry was overwritten")
	}
	fresh := append([]byte{0x90}, prologue...)
	if err := memory.WriteProtected(buf, target, fresh); err != nil {
		t.Fatal(err)
	}

	h.Release()
	got, _ := buf.Read(target, len(fresh))
	if !bytes.Equal(got, fresh) {
		t.Errorf("release wrote to the target: % x", got)
	}
	if e.Len() != 0 {
		t.Error("released hook still registered")
	}
	if err := h.Enable(); !errors.Is(err, ErrClosed) {
		t.Errorf("Enable after release: %v", err)
	}
	if _, err := e.Install("f", target, replacement); err != nil {
		t.Errorf("reinstall after release: %v", err)
	}
}
