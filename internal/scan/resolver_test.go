package scan_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/dshills/gamehook/internal/memory"
	"github.com/dshills/gamehook/internal/scan"
)

type missRecorder struct {
	names    []string
	required []bool
}

func (m *missRecorder) ScanMiss(module, name string, required bool) {
	m.names = append(m.names, name)
	m.required = append(m.required, required)
}

func moduleImage(t *testing.T) (*memory.Buffer, memory.Module) {
	t.Helper()
	code := bytes.Repeat([]byte{0xCC}, 2*memory.PageSize)
	copy(code[0x100:], []byte{0x55, 0x48, 0x89, 0xE5, 0x41, 0x57})
	copy(code[0x1800:], []byte{0x53, 0x48, 0x83, 0xEC, 0x20})

	buf := memory.NewBuffer()
	if err := buf.Map(0x400000, []byte("\x7fELF"), memory.ProtRead, "/srv/qzeroded.x64"); err != nil {
		t.Fatal(err)
	}
	if err := buf.Map(0x401000, code, memory.ProtRX, "/srv/qzeroded.x64"); err != nil {
		t.Fatal(err)
	}
	mod, ok := memory.FindModule(buf.Segments(), "qzeroded.x64")
	if !ok {
		t.Fatal("module not found")
	}
	return buf, mod
}

func TestResolver_ResolvesAndRecordsMisses(t *testing.T) {
	buf, mod := moduleImage(t)
	sigs := []scan.Signature{
		scan.MustSignature("SV_ExecuteClientCommand", []byte{0x55, 0x48, 0x89, 0xE5, 0x41, 0x00}, "XXXXX?"),
		scan.MustSignature("Com_Printf", []byte{0x53, 0x48, 0x83, 0xEC}, "XXXX"),
		scan.MustSignature("G_Damage", []byte{0x0F, 0x0B, 0x0F}, "XXX"),
	}

	rec := &missRecorder{}
	rv := scan.NewResolver(buf, scan.NewPolicy("SV_ExecuteClientCommand"), nil)
	rv.SetObserver(rec)

	resolved := scan.NewResolved()
	if err := rv.Resolve(mod, sigs, resolved); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if addr, ok := resolved.Lookup("SV_ExecuteClientCommand"); !ok || addr != 0x401100 {
		t.Errorf("SV_ExecuteClientCommand = %#x, %v", addr, ok)
	}
	if addr, ok := resolved.Lookup("Com_Printf"); !ok || addr != 0x402800 {
		t.Errorf("Com_Printf = %#x, %v", addr, ok)
	}
	if _, ok := resolved.Lookup("G_Damage"); ok {
		t.Error("G_Damage should be missing")
	}
	if misses := resolved.Misses(); len(misses) != 1 || misses[0] != "G_Damage" {
		t.Errorf("Misses() = %v", misses)
	}
	if len(rec.names) != 1 || rec.required[0] {
		t.Errorf("observer saw %v %v", rec.names, rec.required)
	}
}

func TestResolver_MissDropsEarlierAddress(t *testing.T) {
	buf, mod := moduleImage(t)
	resolved := scan.NewResolved()
	resolved.Set("G_Damage", 0x900000)

	sigs := []scan.Signature{scan.MustSignature("G_Damage", []byte{0x0F, 0x0B, 0x0F}, "XXX")}
	if err := scan.NewResolver(buf, scan.NewPolicy(), nil).Resolve(mod, sigs, resolved); err != nil {
		t.Fatal(err)
	}
	if addr, ok := resolved.Lookup("G_Damage"); ok {
		t.Errorf("G_Damage kept stale address %#x", addr)
	}
}

func TestResolver_RequiredMissIsFatal(t *testing.T) {
	buf, mod := moduleImage(t)
	sigs := []scan.Signature{
		scan.MustSignature("G_RunFrame", []byte{0x0F, 0x0B}, "XX"),
		scan.MustSignature("G_InitGame", []byte{0x0F, 0x0C}, "XX"),
	}

	rv := scan.NewResolver(buf, scan.NewPolicy("G_RunFrame", "G_InitGame"), nil)
	err := rv.Resolve(mod, sigs, scan.NewResolved())

	if !errors.Is(err, scan.ErrScanMiss) {
		t.Fatalf("expected ErrScanMiss, got %v", err)
	}
	var miss *scan.MissError
	if !errors.As(err, &miss) {
		t.Fatalf("expected *MissError, got %T", err)
	}
	if len(miss.Names) != 2 || miss.Module != "qzeroded.x64" {
		t.Errorf("MissError = %+v", miss)
	}
}

func TestPolicy(t *testing.T) {
	p := scan.NewPolicy("b", "a")
	if !p.IsRequired("a") || p.IsRequired("c") {
		t.Error("IsRequired mismatch")
	}
	if got := p.Required(); len(got) != 2 || got[0] != "a" {
		t.Errorf("Required() = %v", got)
	}
}
