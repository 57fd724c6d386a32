package view_test

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/dshills/gamehook/internal/memory"
	"github.com/dshills/gamehook/internal/view"
)

const (
	heapBase = 0x10000000
	strBase  = 0x20000000
)

// smallLayout keeps records small enough to map a few slots in tests.
func smallLayout() view.Layout {
	l := view.DefaultLayout()
	l.Client = view.ClientLayout{
		Size: 0x100, State: 0x0, Userinfo: 0x4, UserinfoSize: 0x40,
		Name: 0x44, NameSize: 0x20, Ping: 0x64, SteamID: 0x68, Entity: 0x70,
	}
	l.Entity = view.EntityLayout{
		Size: 0x80, Number: 0x0, Type: 0x4, GameClient: 0x8, InUse: 0x10, Classname: 0x18, Health: 0x20,
	}
	l.GameClient = view.GameClientLayout{
		Size: 0x40, Health: 0x0, Armor: 0x4, Team: 0x8, Score: 0xC, Kills: 0x10, Deaths: 0x14,
	}
	return l
}

type heap struct {
	t   *testing.T
	buf *memory.Buffer
}

func newHeap(t *testing.T) *heap {
	t.Helper()
	buf := memory.NewBuffer()
	if err := buf.Map(heapBase, make([]byte, 4*memory.PageSize), memory.ProtRW, "[heap]"); err != nil {
		t.Fatal(err)
	}
	if err := buf.Map(strBase, make([]byte, memory.PageSize), memory.ProtRW, "[strings]"); err != nil {
		t.Fatal(err)
	}
	return &heap{t: t, buf: buf}
}

func (h *heap) write(addr uintptr, b []byte) {
	h.t.Helper()
	if err := h.buf.Write(addr, b); err != nil {
		h.t.Fatal(err)
	}
}

func (h *heap) put32(addr uintptr, v uint32) {
	h.write(addr, binary.LittleEndian.AppendUint32(nil, v))
}

func (h *heap) put64(addr uintptr, v uint64) {
	h.write(addr, binary.LittleEndian.AppendUint64(nil, v))
}

func (h *heap) get32(addr uintptr) uint32 {
	b, err := h.buf.Read(addr, 4)
	if err != nil {
		h.t.Fatal(err)
	}
	return binary.LittleEndian.Uint32(b)
}

func (h *heap) putString(addr uintptr, s string) {
	h.write(addr, append([]byte(s), 0))
}

func TestNullPointer(t *testing.T) {
	h := newHeap(t)
	l := view.DefaultLayout()

	checks := map[string]error{}
	_, checks["client"] = view.NewClient(h.buf, 0, &l.Client)
	_, checks["entity"] = view.NewEntity(h.buf, 0, &l)
	_, checks["game client"] = view.NewGameClient(h.buf, 0, &l.GameClient)
	_, checks["cvar"] = view.NewCvar(h.buf, 0, &l.Cvar)
	_, checks["server"] = view.NewServer(h.buf, 0, &l.Server)

	for kind, err := range checks {
		if !errors.Is(err, view.ErrNullPointer) {
			t.Errorf("%s: expected ErrNullPointer, got %v", kind, err)
		}
		if errors.Is(err, view.ErrOutOfRange) {
			t.Errorf("%s: null pointer reported as out of range", kind)
		}
	}
}

func TestClientFields(t *testing.T) {
	h := newHeap(t)
	l := smallLayout()
	addr := uintptr(heapBase + 0x100)

	h.put32(addr+0x0, uint32(view.ClientActive))
	h.putString(addr+0x4, `\name\Visor\rate\25000`)
	h.putString(addr+0x44, "Visor")
	h.put32(addr+0x64, 48)
	h.put64(addr+0x68, 76561198000000001)
	h.put64(addr+0x70, heapBase+0x800)

	c, err := view.NewClient(h.buf, addr, &l.Client)
	if err != nil {
		t.Fatal(err)
	}
	if s, _ := c.State(); s != view.ClientActive {
		t.Errorf("State = %v", s)
	}
	if n, _ := c.Name(); n != "Visor" {
		t.Errorf("Name = %q", n)
	}
	if u, _ := c.Userinfo(); u != `\name\Visor\rate\25000` {
		t.Errorf("Userinfo = %q", u)
	}
	if p, _ := c.Ping(); p != 48 {
		t.Errorf("Ping = %d", p)
	}
	if id, _ := c.SteamID(); id != 76561198000000001 {
		t.Errorf("SteamID = %d", id)
	}
	if e, _ := c.EntityAddr(); e != heapBase+0x800 {
		t.Errorf("EntityAddr = %#x", e)
	}
}

func TestNoCaching(t *testing.T) {
	h := newHeap(t)
	l := smallLayout()
	addr := uintptr(heapBase)
	c, _ := view.NewClient(h.buf, addr, &l.Client)

	h.put32(addr+0x64, 10)
	if p, _ := c.Ping(); p != 10 {
		t.Fatalf("Ping = %d", p)
	}
	h.put32(addr+0x64, 99)
	if p, _ := c.Ping(); p != 99 {
		t.Errorf("Ping after host update = %d, expected 99", p)
	}
}

func TestEntityAndGameClient(t *testing.T) {
	h := newHeap(t)
	l := smallLayout()
	ent := uintptr(heapBase + 0x800)
	gc := uintptr(heapBase + 0x1000)

	h.put32(ent+0x0, 3)
	h.put64(ent+0x8, uint64(gc))
	h.put32(ent+0x10, 1)
	h.put64(ent+0x18, strBase)
	h.putString(strBase, "player")
	h.put32(ent+0x20, 125)
	h.put32(gc+0x0, 125)
	h.put32(gc+0x4, 50)
	h.put32(gc+0x8, 2)

	e, err := view.NewEntity(h.buf, ent, &l)
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := e.Number(); n != 3 {
		t.Errorf("Number = %d", n)
	}
	if in, _ := e.InUse(); !in {
		t.Error("InUse = false")
	}
	if cls, _ := e.Classname(); cls != "player" {
		t.Errorf("Classname = %q", cls)
	}

	if err := e.SetHealth(200); err != nil {
		t.Fatal(err)
	}
	if got := h.get32(ent + 0x20); got != 200 {
		t.Errorf("health in memory = %d, expected write-through", got)
	}

	g, err := e.GameClient()
	if err != nil {
		t.Fatal(err)
	}
	if a, _ := g.Armor(); a != 50 {
		t.Errorf("Armor = %d", a)
	}
	if tm, _ := g.Team(); tm != 2 {
		t.Errorf("Team = %d", tm)
	}
	if err := g.SetArmor(0); err != nil {
		t.Fatal(err)
	}
	if a, _ := g.Armor(); a != 0 {
		t.Errorf("Armor after set = %d", a)
	}

	h.put64(ent+0x8, 0)
	if _, err := e.GameClient(); !errors.Is(err, view.ErrNullPointer) {
		t.Errorf("non-player entity: expected ErrNullPointer, got %v", err)
	}
}

func TestCvar(t *testing.T) {
	h := newHeap(t)
	l := view.DefaultLayout()
	cv := uintptr(heapBase + 0x2000)

	h.put64(cv+0, strBase)
	h.putString(strBase, "g_gravity")
	h.put64(cv+8, strBase+0x20)
	h.putString(strBase+0x20, "800")
	h.put32(cv+32, view.CvarServerinfo)
	h.put32(cv+40, 1)
	h.put32(cv+44, math.Float32bits(800))
	h.put32(cv+48, 800)

	c, err := view.NewCvar(h.buf, cv, &l.Cvar)
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := c.Name(); n != "g_gravity" {
		t.Errorf("Name = %q", n)
	}
	if s, _ := c.Text(); s != "800" {
		t.Errorf("Text = %q", s)
	}
	if r, _ := c.ResetString(); r != "" {
		t.Errorf("unset ResetString = %q", r)
	}
	if f, _ := c.Flags(); f&view.CvarServerinfo == 0 {
		t.Errorf("Flags = %#x", f)
	}

	if err := c.SetInteger(400); err != nil {
		t.Fatal(err)
	}
	if i, _ := c.Integer(); i != 400 {
		t.Errorf("Integer = %d", i)
	}
	if v, _ := c.Value(); v != 400 {
		t.Errorf("Value = %v", v)
	}
	if n, _ := c.ModificationCount(); n != 2 {
		t.Errorf("ModificationCount = %d", n)
	}

	if err := c.SetValue(1.5); err != nil {
		t.Fatal(err)
	}
	if i, _ := c.Integer(); i != 1 {
		t.Errorf("Integer after SetValue = %d", i)
	}
}

func TestServer(t *testing.T) {
	h := newHeap(t)
	l := view.DefaultLayout()
	l.Server.MapName = 0x100
	sv := uintptr(heapBase + 0x3000)
	h.put32(sv, 2)
	h.put32(sv+0x10, 123456)
	h.putString(sv+0x100, "campgrounds")

	s, err := view.NewServer(h.buf, sv, &l.Server)
	if err != nil {
		t.Fatal(err)
	}
	if st, _ := s.State(); st != 2 {
		t.Errorf("State = %d", st)
	}
	if tm, _ := s.Time(); tm != 123456 {
		t.Errorf("Time = %d", tm)
	}
	if m, _ := s.MapName(); m != "campgrounds" {
		t.Errorf("MapName = %q", m)
	}
}

// countingRegion counts every memory access.
type countingRegion struct {
	*memory.Buffer
	reads int
}

func (c *countingRegion) Read(addr uintptr, n int) ([]byte, error) {
	c.reads++
	return c.Buffer.Read(addr, n)
}

func TestTable_RangeCheckedBeforeAccess(t *testing.T) {
	h := newHeap(t)
	r := &countingRegion{Buffer: h.buf}
	l := smallLayout()
	clients := view.Table{Kind: "client", Base: heapBase, Stride: l.Client.Size, Max: 4}

	for _, id := range []int{-1, 4, 64, math.MaxInt32} {
		_, err := view.ClientAt(r, clients, id, &l.Client)
		var re *view.RangeError
		if !errors.As(err, &re) || re.ID != id || re.Max != 4 {
			t.Errorf("id %d: expected RangeError, got %v", id, err)
		}
		if !errors.Is(err, view.ErrOutOfRange) {
			t.Errorf("id %d: not ErrOutOfRange", id)
		}
	}
	if r.reads != 0 {
		t.Errorf("%d reads made for out of range ids", r.reads)
	}

	c, err := view.ClientAt(r, clients, 2, &l.Client)
	if err != nil {
		t.Fatal(err)
	}
	if c.Addr() != heapBase+2*0x100 {
		t.Errorf("slot 2 at %#x", c.Addr())
	}
}

func TestTable_NullBase(t *testing.T) {
	l := smallLayout()
	ents := view.Table{Kind: "entity", Stride: l.Entity.Size, Max: 1024}
	if _, err := view.EntityAt(nil, ents, 0, &l); !errors.Is(err, view.ErrNullPointer) {
		t.Errorf("expected ErrNullPointer, got %v", err)
	}
	if _, err := view.EntityAt(nil, ents, 1024, &l); !errors.Is(err, view.ErrOutOfRange) {
		t.Errorf("range must be checked first, got %v", err)
	}
}

func TestTable_Index(t *testing.T) {
	tb := view.Table{Kind: "entity", Base: 0x1000, Stride: 0x80, Max: 8}
	tests := []struct {
		addr uintptr
		id   int
		ok   bool
	}{
		{0x1000, 0, true},
		{0x1180, 3, true},
		{0x1010, 0, false},
		{0x0F80, 0, false},
		{0x1400, 8, false},
	}
	for _, tt := range tests {
		id, ok := tb.Index(tt.addr)
		if ok != tt.ok || (ok && id != tt.id) {
			t.Errorf("Index(%#x) = %d, %v; expected %d, %v", tt.addr, id, ok, tt.id, tt.ok)
		}
	}
}

func TestLayoutValidate(t *testing.T) {
	if err := view.DefaultLayout().Validate(); err != nil {
		t.Errorf("default layout: %v", err)
	}
	l := view.DefaultLayout()
	l.Entity.Size = 0
	if err := l.Validate(); err == nil {
		t.Error("expected error for empty entity size")
	}
	l = view.DefaultLayout()
	l.Client.Name = l.Client.Size
	if err := l.Validate(); err == nil {
		t.Error("expected error for name past record end")
	}
}
