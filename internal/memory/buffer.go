package memory

import (
	"fmt"
	"sort"
	"sync"
)

// Buffer is a byte-backed Region.
//
// It holds a set of non-overlapping segments, each with per-page protection,
// and enforces protection on Read and Write the way the MMU would. It backs
// offline scanning of on-disk images and every test that touches "host"
// memory.
type Buffer struct {
	mu       sync.RWMutex
	segments []*segment
}

type segment struct {
	start uintptr
	data  []byte
	prot  []Protection // one entry per page
	path  string
	alloc bool
}

func (s *segment) end() uintptr { return s.start + uintptr(len(s.data)) }

// NewBuffer returns an empty Buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Map adds a segment holding a copy of data at start with protection prot.
// start must be page aligned and the segment must not overlap another.
func (b *Buffer) Map(start uintptr, data []byte, prot Protection, path string) error {
	if start%PageSize != 0 {
		return fmt.Errorf("map %#x: start not page aligned", start)
	}
	if len(data) == 0 {
		return fmt.Errorf("map %#x: empty segment", start)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mapLocked(start, append([]byte(nil), data...), prot, path, false)
}

func (b *Buffer) mapLocked(start uintptr, data []byte, prot Protection, path string, alloc bool) error {
	seg := &segment{start: start, data: data, path: path, alloc: alloc}
	for _, other := range b.segments {
		if seg.start < other.end() && other.start < seg.end() {
			return fmt.Errorf("map %#x: overlaps segment at %#x", start, other.start)
		}
	}
	pages := (len(data) + PageSize - 1) / PageSize
	seg.prot = make([]Protection, pages)
	for i := range seg.prot {
		seg.prot[i] = prot
	}
	b.segments = append(b.segments, seg)
	sort.Slice(b.segments, func(i, j int) bool {
		return b.segments[i].start < b.segments[j].start
	})
	return nil
}

// Bytes returns a copy of the whole segment containing addr.
func (b *Buffer) Bytes(addr uintptr) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	seg := b.find(addr, 1)
	if seg == nil {
		return nil, fmt.Errorf("%w: %#x", ErrUnmapped, addr)
	}
	return append([]byte(nil), seg.data...), nil
}

// find returns the segment fully containing [addr, addr+n), or nil.
func (b *Buffer) find(addr uintptr, n int) *segment {
	for _, seg := range b.segments {
		if addr >= seg.start && addr+uintptr(n) <= seg.end() && addr+uintptr(n) >= addr {
			return seg
		}
	}
	return nil
}

func (seg *segment) check(addr uintptr, n int, need Protection) bool {
	first := int(addr-seg.start) / PageSize
	last := int(addr-seg.start+uintptr(n)-1) / PageSize
	if n == 0 {
		last = first
	}
	for p := first; p <= last; p++ {
		if seg.prot[p]&need != need {
			return false
		}
	}
	return true
}

// Read implements Region.
func (b *Buffer) Read(addr uintptr, n int) ([]byte, error) {
	if n < 0 {
		return nil, fmt.Errorf("read %#x: negative length", addr)
	}
	if n == 0 {
		return []byte{}, nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	seg := b.find(addr, n)
	if seg == nil {
		return nil, fmt.Errorf("%w: %#x+%d", ErrUnmapped, addr, n)
	}
	if !seg.check(addr, n, ProtRead) {
		return nil, fmt.Errorf("%w: %#x", ErrNotReadable, addr)
	}
	off := addr - seg.start
	return append([]byte(nil), seg.data[off:off+uintptr(n)]...), nil
}

// Write implements Region.
func (b *Buffer) Write(addr uintptr, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	seg := b.find(addr, len(data))
	if seg == nil {
		return fmt.Errorf("%w: %#x+%d", ErrUnmapped, addr, len(data))
	}
	if !seg.check(addr, len(data), ProtWrite) {
		return fmt.Errorf("%w: %#x", ErrNotWritable, addr)
	}
	copy(seg.data[addr-seg.start:], data)
	return nil
}

// Query implements Region. The returned mapping covers the run of pages
// around addr sharing its protection.
func (b *Buffer) Query(addr uintptr) (Mapping, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	seg := b.find(addr, 1)
	if seg == nil {
		return Mapping{}, fmt.Errorf("%w: %#x", ErrUnmapped, addr)
	}
	page := int(addr-seg.start) / PageSize
	prot := seg.prot[page]
	lo, hi := page, page
	for lo > 0 && seg.prot[lo-1] == prot {
		lo--
	}
	for hi < len(seg.prot)-1 && seg.prot[hi+1] == prot {
		hi++
	}
	end := seg.start + uintptr(hi+1)*PageSize
	if end > seg.end() {
		end = seg.end()
	}
	return Mapping{
		Start: seg.start + uintptr(lo)*PageSize,
		End:   end,
		Prot:  prot,
		Path:  seg.path,
	}, nil
}

// Protect implements Region.
func (b *Buffer) Protect(addr uintptr, n int, prot Protection) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	start, length := PageAlign(addr, n)
	for page := start; page < start+length; page += PageSize {
		seg := b.find(page, 1)
		if seg == nil {
			return fmt.Errorf("%w: %#x", ErrUnmapped, page)
		}
		seg.prot[int(page-seg.start)/PageSize] = prot
	}
	return nil
}

// Alloc implements Region. Blocks are placed after the highest existing
// segment, which keeps them close to anything mapped below.
func (b *Buffer) Alloc(n int, near uintptr) (uintptr, error) {
	if n <= 0 {
		return 0, fmt.Errorf("alloc: size %d", n)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	start := (near + PageSize - 1) &^ (PageSize - 1)
	for _, seg := range b.segments {
		if end := (seg.end() + 2*PageSize - 1) &^ (PageSize - 1); end > start {
			start = end
		}
	}
	if start == 0 {
		start = PageSize
	}
	_, length := PageAlign(0, n)
	if err := b.mapLocked(start, make([]byte, length), ProtRWX, "[alloc]", true); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrNoSpace, err)
	}
	return start, nil
}

// Free implements Region. Only blocks returned by Alloc may be freed.
func (b *Buffer) Free(addr uintptr) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, seg := range b.segments {
		if seg.start == addr && seg.alloc {
			b.segments = append(b.segments[:i], b.segments[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("free %#x: %w", addr, ErrUnmapped)
}

// Segments returns the mappings of every segment, lowest address first.
func (b *Buffer) Segments() []Mapping {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Mapping, 0, len(b.segments))
	for _, seg := range b.segments {
		out = append(out, Mapping{Start: seg.start, End: seg.end(), Prot: seg.prot[0], Path: seg.path})
	}
	return out
}
