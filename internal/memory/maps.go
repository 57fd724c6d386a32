package memory

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
)

// Module is the contiguous address range of one loaded image.
type Module struct {
	Name     string
	Path     string
	Base     uintptr
	End      uintptr
	Mappings []Mapping
}

// Size returns the length of the module's address range.
func (m Module) Size() uintptr { return m.End - m.Base }

// Executable returns the module's executable mappings in address order.
func (m Module) Executable() []Mapping {
	var out []Mapping
	for _, mp := range m.Mappings {
		if mp.Prot&ProtExec != 0 {
			out = append(out, mp)
		}
	}
	return out
}

// ParseMaps parses the /proc/<pid>/maps format.
//
//	55d0c8a00000-55d0c8a21000 r-xp 00000000 08:01 1234  /usr/bin/qzeroded.x64
func ParseMaps(r io.Reader) ([]Mapping, error) {
	var out []Mapping
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) < 5 {
			continue
		}
		lo, hi, ok := strings.Cut(fields[0], "-")
		if !ok {
			return nil, fmt.Errorf("maps line %d: bad range %q", line, fields[0])
		}
		start, err := strconv.ParseUint(lo, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("maps line %d: %w", line, err)
		}
		end, err := strconv.ParseUint(hi, 16, 64)
		if err != nil {
			return nil, fmt.Errorf("maps line %d: %w", line, err)
		}
		m := Mapping{Start: uintptr(start), End: uintptr(end), Prot: parsePerms(fields[1])}
		if len(fields) >= 6 {
			m.Path = strings.Join(fields[5:], " ")
		}
		out = append(out, m)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func parsePerms(s string) Protection {
	var p Protection
	if len(s) > 0 && s[0] == 'r' {
		p |= ProtRead
	}
	if len(s) > 1 && s[1] == 'w' {
		p |= ProtWrite
	}
	if len(s) > 2 && s[2] == 'x' {
		p |= ProtExec
	}
	return p
}

// FindModule groups the mappings backed by the file whose base name is name
// (or which contains name as a suffix) into a Module.
func FindModule(maps []Mapping, name string) (Module, bool) {
	var mod Module
	for _, m := range maps {
		if m.Path == "" || !matchesModule(m.Path, name) {
			continue
		}
		if len(mod.Mappings) == 0 {
			mod = Module{Name: filepath.Base(m.Path), Path: m.Path, Base: m.Start}
		}
		mod.Mappings = append(mod.Mappings, m)
		if m.End > mod.End {
			mod.End = m.End
		}
		if m.Start < mod.Base {
			mod.Base = m.Start
		}
	}
	return mod, len(mod.Mappings) > 0
}

func matchesModule(path, name string) bool {
	base := filepath.Base(path)
	return base == name || strings.HasSuffix(path, "/"+name) || strings.HasPrefix(base, name+".")
}
