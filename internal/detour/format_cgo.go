//go:build linux && amd64 && cgo

package detour

/*
#include <stdint.h>
#include <stdlib.h>

uintptr_t gamehook_format_entry(int lead, int slot);
uintptr_t gamehook_call_format(uintptr_t fn, int lead, uintptr_t arg, const char *text);
*/
import "C"

import (
	"errors"
	"fmt"
	"sync"
	"unsafe"
)

// formatSlots is the number of native entries per lead count.
const formatSlots = 4

// ErrNoFormatSlot is returned when every printf-style entry is in use.
var ErrNoFormatSlot = errors.New("no free format entry")

var formatted struct {
	sync.RWMutex
	fns [2][formatSlots]func([]uintptr, string) uintptr
}

//export gamehookFormatted
func gamehookFormatted(lead, slot C.int, arg C.uintptr_t, text *C.char) C.uintptr_t {
	formatted.RLock()
	fn := formatted.fns[lead][slot]
	formatted.RUnlock()
	if fn == nil {
		return 0
	}
	var args []uintptr
	if lead == 1 {
		args = []uintptr{uintptr(arg)}
	}
	return C.uintptr_t(fn(args, C.GoString(text)))
}

// FormatCallback implements Formatter. Functions taking at most one
// argument before the format are supported.
func (Native) FormatCallback(lead int, fn func([]uintptr, string) uintptr) (uintptr, error) {
	if lead < 0 || lead > 1 {
		return 0, fmt.Errorf("%w: %d arguments before the format", ErrInvalidAddress, lead)
	}
	formatted.Lock()
	defer formatted.Unlock()
	for slot, used := range formatted.fns[lead] {
		if used != nil {
			continue
		}
		formatted.fns[lead][slot] = fn
		return uintptr(C.gamehook_format_entry(C.int(lead), C.int(slot))), nil
	}
	return 0, ErrNoFormatSlot
}

// CallFormat implements Formatter.
func (Native) CallFormat(fn uintptr, lead []uintptr, text string) uintptr {
	cs := C.CString(text)
	defer C.free(unsafe.Pointer(cs))
	var arg uintptr
	if len(lead) > 0 {
		arg = lead[0]
	}
	return uintptr(C.gamehook_call_format(C.uintptr_t(fn), C.int(len(lead)), C.uintptr_t(arg), cs))
}
