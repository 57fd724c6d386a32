package detour

// Caller invokes native functions and exposes Go functions to native code.
// Arguments and the result are passed as machine words using the host's C
// calling convention.
type Caller interface {
	// Call invokes the native function at fn.
	Call(fn uintptr, args ...uintptr) uintptr

	// Callback returns a native entry point that calls fn, which must be a
	// Go func whose parameters and result are word-sized.
	Callback(fn any) uintptr
}

// Original calls the function a handle's trampoline preserves.
func Original(c Caller, h *Handle, args ...uintptr) uintptr {
	return c.Call(h.Trampoline(), args...)
}

// Formatter is implemented by a Caller that can stand in for printf-style
// native functions, whose variadic arguments a word-sized callback cannot
// receive.
type Formatter interface {
	// FormatCallback returns a native entry point for a function taking
	// lead word arguments, a format string and its arguments. The entry
	// formats the text and calls fn with the lead words and the result.
	FormatCallback(lead int, fn func(lead []uintptr, text string) uintptr) (uintptr, error)

	// CallFormat calls the printf-style function at fn with lead, a "%s"
	// format and text.
	CallFormat(fn uintptr, lead []uintptr, text string) uintptr
}
