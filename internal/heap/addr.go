package heap

import "unsafe"

// addr returns the base address of a byte slice's backing array, used only
// to test whether a freed pointer falls within this heap's region. Heap
// regions are allocated once and never moved, so the address is stable.
func addr(b []byte) uintptr {
	if len(b) == 0 && cap(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[:1][0]))
}

func uintptrLen(b []byte) uintptr {
	return uintptr(len(b))
}
