//go:build debug_mem_utils

package memutils

const (
	// FreedBlockFill is the byte pattern written across a block's payload when it is
	// returned to a free list, making use-after-free reads easy to spot in a debugger.
	FreedBlockFill byte = 0xEF
)

// DebugFillEnabled reports whether freed payloads should be overwritten with
// FreedBlockFill. It is true only when built with the debug_mem_utils build tag.
const DebugFillEnabled = true

// DebugValidate will call Validate on the provided object and panics if any errors are returned. This
// method no-ops unless the debug_mem_utils build tag is present
func DebugValidate(validatable Validatable) {
	err := validatable.Validate()
	if err != nil {
		panic(err)
	}
}

// DebugCheckPow2 will verify that the numerical value passed in is a power of two, and panics if it is not.
// This method no-ops unless the debug_mem_utils build tag is present.
func DebugCheckPow2[T Number](value T, name string) {
	err := CheckPow2[T](value, name)
	if err != nil {
		panic(err)
	}
}
