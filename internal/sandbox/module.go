package sandbox

import (
	"bytes"
	"fmt"
)

// wasm binary magic: "\0asm". The four bytes after it hold the version.
var wasmMagic = []byte{0x00, 0x61, 0x73, 0x6d}

// ValidateModuleHeader performs a cheap structural check on raw module
// bytes before they are handed to the compiler. A well-formed module
// carries at least the 4-byte magic plus the 4-byte version.
func ValidateModuleHeader(b []byte) error {
	if len(b) < 8 {
		return fmt.Errorf("%w: %d bytes, need at least 8", ErrInvalidModule, len(b))
	}
	if !bytes.Equal(b[:4], wasmMagic) {
		return fmt.Errorf("%w: bad magic %x", ErrInvalidModule, b[:4])
	}
	return nil
}
