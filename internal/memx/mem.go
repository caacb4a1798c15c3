// Package memx applies process-wide memory protection so derived keys and
// decrypted plaintext are not swapped to disk.
package memx

// ProtectionLevel indicates how well the process can protect memory.
type ProtectionLevel int

const (
	ProtectionNone    ProtectionLevel = iota // no memory protection available
	ProtectionPartial                        // some protection measures applied
	ProtectionFull                           // full memory protection (locked memory)
)

// Lock attempts to prevent sensitive data from being swapped to disk.
// Returns the protection level achieved and any error encountered.
func Lock() (ProtectionLevel, error) {
	return lockMemoryPlatform()
}

// Unlock releases memory locks if they were applied.
func Unlock() error {
	return unlockMemoryPlatform()
}
