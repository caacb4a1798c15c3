//go:build !linux && !darwin && !freebsd && !openbsd && !netbsd && !dragonfly

package memx

func lockMemoryPlatform() (ProtectionLevel, error) {
	return ProtectionNone, nil
}

func unlockMemoryPlatform() error {
	return nil
}
