package cryptox

// Zero overwrites a byte slice in memory with zeros. Every buffer that held
// key material or plaintext must pass through here before being released.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
