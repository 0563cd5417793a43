package protocol

// Checksum computes the protocol checksum over b: (0xFF - sum(b)) & 0xFF.
// Byte sums wrap at 8 bits; the subtraction never underflows.
func Checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return 0xFF - sum
}

// ValidateChecksum reports whether the last byte of a full 20-byte frame
// matches the checksum computed over the preceding 19 bytes.
func ValidateChecksum(frame []byte) bool {
	if len(frame) != FrameSize {
		return false
	}
	return frame[FrameSize-1] == Checksum(frame[:FrameSize-1])
}
