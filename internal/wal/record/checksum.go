package record

import "github.com/julianstephens/go-utils/checksum"

// ComputeChecksum returns the CRC32-C (Castagnoli) checksum of data.
func ComputeChecksum(data []byte) uint32 {
	return checksum.CRC32C(data)
}

// crcInput assembles the checksummed region of a frame: the type byte
// followed by the payload.
func crcInput(rec *Record) []byte {
	data := make([]byte, 1+len(rec.Payload))
	data[0] = byte(rec.Type)
	copy(data[1:], rec.Payload)
	return data
}

// VerifyChecksum reports whether rec's CRC matches its type and payload.
func VerifyChecksum(rec *Record) bool {
	if rec == nil {
		return false
	}
	return checksum.VerifyCRC32C(crcInput(rec), rec.CRC)
}
