// Package protocol implements the OSDP wire framing: start-of-message,
// length, control byte, and the trailing CRC-16/checksum integrity field.
package protocol

// CRC16Init is the seed value OSDP uses for its CRC-16/X.25 variant.
// Grounded on the table-driven CCITT CRC16 in
// Metro-Olografix-bbs-client-genz's zmodem protocol implementation,
// adapted here to OSDP's non-standard init value and unreflected bit
// order (poly 0x1021, init 0x1D0F, no input/output reflection, no
// final xor).
const CRC16Init = 0x1D0F

var crc16Table [256]uint16

func init() {
	for i := 0; i < 256; i++ {
		crc := uint16(i) << 8
		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ 0x1021
			} else {
				crc <<= 1
			}
		}
		crc16Table[i] = crc
	}
}

// CRC16 computes the OSDP CRC-16 over data, starting from CRC16Init.
func CRC16(data []byte) uint16 {
	crc := uint16(CRC16Init)
	for _, b := range data {
		crc = (crc << 8) ^ crc16Table[byte(crc>>8)^b]
	}
	return crc
}

// Checksum computes the OSDP one-byte checksum: two's-complement of the
// sum of all bytes, modulo 256.
func Checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return byte(-int8(sum))
}
