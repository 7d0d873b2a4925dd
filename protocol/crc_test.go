package protocol

import "testing"

func TestChecksumMatchesPollVector(t *testing.T) {
	data := []byte{0x53, 0x7F, 0x07, 0x00, 0x01, 0x60}
	if got := Checksum(data); got != 0xC6 {
		t.Errorf("Checksum = %#x, want 0xC6", got)
	}
}

func TestCRC16MatchesSetDateTimeVector(t *testing.T) {
	data := []byte{0x53, 0x7F, 0x0F, 0x00, 0x05, 0x6D, 0xE3, 0x07, 0x0B, 0x1D, 0x10, 0x11, 0x12}
	crc := CRC16(data)
	if byte(crc) != 0xDE || byte(crc>>8) != 0xFA {
		t.Errorf("CRC16 = %#04x, want bytes DE FA", crc)
	}
}

func TestChecksumRoundTrip(t *testing.T) {
	tests := [][]byte{
		{0x00},
		{0x53, 0x00, 0x01},
		{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07},
	}
	for _, data := range tests {
		sum := Checksum(data)
		full := append(append([]byte{}, data...), sum)
		total := byte(0)
		for _, b := range full {
			total += b
		}
		if total != 0 {
			t.Errorf("data % X: sum of data+checksum = %d, want 0 mod 256", data, total)
		}
	}
}
