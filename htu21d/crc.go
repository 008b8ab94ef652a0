package htu21d

// crc8 is the checksum the chip appends to each measurement: polynomial
// x^8 + x^5 + x^4 + 1 (0x131), initial value 0, not reflected.
func crc8(data []byte) byte {
	var crc byte
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = crc<<1 ^ 0x31
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
