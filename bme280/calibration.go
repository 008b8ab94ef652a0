package bme280

import (
	"github.com/pkg/errors"
)

// calibration280 holds the factory trimming constants, read once from the
// two NVM blocks.
type calibration280 struct {
	t1     uint16
	t2, t3 int16

	p1                             uint16
	p2, p3, p4, p5, p6, p7, p8, p9 int16

	h1 uint8
	h2 int16
	h3 uint8
	h4 int16
	h5 int16
	h6 int8
}

// newCalibration parses calibration data from both buffers.
func newCalibration(cd1, cd2 []byte) (c calibration280, err error) {
	// cd1 covers 0x88 through 0xA1
	// cd2 covers 0xE1 through 0xE7

	getInt16 := func(lsb, msb byte) int16 {
		return int16(lsb) | (int16(msb) << 8)
	}

	getUInt16 := func(lsb, msb byte) uint16 {
		return uint16(lsb) | (uint16(msb) << 8)
	}

	c.t1 = getUInt16(cd1[0], cd1[1])
	c.t2 = getInt16(cd1[2], cd1[3])
	c.t3 = getInt16(cd1[4], cd1[5])

	c.p1 = getUInt16(cd1[6], cd1[7])
	c.p2 = getInt16(cd1[8], cd1[9])
	c.p3 = getInt16(cd1[10], cd1[11])
	c.p4 = getInt16(cd1[12], cd1[13])
	c.p5 = getInt16(cd1[14], cd1[15])
	c.p6 = getInt16(cd1[16], cd1[17])
	c.p7 = getInt16(cd1[18], cd1[19])
	c.p8 = getInt16(cd1[20], cd1[21])
	c.p9 = getInt16(cd1[22], cd1[23])

	// cd1[24] (0xA0) is unused.
	c.h1 = cd1[25]

	c.h2 = getInt16(cd2[0], cd2[1])
	c.h3 = cd2[2]
	// H4 and H5 are signed 12 bits sharing the nibbles of 0xE5.
	c.h4 = int16(int8(cd2[3]))<<4 | int16(cd2[4]&0x0F)
	c.h5 = int16(int8(cd2[5]))<<4 | int16(cd2[4]>>4)
	c.h6 = int8(cd2[6])

	if c.t1 == 0 || c.p1 == 0 {
		return c, errors.New("calibration registers read back empty")
	}
	return c, nil
}

// tFine returns the fine resolution temperature from a 20 bits raw reading.
func (c *calibration280) tFine(raw int64) int64 {
	t1 := int64(c.t1)
	var1 := (((raw >> 3) - (t1 << 1)) * int64(c.t2)) >> 11
	var2 := (((((raw >> 4) - t1) * ((raw >> 4) - t1)) >> 12) * int64(c.t3)) >> 14
	return var1 + var2
}

// compensateTemp returns temperature in °C, resolution is 0.01 °C.
// Output value of 5123 equals 51.23 C.
func compensateTemp(tFine int64) int64 {
	return (tFine*5 + 128) >> 8
}

// compensatePressure returns pressure in Pa in Q24.8 format (24 integer
// bits and 8 fractional bits). Output value of 24674867 represents
// 24674867/256 = 96386.2 Pa = 963.862 hPa.
//
// raw has 20 bits of resolution.
func (c *calibration280) compensatePressure(raw, tFine int64) int64 {
	var1 := tFine - 128000
	var2 := var1 * var1 * int64(c.p6)
	var2 += (var1 * int64(c.p5)) << 17
	var2 += int64(c.p4) << 35
	var1 = ((var1 * var1 * int64(c.p3)) >> 8) + ((var1 * int64(c.p2)) << 12)
	var1 = ((int64(1)<<47 + var1) * int64(c.p1)) >> 33
	// Avoid exception caused by division by zero.
	if var1 == 0 {
		return 0
	}
	p := 1048576 - raw
	p = (((p << 31) - var2) * 3125) / var1
	var1 = (int64(c.p9) * (p >> 13) * (p >> 13)) >> 25
	var2 = (int64(c.p8) * p) >> 19
	p = ((p + var1 + var2) >> 8) + (int64(c.p7) << 4)
	return p
}

// compensateHumidity returns humidity in %RH in Q22.10 format (22 integer
// and 10 fractional bits). Output value of 47445 represents 47445/1024 =
// 46.333%
//
// raw has 16 bits of resolution.
func (c *calibration280) compensateHumidity(raw, tFine int64) int64 {
	x := tFine - 76800
	x1 := raw<<14 - int64(c.h4)<<20 - int64(c.h5)*x
	x2 := (x1 + 16384) >> 15
	x3 := (x * int64(c.h6)) >> 10
	x4 := (x * int64(c.h3)) >> 11
	x5 := (x3 * (x4 + 32768)) >> 10
	x6 := ((x5+2097152)*int64(c.h2) + 8192) >> 14
	x = x2 * x6
	x -= ((((x >> 15) * (x >> 15)) >> 7) * int64(c.h1)) >> 4
	if x < 0 {
		return 0
	}
	if x > 419430400 {
		return 419430400 >> 12
	}
	return x >> 12
}
