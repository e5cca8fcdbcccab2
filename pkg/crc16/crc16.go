// Package crc16 computes the CRC-16/XMODEM checksum used by the Davis
// console protocol (polynomial 0x1021, zero init, no reflection, no
// final xor).
package crc16

import (
	"github.com/snksoft/crc"
)

var xmodem = crc.NewTable(crc.XMODEM)

// Crc16 returns the CRC-16/XMODEM checksum of data. A frame that carries
// its own CRC trailer in big-endian order sums to zero.
func Crc16(data []byte) uint16 {
	return uint16(xmodem.CalculateCRC(data))
}
