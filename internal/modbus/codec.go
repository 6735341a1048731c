package modbus

import (
	"encoding/binary"
	"fmt"
)

const (
	coilOn  uint16 = 0xFF00
	coilOff uint16 = 0x0000
)

// decodeRegisters turns a register payload (byte count already stripped)
// into big-endian words.
func decodeRegisters(data []byte, count uint16) ([]uint16, error) {
	if len(data) < int(count)*2 {
		return nil, fmt.Errorf("short register payload: %d bytes for %d registers", len(data), count)
	}

	registers := make([]uint16, count)
	for i := range registers {
		registers[i] = binary.BigEndian.Uint16(data[i*2 : i*2+2])
	}
	return registers, nil
}

// decodeBits unpacks LSB-first bit payloads, one value (0/1) per address.
func decodeBits(data []byte, count uint16) ([]uint16, error) {
	if len(data) < (int(count)+7)/8 {
		return nil, fmt.Errorf("short bit payload: %d bytes for %d bits", len(data), count)
	}

	bits := make([]uint16, count)
	for i := range bits {
		if data[i/8]&(1<<(uint(i)%8)) != 0 {
			bits[i] = 1
		}
	}
	return bits, nil
}

func encodeRegisters(values []uint16) []byte {
	data := make([]byte, len(values)*2)
	for i, v := range values {
		binary.BigEndian.PutUint16(data[i*2:], v)
	}
	return data
}

func encodeBits(values []uint16) []byte {
	data := make([]byte, (len(values)+7)/8)
	for i, v := range values {
		if v != 0 {
			data[i/8] |= 1 << (uint(i) % 8)
		}
	}
	return data
}

func coilWord(v uint16) uint16 {
	if v != 0 {
		return coilOn
	}
	return coilOff
}
