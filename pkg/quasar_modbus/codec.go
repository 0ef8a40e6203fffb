package quasar_modbus

// The Quasar encodes the current setpoint as a 16-bit two's complement
// value. Negative values mean discharge.

func EncodeCurrent(amps int16) uint16 {
	if amps < 0 {
		return uint16((int32(1)<<16 + int32(amps)) & 0xFFFF)
	}
	return uint16(amps)
}

func DecodeCurrent(value uint16) int16 {
	if value > 32767 {
		return int16(int32(value) - 65536)
	}
	return int16(value)
}
