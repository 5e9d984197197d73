package rdm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func buildMessage(pdl int) []byte {
	// Minimal well-formed frame with an arbitrary PDL-sized parameter block.
	msgLen := MinLength - 2 + pdl
	msg := make([]byte, msgLen)
	msg[0] = StartCode
	msg[1] = 0x01 // sub-start code
	msg[2] = byte(msgLen)
	msg[23] = byte(pdl)
	return AppendChecksum(msg)
}

func TestValidateAcceptsWellFormed(t *testing.T) {
	assert.NoError(t, Validate(buildMessage(4)))
}

func TestValidateRejectsBadStartCode(t *testing.T) {
	msg := buildMessage(0)
	msg[0] = 0x00
	assert.ErrorIs(t, Validate(msg), ErrBadStartCode)
}

func TestValidateRejectsBadChecksum(t *testing.T) {
	msg := buildMessage(2)
	msg[len(msg)-1] ^= 0xFF
	assert.ErrorIs(t, Validate(msg), ErrChecksum)
}

func TestValidateRejectsOversizePDL(t *testing.T) {
	msg := buildMessage(4)
	msg[23] = MaxPDL + 1
	assert.ErrorIs(t, Validate(msg), ErrPDLTooLarge)
}

func TestValidateRejectsTooShort(t *testing.T) {
	assert.ErrorIs(t, Validate(make([]byte, 4)), ErrTooShort)
}
