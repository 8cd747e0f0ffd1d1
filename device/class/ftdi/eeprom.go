package ftdi

import (
	"fmt"

	"github.com/ardnew/softftdi/pkg"
)

// EEPROMSize is the size of the configuration memory image in bytes.
const EEPROMSize = 128

// eeprom is the configuration memory of a stock FT232R. Host drivers read it
// to identify the chip; the layout and checksum are those of the real part.
var eeprom = [EEPROMSize]byte{
	0x00, 0x40, 0x03, 0x04, 0x01, 0x60, 0x00, 0x00,
	0xa0, 0x2d, 0x08, 0x00, 0x00, 0x00, 0x98, 0x0a,
	0xa2, 0x20, 0xc2, 0x12, 0x23, 0x10, 0x05, 0x00,
	0x0a, 0x03, 0x46, 0x00, 0x54, 0x00, 0x44, 0x00,
	0x49, 0x00, 0x20, 0x03, 0x46, 0x00, 0x54, 0x00,
	0x32, 0x00, 0x33, 0x00, 0x32, 0x00, 0x52, 0x00,
	0x20, 0x00, 0x55, 0x00, 0x53, 0x00, 0x42, 0x00,
	0x20, 0x00, 0x55, 0x00, 0x41, 0x00, 0x52, 0x00,
	0x54, 0x00, 0x12, 0x03, 0x41, 0x00, 0x36, 0x00,
	0x30, 0x00, 0x30, 0x00, 0x65, 0x00, 0x4f, 0x00,
	0x45, 0x00, 0x37, 0x00, 0x81, 0xe1, 0x35, 0x60,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x9a, 0xa5,
}

// ReadEEPROM returns length bytes of the image starting at the word
// address in the low byte of index. Reads past the end of the image fail
// with pkg.ErrInvalidRequest. The returned slice aliases the image and must
// not be modified.
func ReadEEPROM(index, length uint16) ([]byte, error) {
	offset := int(index&0xFF) * 2
	end := offset + int(length)
	if end > EEPROMSize {
		return nil, fmt.Errorf("eeprom read %d+%d: %w", offset, length, pkg.ErrInvalidRequest)
	}
	return eeprom[offset:end:end], nil
}
