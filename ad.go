package bthal

import (
	"encoding/binary"
	"errors"
)

// AD structure types used in advertising and scan response payloads.
const (
	ADFlags                 = 0x01
	ADIncomplete16BitUUIDs  = 0x02
	ADComplete16BitUUIDs    = 0x03
	ADIncomplete128BitUUIDs = 0x06
	ADComplete128BitUUIDs   = 0x07
	ADShortenedLocalName    = 0x08
	ADCompleteLocalName     = 0x09
	ADTxPower               = 0x0A
	ADServiceData16         = 0x16
	ADAppearance            = 0x19
	ADManufacturerData      = 0xFF
)

// MaxEIRLength is the payload limit of a legacy advertisement.
const MaxEIRLength = 31

var errAdvertisementTooLong = errors.New("bthal: advertisement payload too long")

// AdvertisementFields is the decoded form of an advertising payload.
type AdvertisementFields struct {
	Flags     uint8
	LocalName string
	// ServiceUUIDs collects 16-bit and 128-bit service class UUIDs,
	// short ones expanded against the base UUID.
	ServiceUUIDs []UUID
	// TxPower is nil when the payload carries no TX power structure.
	TxPower *int8
	// ManufacturerData is the raw structure payload, company id
	// included.
	ManufacturerData []byte
}

// AppendADStructure appends one (length, type, data) structure to dst
// and returns the extended slice.
func AppendADStructure(dst []byte, typ uint8, data []byte) []byte {
	dst = append(dst, byte(len(data)+1), typ)
	return append(dst, data...)
}

// Marshal assembles a raw advertising payload. Service UUIDs that fit
// in 16 bits are emitted short; the rest are emitted as full 128-bit
// values in little-endian order. The payload must fit a legacy
// advertisement.
func (f AdvertisementFields) Marshal() ([]byte, error) {
	var raw []byte
	if f.Flags != 0 {
		raw = AppendADStructure(raw, ADFlags, []byte{f.Flags})
	}

	var short, long []byte
	for _, u := range f.ServiceUUIDs {
		if u.Is16Bit() {
			short = binary.LittleEndian.AppendUint16(short, u.Get16Bit())
		} else {
			long = append(long, u.Bytes()...)
		}
	}
	if len(short) > 0 {
		raw = AppendADStructure(raw, ADComplete16BitUUIDs, short)
	}
	if len(long) > 0 {
		raw = AppendADStructure(raw, ADComplete128BitUUIDs, long)
	}

	if f.LocalName != "" {
		raw = AppendADStructure(raw, ADCompleteLocalName, []byte(f.LocalName))
	}
	if f.TxPower != nil {
		raw = AppendADStructure(raw, ADTxPower, []byte{uint8(*f.TxPower)})
	}
	if len(f.ManufacturerData) > 0 {
		raw = AppendADStructure(raw, ADManufacturerData, f.ManufacturerData)
	}

	if len(raw) > MaxEIRLength {
		return nil, errAdvertisementTooLong
	}
	return raw, nil
}

// ExtractAdvertisement decodes a raw advertising payload. Decoding
// stops at the first zero length or at a structure running past the
// end of the buffer; everything decoded up to that point is kept.
func ExtractAdvertisement(eir []byte) AdvertisementFields {
	var f AdvertisementFields
	for i := 0; i < len(eir); {
		l := int(eir[i])
		if l < 1 || i+1+l > len(eir) {
			break
		}
		t := eir[i+1]
		data := eir[i+2 : i+1+l]

		switch t {
		case ADFlags:
			if len(data) > 0 {
				f.Flags = data[0]
			}
		case ADIncomplete16BitUUIDs, ADComplete16BitUUIDs:
			for j := 0; j+2 <= len(data); j += 2 {
				f.ServiceUUIDs = append(f.ServiceUUIDs, New16BitUUID(binary.LittleEndian.Uint16(data[j:j+2])))
			}
		case ADIncomplete128BitUUIDs, ADComplete128BitUUIDs:
			for j := 0; j+16 <= len(data); j += 16 {
				var u UUID
				copy(u[:], data[j:j+16])
				f.ServiceUUIDs = append(f.ServiceUUIDs, u)
			}
		case ADShortenedLocalName, ADCompleteLocalName:
			f.LocalName = string(data)
		case ADTxPower:
			if len(data) > 0 {
				p := int8(data[0])
				f.TxPower = &p
			}
		case ADManufacturerData:
			f.ManufacturerData = append([]byte(nil), data...)
		}

		i += l + 1
	}
	return f
}
