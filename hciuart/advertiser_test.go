package hciuart

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/btforge/bthal"
)

func TestAdvertisingPayloadAssembly(t *testing.T) {
	b := &advertiserBoundary{s: &Stack{name: "boop"}}

	data := bthal.AdvertiseData{
		IncludeName:      true,
		IncludeTxPower:   true,
		Appearance:       0x03C0,
		ManufacturerData: []byte{0xE0, 0x00, 0x01},
		ServiceData:      []byte{0x0F, 0x18, 0x64},
		ServiceUUID:      bthal.New16BitUUID(0x180F).Bytes(),
	}
	raw, err := b.payload(data, bthal.AdvertiseParams{TxPower: 4}, true)
	require.NoError(t, err)
	require.LessOrEqual(t, len(raw), bthal.MaxEIRLength)

	f := bthal.ExtractAdvertisement(raw)
	require.Equal(t, uint8(0x06), f.Flags)
	require.Equal(t, "boop", f.LocalName)
	require.Len(t, f.ServiceUUIDs, 1)
	require.True(t, f.ServiceUUIDs[0].Is16Bit())
	require.Equal(t, uint16(0x180F), f.ServiceUUIDs[0].Get16Bit())
	require.NotNil(t, f.TxPower)
	require.Equal(t, int8(4), *f.TxPower)
	require.Equal(t, []byte{0xE0, 0x00, 0x01}, f.ManufacturerData)
}

func TestScanResponsePayloadCarriesNoFlags(t *testing.T) {
	b := &advertiserBoundary{s: &Stack{name: "boop"}}

	raw, err := b.payload(bthal.AdvertiseData{IncludeName: true}, bthal.AdvertiseParams{}, false)
	require.NoError(t, err)
	require.Equal(t, byte(len("boop")+1), raw[0])
	require.Equal(t, byte(bthal.ADCompleteLocalName), raw[1])
	require.Equal(t, "boop", string(raw[2:]))
}

func TestOversizedPayloadRejected(t *testing.T) {
	b := &advertiserBoundary{s: &Stack{}}

	_, err := b.payload(bthal.AdvertiseData{ManufacturerData: make([]byte, 30)}, bthal.AdvertiseParams{}, true)
	require.Error(t, err)
}

func TestIntervalClamping(t *testing.T) {
	require.Equal(t, uint16(0), clampInterval(0))
	require.Equal(t, uint16(0x0020), clampInterval(5))
	require.Equal(t, uint16(0x00A0), clampInterval(bthal.NewAdvertiseInterval(100)))
	require.Equal(t, uint16(0x4000), clampInterval(0x9000))
}
