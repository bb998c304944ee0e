//go:build linux

package bluez

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/require"

	"github.com/btforge/bthal"
)

func TestAddrFromPath(t *testing.T) {
	addr, ok := addrFromPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF")
	require.True(t, ok)
	require.Equal(t, "AA:BB:CC:DD:EE:FF", addr.String())

	addr, ok = addrFromPath("/org/bluez/hci0/dev_00_1B_44_11_3A_B7/fd0")
	require.True(t, ok)
	require.Equal(t, "00:1B:44:11:3A:B7", addr.String())

	_, ok = addrFromPath("/org/bluez/hci0")
	require.False(t, ok)

	_, ok = addrFromPath("/org/bluez/hci0/dev_XX_YY_ZZ_00_11_22")
	require.False(t, ok)
}

func TestAttrFromTail(t *testing.T) {
	handle, kind, ok := attrFromTail("char000b")
	require.True(t, ok)
	require.Equal(t, bthal.AttrHandle(0x000b), handle)
	require.Equal(t, "char", kind)

	handle, kind, ok = attrFromTail("service0001")
	require.True(t, ok)
	require.Equal(t, bthal.AttrHandle(1), handle)
	require.Equal(t, "service", kind)

	handle, kind, ok = attrFromTail("desc0102")
	require.True(t, ok)
	require.Equal(t, bthal.AttrHandle(0x0102), handle)
	require.Equal(t, "desc", kind)

	_, _, ok = attrFromTail("player0")
	require.False(t, ok)

	_, _, ok = attrFromTail("charzz")
	require.False(t, ok)
}

func TestCharacteristicFlagRoundTrip(t *testing.T) {
	require.Equal(t, []string{"read", "write", "notify"}, propFlags(0x1a))
	require.Equal(t, uint8(0x1a), charProperties(propFlags(0x1a)))
	require.Equal(t, uint8(0xff), charProperties(propFlags(0xff)))
	require.Empty(t, propFlags(0))
	require.Zero(t, charProperties([]string{"reliable-write"}))
}

func TestDescriptorFlags(t *testing.T) {
	require.Equal(t, []string{"read"}, descFlags(0x0001))
	require.Equal(t, []string{"encrypt-authenticated-read", "write"}, descFlags(0x0004|0x0010))
	require.Equal(t, []string{"encrypt-read", "encrypt-write"}, descFlags(0x0002|0x0020))

	// A descriptor with no declared permissions still has to be
	// readable for discovery to work.
	require.Equal(t, []string{"read"}, descFlags(0))
}

func TestPassthroughMethod(t *testing.T) {
	method, ok := passthroughMethod(bthal.KeyPlay, bthal.KeyPressed)
	require.True(t, ok)
	require.Equal(t, "org.bluez.MediaPlayer1.Play", method)

	method, ok = passthroughMethod(bthal.KeyFastFwd, bthal.KeyPressed)
	require.True(t, ok)
	require.Equal(t, "org.bluez.MediaPlayer1.FastForward", method)

	// Seek keys act while held; the release resumes playback.
	method, ok = passthroughMethod(bthal.KeyRewind, bthal.KeyReleased)
	require.True(t, ok)
	require.Equal(t, "org.bluez.MediaPlayer1.Play", method)

	_, ok = passthroughMethod(bthal.KeyPlay, bthal.KeyReleased)
	require.False(t, ok)

	_, ok = passthroughMethod(bthal.PassthroughKey(0xEE), bthal.KeyPressed)
	require.False(t, ok)
}

func TestWindow(t *testing.T) {
	paths := []string{"a", "b", "c", "d", "e"}
	require.Equal(t, []string{"b", "c"}, window(paths, 1, 2))
	require.Equal(t, []string{"d", "e"}, window(paths, 3, 0))
	require.Equal(t, []string{"e"}, window(paths, 4, 10))
	require.Nil(t, window(paths, 5, 2))
}

func TestTrackAttrs(t *testing.T) {
	track := map[string]dbus.Variant{
		"Title":       dbus.MakeVariant("Boops"),
		"Artist":      dbus.MakeVariant("The Thuds"),
		"Album":       dbus.MakeVariant(""),
		"TrackNumber": dbus.MakeVariant(uint32(7)),
		"Duration":    dbus.MakeVariant(int32(214000)),
	}
	attrs := trackAttrs(track)

	byID := make(map[uint32]string, len(attrs))
	for _, a := range attrs {
		byID[a.ID] = a.Text
	}
	require.Equal(t, "Boops", byID[bthal.AttrTitle])
	require.Equal(t, "The Thuds", byID[bthal.AttrArtist])
	require.Equal(t, "7", byID[bthal.AttrTrackNum])
	require.Equal(t, "214000", byID[bthal.AttrPlayingTime])

	// Empty strings are dropped rather than reported as attributes.
	_, ok := byID[bthal.AttrAlbum]
	require.False(t, ok)
}

func TestPlayStatusFrom(t *testing.T) {
	require.Equal(t, bthal.PlayStatusPlaying, playStatusFrom("playing"))
	require.Equal(t, bthal.PlayStatusPaused, playStatusFrom("paused"))
	require.Equal(t, bthal.PlayStatusRevSeek, playStatusFrom("reverse-seek"))
	require.Equal(t, bthal.PlayStatusError, playStatusFrom("warbling"))
}

func TestRepeatShuffleMappings(t *testing.T) {
	for _, v := range []uint8{bthal.RepeatSingle, bthal.RepeatAll, bthal.RepeatGroup} {
		require.Equal(t, v, repeatValue(repeatName(v)))
	}
	require.Equal(t, "off", repeatName(bthal.RepeatOff))
	require.Equal(t, bthal.RepeatOff, repeatValue("sideways"))

	for _, v := range []uint8{bthal.ShuffleAll, bthal.ShuffleGroup} {
		require.Equal(t, v, shuffleValue(shuffleName(v)))
	}
	require.Equal(t, bthal.ShuffleOff, shuffleValue("off"))
}

func TestVariantCoercions(t *testing.T) {
	props := map[string]dbus.Variant{
		"S":   dbus.MakeVariant("x"),
		"B":   dbus.MakeVariant(true),
		"U32": dbus.MakeVariant(uint32(9)),
		"I32": dbus.MakeVariant(int32(9)),
		"U16": dbus.MakeVariant(uint16(9)),
	}

	s, ok := varString(props, "S")
	require.True(t, ok)
	require.Equal(t, "x", s)
	_, ok = varString(props, "B")
	require.False(t, ok)

	b, ok := varBool(props, "B")
	require.True(t, ok)
	require.True(t, b)

	for _, key := range []string{"U32", "I32", "U16"} {
		n, ok := varUint32(props, key)
		require.True(t, ok, key)
		require.Equal(t, uint32(9), n, key)
	}
	_, ok = varUint32(props, "S")
	require.False(t, ok)
	_, ok = varUint32(props, "missing")
	require.False(t, ok)
}

func TestMediaUIDsAreStable(t *testing.T) {
	p := &playerState{
		uids:  make(map[dbus.ObjectPath]bthal.MediaUID),
		paths: make(map[bthal.MediaUID]dbus.ObjectPath),
	}

	first := p.uidFor("/org/bluez/hci0/dev_X/player0/item1")
	second := p.uidFor("/org/bluez/hci0/dev_X/player0/item2")
	require.NotEqual(t, first, second)
	require.Equal(t, first, p.uidFor("/org/bluez/hci0/dev_X/player0/item1"))
	require.Equal(t, bthal.MediaUID{0, 0, 0, 0, 0, 0, 0, 1}, first)
}
