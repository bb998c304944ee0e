package hciuart

import (
	"encoding/binary"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/btforge/bthal"
)

// pipePort is an in-memory serial port. The test reads command frames
// the stack writes and feeds event frames to the reader loop.
type pipePort struct {
	rd     *io.PipeReader
	wr     *io.PipeWriter
	frames chan []byte
}

func newPipePort() *pipePort {
	rd, wr := io.Pipe()
	return &pipePort{rd: rd, wr: wr, frames: make(chan []byte, 8)}
}

func (p *pipePort) Read(buf []byte) (int, error) { return p.rd.Read(buf) }

func (p *pipePort) Write(buf []byte) (int, error) {
	p.frames <- append([]byte(nil), buf...)
	return len(buf), nil
}

func (p *pipePort) Close() error {
	p.wr.Close()
	return p.rd.Close()
}

func (p *pipePort) feed(t *testing.T, evt byte, params []byte) {
	t.Helper()
	frame := append([]byte{hciEventPkt, evt, byte(len(params))}, params...)
	if _, err := p.wr.Write(frame); err != nil {
		t.Fatalf("feed event: %v", err)
	}
}

func testHCI(t *testing.T) (*hci, *pipePort) {
	t.Helper()
	port := newPipePort()
	h, err := newHCI(port, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	go h.loop()
	t.Cleanup(func() { h.close() })
	return h, port
}

func TestCommandExchange(t *testing.T) {
	h, port := testHCI(t)

	done := make(chan error, 1)
	go func() { done <- h.reset() }()

	frame := <-port.frames
	require.Equal(t, []byte{hciCommandPkt, 0x03, 0x0c, 0x00}, frame)

	// Command Complete: one credit, the echoed opcode, success.
	port.feed(t, evtCmdComplete, []byte{0x01, 0x03, 0x0c, 0x00})
	require.NoError(t, <-done)
}

func TestCommandFailureStatus(t *testing.T) {
	h, port := testHCI(t)

	done := make(chan error, 1)
	go func() { done <- h.setEventMask(0x3FFFFFFFFFFFFFFF) }()

	frame := <-port.frames
	require.Equal(t, byte(hciCommandPkt), frame[0])
	require.Equal(t, uint16(ogfHostCtl<<ogfCommandPos|ocfSetEventMask), binary.LittleEndian.Uint16(frame[1:3]))
	require.Equal(t, byte(8), frame[3])
	require.Len(t, frame, 4+8)

	// Command disallowed.
	port.feed(t, evtCmdComplete, []byte{0x01, frame[1], frame[2], 0x0c})
	err := <-done
	require.Error(t, err)
	require.Contains(t, err.Error(), "0x0c")
}

func TestReadBdAddrByteOrder(t *testing.T) {
	h, port := testHCI(t)

	type result struct {
		addr bthal.Address
		err  error
	}
	done := make(chan result, 1)
	go func() {
		addr, err := h.readBdAddr()
		done <- result{addr, err}
	}()

	frame := <-port.frames
	require.Equal(t, uint16(ogfInfoParam<<ogfCommandPos|ocfReadBDAddr), binary.LittleEndian.Uint16(frame[1:3]))

	// Status, then the address LSB first.
	port.feed(t, evtCmdComplete, []byte{0x01, frame[1], frame[2], 0x00, 0xF0, 0xDE, 0xBC, 0x9A, 0x78, 0x56})
	r := <-done
	require.NoError(t, r.err)
	require.Equal(t, "56:78:9A:BC:DE:F0", r.addr.String())
}

func TestAdvertisingPayloadCommandFraming(t *testing.T) {
	h, port := testHCI(t)

	done := make(chan error, 1)
	go func() { done <- h.leSetAdvertisingData([]byte{0x02, 0x01, 0x06}) }()

	frame := <-port.frames
	require.Equal(t, uint16(ogfLECtrl<<ogfCommandPos|ocfLESetAdvertisingData), binary.LittleEndian.Uint16(frame[1:3]))
	// A fixed 32 byte parameter block: significant length, payload,
	// zero padding.
	require.Equal(t, byte(32), frame[3])
	require.Equal(t, byte(3), frame[4])
	require.Equal(t, []byte{0x02, 0x01, 0x06}, frame[5:8])
	for _, pad := range frame[8:] {
		require.Zero(t, pad)
	}

	port.feed(t, evtCmdComplete, []byte{0x01, frame[1], frame[2], 0x00})
	require.NoError(t, <-done)

	require.Error(t, h.leSetAdvertisingData(make([]byte, 32)))
}

func TestAdvertisingReportParsing(t *testing.T) {
	h, port := testHCI(t)

	reports := make(chan advReport, 2)
	h.setAdvReportHandler(func(r advReport) { reports <- r })

	// A report claiming 31 bytes of EIR but carrying none is dropped.
	port.feed(t, evtLEMetaEvent, []byte{
		leMetaEventAdvertisingReport, 0x01, 0x00, 0x00,
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x1F,
	})

	eir := []byte{0x02, 0x01, 0x06, 0x05, 0x09, 'b', 'o', 'o', 'p'}
	params := []byte{
		leMetaEventAdvertisingReport, 0x01, 0x00, 0x00,
		0xF0, 0xDE, 0xBC, 0x9A, 0x78, 0x56, byte(len(eir)),
	}
	params = append(params, eir...)
	params = append(params, 0xC0) // -64 dBm
	port.feed(t, evtLEMetaEvent, params)

	select {
	case r := <-reports:
		require.Equal(t, "56:78:9A:BC:DE:F0", r.addr.String())
		require.Equal(t, int8(-64), r.rssi)
		require.Equal(t, eir, r.eir)
	case <-time.After(time.Second):
		t.Fatal("no advertising report delivered")
	}
	require.Empty(t, reports)
}
