package hciuart

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/btforge/bthal"
)

const (
	ogfCommandPos = 10

	ogfLinkCtl     = 0x01
	ogfHostCtl     = 0x03
	ogfInfoParam   = 0x04
	ogfStatusParam = 0x05
	ogfLECtrl      = 0x08

	// ogfHostCtl
	ocfSetEventMask = 0x0001
	ocfReset        = 0x0003

	// ogfInfoParam
	ocfReadBDAddr = 0x0009

	// ogfLECtrl
	ocfLESetEventMask             = 0x0001
	ocfLESetAdvertisingParameters = 0x0006
	ocfLESetAdvertisingData       = 0x0008
	ocfLESetScanResponseData      = 0x0009
	ocfLESetAdvertiseEnable       = 0x000a
	ocfLESetScanParameters        = 0x000b
	ocfLESetScanEnable            = 0x000c

	hciCommandPkt = 0x01
	hciACLDataPkt = 0x02
	hciEventPkt   = 0x04

	evtDisconnComplete = 0x05
	evtCmdComplete     = 0x0e
	evtCmdStatus       = 0x0f
	evtHardwareError   = 0x10
	evtNumCompPkts     = 0x13
	evtLEMetaEvent     = 0x3e

	leMetaEventConnComplete      = 0x01
	leMetaEventAdvertisingReport = 0x02
)

// maxCommandFrame is the largest H4 command frame: the packet type,
// the opcode, a length byte and up to 255 parameter bytes.
const maxCommandFrame = 4 + 255

const cmdTimeout = 3 * time.Second

var (
	errCommandTimeout = errors.New("hciuart: command timed out")
	errClosed         = errors.New("hciuart: transport closed")
)

// advReport is one parsed LE advertising report. The address is in
// display order and the payload is the raw EIR data.
type advReport struct {
	addr bthal.Address
	rssi int8
	eir  []byte
}

type cmdResult struct {
	status byte
	resp   []byte
	err    error
}

type cmdWait struct {
	opcode uint16
	ch     chan cmdResult
}

// hci frames commands onto the serial line and routes the events
// coming back. A reader goroutine owns the receive side; a completion
// event is matched against the single outstanding command by opcode.
type hci struct {
	log  *slog.Logger
	port io.ReadWriteCloser
	pool bthal.BufferPool
	cmd  []byte // command staging buffer, leased from the pool
	done chan struct{}

	cmdMu sync.Mutex // serializes command exchanges

	mu        sync.Mutex
	pending   *cmdWait
	advReport func(advReport)
	closed    bool
}

func newHCI(port io.ReadWriteCloser, pool bthal.BufferPool, log *slog.Logger) (*hci, error) {
	h := &hci{log: log, port: port, pool: pool, done: make(chan struct{})}
	if pool == nil {
		h.cmd = make([]byte, maxCommandFrame)
	} else {
		buf, err := pool.Acquire(maxCommandFrame)
		if err != nil {
			return nil, fmt.Errorf("hciuart: acquire command buffer: %w", err)
		}
		h.cmd = buf
	}
	return h, nil
}

// setAdvReportHandler installs fn to receive advertising reports. A
// nil fn drops them.
func (h *hci) setAdvReportHandler(fn func(advReport)) {
	h.mu.Lock()
	h.advReport = fn
	h.mu.Unlock()
}

func (h *hci) close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.mu.Unlock()

	err := h.port.Close()
	<-h.done
	if h.pool != nil {
		h.pool.Release(h.cmd)
	}
	return err
}

// loop reads H4 frames until the port closes. Events are handled
// inline; ACL data is drained and dropped since no links are ever
// opened.
func (h *hci) loop() {
	defer close(h.done)
	var hdr [4]byte
	buf := make([]byte, 256)
	for {
		if _, err := io.ReadFull(h.port, hdr[:1]); err != nil {
			h.fail(err)
			return
		}
		switch hdr[0] {
		case hciEventPkt:
			if _, err := io.ReadFull(h.port, hdr[1:3]); err != nil {
				h.fail(err)
				return
			}
			plen := int(hdr[2])
			if _, err := io.ReadFull(h.port, buf[:plen]); err != nil {
				h.fail(err)
				return
			}
			h.handleEvent(hdr[1], buf[:plen])
		case hciACLDataPkt:
			if _, err := io.ReadFull(h.port, hdr[:4]); err != nil {
				h.fail(err)
				return
			}
			dlen := int64(binary.LittleEndian.Uint16(hdr[2:4]))
			if _, err := io.CopyN(io.Discard, h.port, dlen); err != nil {
				h.fail(err)
				return
			}
		default:
			// The line is out of sync. Scan forward byte by byte
			// until a frame boundary comes around again.
			h.log.Debug("unexpected hci packet type", "type", hdr[0])
		}
	}
}

// fail tears down after a read error. A closed port during shutdown
// is the expected way out of the loop.
func (h *hci) fail(err error) {
	h.mu.Lock()
	w := h.pending
	h.pending = nil
	closed := h.closed
	h.mu.Unlock()
	if w != nil {
		w.ch <- cmdResult{err: err}
	}
	if !closed {
		h.log.Error("hci transport read failed", "err", err)
	}
}

func (h *hci) handleEvent(evt byte, params []byte) {
	switch evt {
	case evtCmdComplete:
		if len(params) < 4 {
			return
		}
		opcode := binary.LittleEndian.Uint16(params[1:3])
		h.complete(opcode, cmdResult{status: params[3], resp: append([]byte(nil), params[4:]...)})
	case evtCmdStatus:
		if len(params) < 4 {
			return
		}
		opcode := binary.LittleEndian.Uint16(params[2:4])
		h.complete(opcode, cmdResult{status: params[0]})
	case evtLEMetaEvent:
		h.handleLEMeta(params)
	case evtHardwareError:
		var code byte
		if len(params) > 0 {
			code = params[0]
		}
		h.log.Error("controller hardware error", "code", code)
	case evtDisconnComplete, evtNumCompPkts:
		// No links are ever opened; nothing to track.
	default:
		h.log.Debug("unhandled hci event", "event", evt)
	}
}

func (h *hci) handleLEMeta(params []byte) {
	if len(params) == 0 {
		return
	}
	switch params[0] {
	case leMetaEventAdvertisingReport:
		h.handleAdvReport(params)
	default:
		h.log.Debug("unhandled le meta event", "subevent", params[0])
	}
}

// handleAdvReport parses one advertising report event. Controllers
// batch reports rarely, so only the first report of an event is
// taken. Reports with a bad length are dropped.
func (h *hci) handleAdvReport(params []byte) {
	if len(params) < 12 {
		return
	}
	eirLen := int(params[10])
	if eirLen > bthal.MaxEIRLength || 11+eirLen+1 > len(params) {
		return
	}

	var wire bthal.Address
	copy(wire[:], params[4:10])
	r := advReport{
		addr: wire.Reverse(),
		rssi: int8(params[11+eirLen]),
		eir:  append([]byte(nil), params[11:11+eirLen]...),
	}

	h.mu.Lock()
	fn := h.advReport
	h.mu.Unlock()
	if fn != nil {
		fn(r)
	}
}

func (h *hci) complete(opcode uint16, r cmdResult) {
	h.mu.Lock()
	w := h.pending
	if w != nil && w.opcode == opcode {
		h.pending = nil
	} else {
		w = nil
	}
	h.mu.Unlock()
	if w == nil {
		h.log.Debug("completion with no outstanding command", "opcode", fmt.Sprintf("0x%04x", opcode))
		return
	}
	w.ch <- r
}

// sendCommand writes one command frame and waits for its completion
// event. The returned bytes are the completion's return parameters
// after the status byte.
func (h *hci) sendCommand(opcode uint16, params []byte) ([]byte, error) {
	h.cmdMu.Lock()
	defer h.cmdMu.Unlock()

	w := &cmdWait{opcode: opcode, ch: make(chan cmdResult, 1)}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, errClosed
	}
	h.pending = w
	h.mu.Unlock()

	frame := append(h.cmd[:0], hciCommandPkt)
	frame = binary.LittleEndian.AppendUint16(frame, opcode)
	frame = append(frame, byte(len(params)))
	frame = append(frame, params...)
	if _, err := h.port.Write(frame); err != nil {
		h.clearPending(w)
		return nil, fmt.Errorf("hciuart: write command 0x%04x: %w", opcode, err)
	}

	select {
	case r := <-w.ch:
		if r.err != nil {
			return nil, r.err
		}
		if r.status != 0 {
			return nil, fmt.Errorf("hciuart: command 0x%04x failed with status 0x%02x", opcode, r.status)
		}
		return r.resp, nil
	case <-time.After(cmdTimeout):
		h.clearPending(w)
		return nil, errCommandTimeout
	}
}

func (h *hci) clearPending(w *cmdWait) {
	h.mu.Lock()
	if h.pending == w {
		h.pending = nil
	}
	h.mu.Unlock()
}

func (h *hci) reset() error {
	_, err := h.sendCommand(ogfHostCtl<<ogfCommandPos|ocfReset, nil)
	return err
}

func (h *hci) setEventMask(mask uint64) error {
	var p [8]byte
	binary.LittleEndian.PutUint64(p[:], mask)
	_, err := h.sendCommand(ogfHostCtl<<ogfCommandPos|ocfSetEventMask, p[:])
	return err
}

func (h *hci) setLEEventMask(mask uint64) error {
	var p [8]byte
	binary.LittleEndian.PutUint64(p[:], mask)
	_, err := h.sendCommand(ogfLECtrl<<ogfCommandPos|ocfLESetEventMask, p[:])
	return err
}

// readBdAddr reads the controller's public address, converted from
// the wire's LSB first order to display order.
func (h *hci) readBdAddr() (bthal.Address, error) {
	resp, err := h.sendCommand(ogfInfoParam<<ogfCommandPos|ocfReadBDAddr, nil)
	if err != nil {
		return bthal.Address{}, err
	}
	if len(resp) < 6 {
		return bthal.Address{}, errors.New("hciuart: short read bd addr response")
	}
	wire, err := bthal.AddressFromBytes(resp[:6])
	if err != nil {
		return bthal.Address{}, err
	}
	return wire.Reverse(), nil
}

func (h *hci) leSetScanParameters(scanType byte, interval, window uint16) error {
	// Own address public, all advertisers accepted.
	var p [7]byte
	p[0] = scanType
	binary.LittleEndian.PutUint16(p[1:3], interval)
	binary.LittleEndian.PutUint16(p[3:5], window)
	_, err := h.sendCommand(ogfLECtrl<<ogfCommandPos|ocfLESetScanParameters, p[:])
	return err
}

func (h *hci) leSetScanEnable(enabled, filterDuplicates bool) error {
	var p [2]byte
	if enabled {
		p[0] = 1
	}
	if filterDuplicates {
		p[1] = 1
	}
	_, err := h.sendCommand(ogfLECtrl<<ogfCommandPos|ocfLESetScanEnable, p[:])
	return err
}

func (h *hci) leSetAdvertisingParameters(minInterval, maxInterval uint16, advType, channelMap byte) error {
	// Own address public, undirected, no filter policy.
	var p [15]byte
	binary.LittleEndian.PutUint16(p[0:2], minInterval)
	binary.LittleEndian.PutUint16(p[2:4], maxInterval)
	p[4] = advType
	p[13] = channelMap
	_, err := h.sendCommand(ogfLECtrl<<ogfCommandPos|ocfLESetAdvertisingParameters, p[:])
	return err
}

func (h *hci) leSetAdvertisingData(data []byte) error {
	return h.lePayload(ocfLESetAdvertisingData, data)
}

func (h *hci) leSetScanResponseData(data []byte) error {
	return h.lePayload(ocfLESetScanResponseData, data)
}

// lePayload frames one of the fixed 32 byte payload commands: a
// significant length byte followed by the padded payload.
func (h *hci) lePayload(ocf uint16, data []byte) error {
	if len(data) > bthal.MaxEIRLength {
		return fmt.Errorf("hciuart: payload too long: %d bytes", len(data))
	}
	var p [32]byte
	p[0] = byte(len(data))
	copy(p[1:], data)
	_, err := h.sendCommand(ogfLECtrl<<ogfCommandPos|ocf, p[:])
	return err
}

func (h *hci) leSetAdvertiseEnable(enabled bool) error {
	var p [1]byte
	if enabled {
		p[0] = 1
	}
	_, err := h.sendCommand(ogfLECtrl<<ogfCommandPos|ocfLESetAdvertiseEnable, p[:])
	return err
}
