package msc

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/ardnew/usbstore/host/hal"
	"github.com/ardnew/usbstore/pkg"
)

// Command is one SCSI command exchanged over Bulk-Only Transport.
type Command struct {
	LUN       uint8
	CDB       CDB
	Direction Direction
	Data      []byte // Data stage buffer, filled for IN, sent for OUT
}

// Result is the outcome of a completed command exchange.
type Result struct {
	Status      uint8  // CSW status (CSWStatusGood or CSWStatusFailed)
	Residue     uint32 // CSW data residue
	Transferred int    // Bytes moved in the data stage
}

// Transport runs the Bulk-Only Transport protocol on one claimed interface.
//
// A Transport is not safe for concurrent use. The drive that owns it
// serializes every command.
type Transport struct {
	bus     hal.HostHAL
	id      hal.InterfaceID
	epIn    uint8
	epOut   uint8
	timeout time.Duration

	tag        uint32
	pendingTag uint32
	pendingLen uint32
	unusable   bool

	// Buffers (zero-allocation pattern)
	cbwBuf [CBWSize]byte
	cswBuf [CSWSize]byte
	lunBuf [1]byte
}

// NewTransport creates a transport for the bulk endpoints of info. The
// interface must already be claimed.
func NewTransport(bus hal.HostHAL, info *hal.InterfaceInfo) *Transport {
	return &Transport{
		bus:     bus,
		id:      info.ID,
		epIn:    info.BulkIn,
		epOut:   info.BulkOut,
		timeout: DefaultTimeout,
		tag:     rand.Uint32(),
	}
}

// ID returns the interface the transport runs on.
func (t *Transport) ID() hal.InterfaceID { return t.id }

// SetTimeout sets the limit applied to each individual transfer.
func (t *Transport) SetTimeout(d time.Duration) {
	if d > 0 {
		t.timeout = d
	}
}

// Timeout returns the per-transfer limit.
func (t *Transport) Timeout() time.Duration { return t.timeout }

// Usable reports whether the transport survived every recovery so far.
func (t *Transport) Usable() bool { return !t.unusable }

// =============================================================================
// Protocol Phases
// =============================================================================

// SendCommand sends a CBW for cdb and returns its tag. length is the number
// of bytes the data stage will move in direction dir.
func (t *Transport) SendCommand(ctx context.Context, lun uint8, cdb []byte, dir Direction, length uint32) (uint32, error) {
	if t.unusable {
		return 0, pkg.ErrUnusable
	}
	if len(cdb) == 0 || len(cdb) > CBWMaxCBLength || lun >= MaxLUNs {
		return 0, pkg.ErrInvalidParameter
	}

	t.tag++
	cbw := NewCBW(t.tag, lun, cdb, dir, length)
	n := cbw.MarshalTo(t.cbwBuf[:])

	sent, err := t.bulk(ctx, t.epOut, t.cbwBuf[:n])
	if err != nil {
		return 0, fmt.Errorf("CBW: %w", err)
	}
	if sent != CBWSize {
		return 0, fmt.Errorf("%w: CBW sent %d of %d bytes", pkg.ErrProtocol, sent, CBWSize)
	}

	t.pendingTag, t.pendingLen = cbw.Tag, length
	pkg.LogDebug(pkg.ComponentTransport, "CBW sent",
		"interface", t.id,
		"tag", cbw.Tag,
		"lun", lun,
		"opcode", cdb[0],
		"length", length,
		"dir", dir)
	return cbw.Tag, nil
}

// TransferData runs the data stage of the pending command.
func (t *Transport) TransferData(ctx context.Context, dir Direction, buf []byte) (int, error) {
	if t.unusable {
		return 0, pkg.ErrUnusable
	}
	switch dir {
	case DirectionIn:
		return t.bulk(ctx, t.epIn, buf)
	case DirectionOut:
		return t.bulk(ctx, t.epOut, buf)
	}
	return 0, nil
}

// ReceiveStatus reads and validates the CSW of the pending command. A stalled
// IN pipe is cleared and the read repeated once.
func (t *Transport) ReceiveStatus(ctx context.Context) (CommandStatusWrapper, error) {
	var csw CommandStatusWrapper
	if t.unusable {
		return csw, pkg.ErrUnusable
	}

	n, err := t.bulk(ctx, t.epIn, t.cswBuf[:])
	if errors.Is(err, pkg.ErrStall) {
		if err := t.ClearStall(ctx, t.epIn); err != nil {
			return csw, err
		}
		n, err = t.bulk(ctx, t.epIn, t.cswBuf[:])
	}
	if err != nil {
		return csw, fmt.Errorf("CSW: %w", err)
	}

	if !ParseCSW(t.cswBuf[:n], &csw) {
		return csw, fmt.Errorf("%w: CSW length %d", pkg.ErrPhase, n)
	}
	if err := csw.Validate(t.pendingTag, t.pendingLen); err != nil {
		return csw, err
	}

	pkg.LogDebug(pkg.ComponentTransport, "CSW received",
		"interface", t.id,
		"tag", csw.Tag,
		"status", csw.Status,
		"residue", csw.DataResidue)
	return csw, nil
}

// ClearStall clears the halt condition on endpoint.
func (t *Transport) ClearStall(ctx context.Context, endpoint uint8) error {
	setup := hal.ClearHaltSetup(endpoint)
	if _, err := t.control(ctx, &setup, nil); err != nil {
		return fmt.Errorf("clear halt 0x%02X: %w", endpoint, err)
	}
	return nil
}

// =============================================================================
// Class Requests
// =============================================================================

// GetMaxLUN returns the highest logical unit number of the interface. Devices
// that stall the request, or answer out of range, have a single unit.
func (t *Transport) GetMaxLUN(ctx context.Context) (uint8, error) {
	setup := hal.SetupPacket{
		RequestType: hal.RequestTypeIn | hal.RequestTypeClass | hal.RequestTypeInterface,
		Request:     RequestGetMaxLUN,
		Index:       uint16(t.id.Interface()),
		Length:      1,
	}
	n, err := t.control(ctx, &setup, t.lunBuf[:])
	switch {
	case errors.Is(err, pkg.ErrStall):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("get max LUN: %w", err)
	case n < 1 || t.lunBuf[0] >= MaxLUNs:
		return 0, nil
	}
	return t.lunBuf[0], nil
}

// BulkOnlyReset issues the Bulk-Only Mass Storage Reset class request.
func (t *Transport) BulkOnlyReset(ctx context.Context) error {
	setup := hal.SetupPacket{
		RequestType: hal.RequestTypeOut | hal.RequestTypeClass | hal.RequestTypeInterface,
		Request:     RequestBulkOnlyMassStorageReset,
		Index:       uint16(t.id.Interface()),
	}
	if _, err := t.control(ctx, &setup, nil); err != nil {
		return fmt.Errorf("bulk-only reset: %w", err)
	}
	return nil
}

// ResetRecovery runs the Bulk-Only reset recovery sequence: mass storage
// reset, then clear halt on both bulk pipes.
func (t *Transport) ResetRecovery(ctx context.Context) error {
	if err := t.BulkOnlyReset(ctx); err != nil {
		return err
	}
	if err := t.ClearStall(ctx, t.epIn); err != nil {
		return err
	}
	return t.ClearStall(ctx, t.epOut)
}

// ResetDevice resets the device through the bus.
func (t *Transport) ResetDevice(ctx context.Context) error {
	rctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	if err := t.bus.ResetDevice(rctx, t.id); err != nil {
		return fmt.Errorf("bus reset: %w", t.mapErr(ctx, err))
	}
	return nil
}

// =============================================================================
// Command Execution
// =============================================================================

// Execute runs a full command exchange. A transport fault clears both pipes
// and retries once; a second fault runs reset recovery, escalating to a bus
// reset. When the bus reset also fails the transport becomes unusable and
// every later call fails with pkg.ErrUnusable.
func (t *Transport) Execute(ctx context.Context, cmd *Command) (Result, error) {
	if t.unusable {
		return Result{}, pkg.ErrUnusable
	}

	res, err := t.exchange(ctx, cmd)
	if !t.recoverable(ctx, err) {
		return res, err
	}

	pkg.LogWarn(pkg.ComponentTransport, "command failed, retrying",
		"interface", t.id,
		"opcode", cmd.CDB.Opcode(),
		"error", err)

	if cerr := t.clearHalts(ctx); cerr == nil {
		res, err = t.exchange(ctx, cmd)
		if !t.recoverable(ctx, err) {
			return res, err
		}
	}

	if rerr := t.recover(ctx); rerr != nil {
		t.unusable = true
		pkg.LogError(pkg.ComponentTransport, "recovery failed, transport unusable",
			"interface", t.id,
			"error", rerr)
		return res, fmt.Errorf("%w: %w", pkg.ErrUnusable, err)
	}
	return res, err
}

// exchange runs the command, data and status phases once.
func (t *Transport) exchange(ctx context.Context, cmd *Command) (Result, error) {
	var res Result

	length := uint32(len(cmd.Data))
	dir := cmd.Direction
	if length == 0 {
		dir = DirectionNone
	}

	if _, err := t.SendCommand(ctx, cmd.LUN, cmd.CDB.Bytes(), dir, length); err != nil {
		return res, err
	}

	if dir != DirectionNone {
		n, err := t.TransferData(ctx, dir, cmd.Data)
		res.Transferred = n
		if err != nil {
			if !errors.Is(err, pkg.ErrStall) {
				return res, fmt.Errorf("data %s: %w", dir, err)
			}
			// A stalled data stage is terminated by the device; the status
			// still follows once the pipe is cleared.
			ep := t.epIn
			if dir == DirectionOut {
				ep = t.epOut
			}
			if err := t.ClearStall(ctx, ep); err != nil {
				return res, err
			}
		}
	}

	csw, err := t.ReceiveStatus(ctx)
	if err != nil {
		return res, err
	}
	res.Status = csw.Status
	res.Residue = csw.DataResidue
	return res, nil
}

func (t *Transport) recoverable(ctx context.Context, err error) bool {
	return err != nil && ctx.Err() == nil && pkg.IsTransportFault(err)
}

func (t *Transport) clearHalts(ctx context.Context) error {
	if err := t.ClearStall(ctx, t.epIn); err != nil {
		return err
	}
	return t.ClearStall(ctx, t.epOut)
}

// recover escalates from Bulk-Only reset recovery to a bus reset.
func (t *Transport) recover(ctx context.Context) error {
	err := t.ResetRecovery(ctx)
	if err == nil {
		return nil
	}
	pkg.LogWarn(pkg.ComponentTransport, "reset recovery failed, resetting device",
		"interface", t.id,
		"error", err)
	if err := t.ResetDevice(ctx); err != nil {
		return err
	}
	return t.ResetRecovery(ctx)
}

// =============================================================================
// HAL Access
// =============================================================================

func (t *Transport) bulk(ctx context.Context, ep uint8, buf []byte) (int, error) {
	tctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	n, err := t.bus.BulkTransfer(tctx, t.id, ep, buf)
	return n, t.mapErr(ctx, err)
}

func (t *Transport) control(ctx context.Context, setup *hal.SetupPacket, data []byte) (int, error) {
	tctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	n, err := t.bus.ControlTransfer(tctx, t.id, setup, data)
	return n, t.mapErr(ctx, err)
}

// mapErr reports expiry of the per-transfer deadline as pkg.ErrTimeout while
// leaving cancellation of the caller's context untouched.
func (t *Transport) mapErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, pkg.ErrTimeout) {
		return fmt.Errorf("%w: %w", pkg.ErrTimeout, err)
	}
	return err
}
