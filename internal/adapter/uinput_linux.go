//go:build linux

package adapter

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Kernel input constants (linux/input-event-codes.h, linux/uinput.h).
const (
	evSyn     = 0x00
	evKey     = 0x01
	synReport = 0x00

	keyLeftCtrl = 29
	keyV        = 47

	uiSetEvbit   = 0x40045564
	uiSetKeybit  = 0x40045565
	uiDevSetup   = 0x405c5503
	uiDevCreate  = 0x5501
	uiDevDestroy = 0x5502
)

// uinputSetup mirrors struct uinput_setup: input_id + name[80] + ff_effects_max.
type uinputSetup struct {
	id           [4]uint16
	name         [80]byte
	ffEffectsMax uint32
}

// uinputPaste creates a transient virtual keyboard on /dev/uinput and taps
// Ctrl+V. This is the only input path that works under Wayland, where the
// compositor rejects synthetic input from ordinary clients. Requires write
// access to /dev/uinput (typically the input group or a udev rule).
func uinputPaste(ctx context.Context) error {
	f, err := os.OpenFile("/dev/uinput", os.O_WRONLY, 0)
	if err != nil {
		if os.IsPermission(err) {
			return fmt.Errorf("%w: /dev/uinput: %v", ErrPermission, err)
		}
		return fmt.Errorf("open /dev/uinput: %w", err)
	}
	defer f.Close()
	fd := f.Fd()

	if err := ioctlInt(fd, uiSetEvbit, evKey); err != nil {
		return fmt.Errorf("uinput EV_KEY: %w", err)
	}
	for _, code := range []int{keyLeftCtrl, keyV} {
		if err := ioctlInt(fd, uiSetKeybit, code); err != nil {
			return fmt.Errorf("uinput keybit %d: %w", code, err)
		}
	}

	setup := uinputSetup{id: [4]uint16{0x03, 0x1234, 0x5678, 0x0001}}
	copy(setup.name[:], "clipvault-paste")
	if err := ioctlPtr(fd, uiDevSetup, unsafe.Pointer(&setup)); err != nil {
		return fmt.Errorf("uinput setup: %w", err)
	}
	if err := ioctlInt(fd, uiDevCreate, 0); err != nil {
		return fmt.Errorf("uinput create: %w", err)
	}
	defer func() { _ = ioctlInt(fd, uiDevDestroy, 0) }()

	// The compositor needs a moment to pick up the new device before it
	// will route events from it.
	if err := sleepCtx(ctx, 100*time.Millisecond); err != nil {
		return err
	}

	chord := []struct {
		code  uint16
		value int32
	}{
		{keyLeftCtrl, 1},
		{keyV, 1},
		{keyV, 0},
		{keyLeftCtrl, 0},
	}
	for _, k := range chord {
		if err := emit(f, evKey, k.code, k.value); err != nil {
			return err
		}
		if err := emit(f, evSyn, synReport, 0); err != nil {
			return err
		}
		if err := sleepCtx(ctx, 25*time.Millisecond); err != nil {
			return err
		}
	}
	return nil
}

// emit writes one struct input_event. The leading struct timeval is left
// zero; the kernel timestamps uinput events itself.
func emit(f *os.File, typ, code uint16, value int32) error {
	var ev [24]byte
	binary.LittleEndian.PutUint16(ev[16:18], typ)
	binary.LittleEndian.PutUint16(ev[18:20], code)
	binary.LittleEndian.PutUint32(ev[20:24], uint32(value))
	if _, err := f.Write(ev[:]); err != nil {
		return fmt.Errorf("uinput write: %w", err)
	}
	return nil
}

func ioctlInt(fd uintptr, req uint, arg int) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, uintptr(req), uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func ioctlPtr(fd uintptr, req uint, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, uintptr(req), uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
