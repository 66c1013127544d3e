// Package socketcan implements model.Source over a Linux SocketCAN raw
// socket, the spec §6 "real-time mode" frame source. Grounded on
// golang.org/x/sys/unix's SocketCAN bind/read pattern
// (backend/internal/can/reader.go in the retrieved CAN-bus example).
package socketcan

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/navispectra/canids/internal/model"
)

// canFrameLen is the wire size of struct can_frame: 4-byte ID, 1-byte
// DLC, 3 bytes padding, 8 bytes data.
const canFrameLen = 16

// canErrFlag marks an error frame in the ID field's top bits; frames
// carrying it are not detection-core input.
const canErrFlag = 0x20000000

// Source reads frames from a bound SocketCAN interface.
type Source struct {
	fd     int
	ifname string
}

// New opens a CAN_RAW socket and binds it to ifname (e.g. "can0").
func New(ifname string) (*Source, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("%w: opening CAN_RAW socket: %v", model.ErrSourceError, err)
	}

	ifreq, err := unix.NewIfreq(ifname)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: building ifreq for %s: %v", model.ErrSourceError, ifname, err)
	}
	if err := unix.IoctlIfreq(fd, unix.SIOCGIFINDEX, ifreq); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: resolving interface index for %s: %v", model.ErrSourceError, ifname, err)
	}

	addr := &unix.SockaddrCAN{Ifindex: int(ifreq.Uint32())}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: binding to %s: %v", model.ErrSourceError, ifname, err)
	}

	return &Source{fd: fd, ifname: ifname}, nil
}

// Next blocks up to 1ms waiting for a frame (spec §5: "the source may
// yield control (wait up to 1ms) if no frame is available"), then
// reads and decodes one struct can_frame.
func (s *Source) Next(ctx context.Context) (model.Frame, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.Frame{}, false, err
	}

	fdSet := &unix.FdSet{}
	fdSet.Set(s.fd)
	timeout := unix.Timeval{Usec: 1000}

	n, err := unix.Select(s.fd+1, fdSet, nil, nil, &timeout)
	if err != nil {
		return model.Frame{}, false, fmt.Errorf("%w: select on %s: %v", model.ErrSourceError, s.ifname, err)
	}
	if n == 0 {
		return model.Frame{}, false, nil
	}

	buf := make([]byte, canFrameLen)
	nread, err := unix.Read(s.fd, buf)
	if err != nil {
		return model.Frame{}, false, fmt.Errorf("%w: reading from %s: %v", model.ErrSourceError, s.ifname, err)
	}
	if nread < canFrameLen {
		return model.Frame{}, false, fmt.Errorf("%w: short read (%d bytes) from %s", model.ErrMalformedFrame, nread, s.ifname)
	}

	rawID := binary.LittleEndian.Uint32(buf[0:4])
	if rawID&canErrFlag != 0 {
		return model.Frame{}, false, nil
	}

	dlc := buf[4]
	frame := model.Frame{
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
		CANID:     rawID & 0x1FFFFFFF,
		DLC:       dlc,
		Payload:   append([]byte(nil), buf[8:8+min(int(dlc), 8)]...),
	}
	return frame, true, nil
}

// Close releases the socket.
func (s *Source) Close() error {
	return unix.Close(s.fd)
}
