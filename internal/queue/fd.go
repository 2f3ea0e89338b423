package queue

import (
	"errors"
	"io"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// errStopped is returned by fdConn when the queue is shutting down while an
// operation was waiting for the descriptor.
var errStopped = errors.New("queue: stopped")

// Event is the result of polling a queue's descriptor.
type Event int

const (
	// EventNone means the poll bound elapsed with nothing to report.
	EventNone Event = iota
	// EventRead means data is available.
	EventRead
	// EventHup means the peer closed its end.
	EventHup
	// EventError means the descriptor is in an error state.
	EventError
)

func (e Event) String() string {
	switch e {
	case EventNone:
		return "none"
	case EventRead:
		return "read"
	case EventHup:
		return "hup"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// pollFD waits up to timeout for fd to become readable or report a hang-up.
// Readable data wins over a simultaneous hang-up so that the last frames a
// peer wrote before exiting are still delivered; the hang-up is seen on the
// following call once the pipe is drained.
func pollFD(fd int, timeout time.Duration) (Event, error) {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	ms := int(timeout / time.Millisecond)
	if timeout > 0 && ms == 0 {
		ms = 1
	}
	for {
		n, err := unix.Poll(fds, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return EventError, os.NewSyscallError("poll", err)
		}
		if n == 0 {
			return EventNone, nil
		}
		rev := fds[0].Revents
		switch {
		case rev&unix.POLLIN != 0:
			return EventRead, nil
		case rev&unix.POLLHUP != 0:
			return EventHup, nil
		case rev&(unix.POLLERR|unix.POLLNVAL) != 0:
			return EventError, nil
		}
		return EventNone, nil
	}
}

// fdConn adapts a non-blocking descriptor to io.Reader and io.Writer.
// Interrupted calls are retried; would-block waits in poll for at most bound
// at a time so that a closed done channel is noticed promptly.
type fdConn struct {
	fd    int
	done  <-chan struct{}
	bound time.Duration
}

func (c *fdConn) Read(p []byte) (int, error) {
	for {
		n, err := unix.Read(c.fd, p)
		switch {
		case err == nil:
			if n == 0 && len(p) > 0 {
				return 0, io.EOF
			}
			return n, nil
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			if err := c.wait(unix.POLLIN); err != nil {
				return 0, err
			}
		default:
			return 0, os.NewSyscallError("read", err)
		}
	}
}

// Write loops until all of p has been written.
func (c *fdConn) Write(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		n, err := unix.Write(c.fd, p[written:])
		if n > 0 {
			written += n
		}
		switch {
		case err == nil:
		case err == unix.EINTR:
		case err == unix.EAGAIN:
			if err := c.wait(unix.POLLOUT); err != nil {
				return written, err
			}
		default:
			return written, os.NewSyscallError("write", err)
		}
	}
	return written, nil
}

// wait blocks until fd reports any of events, an error condition, or done
// is closed.
func (c *fdConn) wait(events int16) error {
	fds := []unix.PollFd{{Fd: int32(c.fd), Events: events}}
	ms := int(c.bound / time.Millisecond)
	if ms <= 0 {
		ms = 1
	}
	for {
		select {
		case <-c.done:
			return errStopped
		default:
		}
		n, err := unix.Poll(fds, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return os.NewSyscallError("poll", err)
		}
		if n > 0 {
			// Readiness, POLLHUP or POLLERR: the next read or write reports
			// which one it was.
			return nil
		}
	}
}

// readable reports whether more data can be read without waiting.
func (c *fdConn) readable() bool {
	ev, err := pollFD(c.fd, 0)
	return err == nil && ev == EventRead
}

// openFIFO opens path for the given access mode and returns a non-blocking,
// close-on-exec descriptor. The open itself blocks until the peer opens the
// other end, as FIFOs do.
func openFIFO(path string, mode int) (int, error) {
	for {
		fd, err := unix.Open(path, mode|unix.O_CLOEXEC, 0)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return -1, &os.PathError{Op: "open", Path: path, Err: err}
		}
		if err := unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(fd)
			return -1, os.NewSyscallError("setnonblock", err)
		}
		return fd, nil
	}
}

// adoptFD prepares an externally supplied descriptor for use by a queue.
func adoptFD(fd int) error {
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC); err != nil {
		return os.NewSyscallError("fcntl", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return os.NewSyscallError("setnonblock", err)
	}
	return nil
}
