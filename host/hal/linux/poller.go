//go:build linux

package linux

import (
	"errors"
	"sync"

	"golang.org/x/sys/unix"
)

// pollDesc describes a file descriptor being polled.
type pollDesc struct {
	fd       int          // File descriptor
	events   uint32       // Events to watch for
	callback func(uint32) // Callback when events occur
}

// poller multiplexes readiness of a few descriptors with epoll. An eventfd
// wakes a blocked wait.
type poller struct {
	epfd   int               // epoll file descriptor
	wakefd int               // eventfd for waking the poller
	mutex  sync.Mutex        // Protects fds
	fds    map[int]*pollDesc // Tracked file descriptors
}

// newPoller creates a new poller instance.
func newPoller() (*poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}

	p := &poller{
		epfd:   epfd,
		wakefd: wakefd,
		fds:    make(map[int]*pollDesc),
	}
	if err := p.addFD(wakefd, unix.EPOLLIN, nil); err != nil {
		p.close()
		return nil, err
	}
	return p, nil
}

// close releases the epoll and eventfd descriptors.
func (p *poller) close() error {
	return errors.Join(unix.Close(p.wakefd), unix.Close(p.epfd))
}

// addFD adds a file descriptor to the poller.
func (p *poller) addFD(fd int, events uint32, callback func(uint32)) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return err
	}
	p.fds[fd] = &pollDesc{fd: fd, events: events, callback: callback}
	return nil
}

// delFD removes a file descriptor from the poller.
func (p *poller) delFD(fd int) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	delete(p.fds, fd)
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// wake interrupts a blocked pollOnce.
func (p *poller) wake() error {
	var buf [8]byte
	buf[0] = 1
	_, err := unix.Write(p.wakefd, buf[:])
	return err
}

// pollOnce waits up to timeout milliseconds (-1 for infinite) and runs the
// callbacks of ready descriptors. It returns the number of callbacks run and
// whether the poller was woken.
func (p *poller) pollOnce(timeout int) (n int, woken bool, err error) {
	var events [maxEpollEvents]unix.EpollEvent

	ready, err := unix.EpollWait(p.epfd, events[:], timeout)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, false, nil
		}
		return 0, false, err
	}

	for i := 0; i < ready; i++ {
		fd := int(events[i].Fd)
		if fd == p.wakefd {
			var buf [8]byte
			_, _ = unix.Read(p.wakefd, buf[:])
			woken = true
			continue
		}

		p.mutex.Lock()
		desc, ok := p.fds[fd]
		p.mutex.Unlock()

		if ok && desc.callback != nil {
			desc.callback(events[i].Events)
			n++
		}
	}
	return n, woken, nil
}
