package fwdproxy

import "golang.org/x/sys/unix"

// closedFD marks a descriptor slot that has been closed but not yet
// compacted out of the registry.
const closedFD = -1

// descriptorRegistry is a dense array of (fd, interest mask) pairs
// driving a single unix.Poll call per iteration. It owns no semantics
// about what a descriptor is for; the engine correlates array position
// back to a connection slot.
type descriptorRegistry struct {
	fds []unix.PollFd
}

func newDescriptorRegistry() *descriptorRegistry {
	return &descriptorRegistry{}
}

// add appends a descriptor to the registry and returns its index.
func (r *descriptorRegistry) add(fd int, events int16) int {
	r.fds = append(r.fds, unix.PollFd{Fd: int32(fd), Events: events})
	return len(r.fds) - 1
}

// close marks index as closed without shrinking the array; compact
// removes it on the next pass. This mirrors the teacher's style of
// avoiding a mid-iteration slice reshuffle while descriptors are still
// being examined.
func (r *descriptorRegistry) close(index int) {
	if index < 0 || index >= len(r.fds) {
		return
	}
	if r.fds[index].Fd != closedFD {
		unix.Close(int(r.fds[index].Fd))
	}
	r.fds[index].Fd = closedFD
}

// compact removes every closed-FD entry, returning the mapping from old
// index to new index (-1 if the entry was removed) so callers can fix
// up any side tables that reference registry positions.
func (r *descriptorRegistry) compact() map[int]int {
	remap := make(map[int]int, len(r.fds))
	kept := r.fds[:0]
	for i, pfd := range r.fds {
		if pfd.Fd == closedFD {
			remap[i] = -1
			continue
		}
		remap[i] = len(kept)
		kept = append(kept, pfd)
	}
	r.fds = kept
	return remap
}

func (r *descriptorRegistry) poll(timeoutMS int) error {
	_, err := unix.Poll(r.fds, timeoutMS)
	if err != nil && err != unix.EINTR {
		return err
	}
	return nil
}

func (r *descriptorRegistry) revents(index int) int16 {
	if index < 0 || index >= len(r.fds) {
		return 0
	}
	return r.fds[index].Revents
}

func (r *descriptorRegistry) len() int { return len(r.fds) }
