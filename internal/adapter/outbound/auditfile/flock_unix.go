//go:build !windows

package auditfile

import "syscall"

// tryLock acquires an exclusive non-blocking lock on the file. Returns an
// error immediately when another process holds the lock.
func tryLock(fd uintptr) error {
	return syscall.Flock(int(fd), syscall.LOCK_EX|syscall.LOCK_NB)
}

// unlock releases the file lock.
func unlock(fd uintptr) error {
	return syscall.Flock(int(fd), syscall.LOCK_UN)
}
