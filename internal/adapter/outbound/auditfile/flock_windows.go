//go:build windows

package auditfile

import "golang.org/x/sys/windows"

// tryLock acquires an exclusive non-blocking lock on the file using
// LockFileEx. Returns an error immediately when another process holds
// the lock.
func tryLock(fd uintptr) error {
	var ol windows.Overlapped
	return windows.LockFileEx(windows.Handle(fd),
		windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY, 0, 1, 0, &ol)
}

// unlock releases the file lock using UnlockFileEx.
func unlock(fd uintptr) error {
	var ol windows.Overlapped
	return windows.UnlockFileEx(windows.Handle(fd), 0, 1, 0, &ol)
}
