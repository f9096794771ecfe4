//go:build windows

package supervisor

import (
	"os"
	"syscall"
)

const (
	processTerminate               = 0x0001
	processQueryLimitedInformation = 0x1000
	stillActive                    = 259
)

// Windows has no signals; every non-zero signal terminates the process.
var (
	termSignal os.Signal = syscall.SIGTERM
	killSignal os.Signal = os.Kill
)

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	h, err := syscall.OpenProcess(processQueryLimitedInformation, false, uint32(pid))
	if err != nil {
		return false
	}
	defer func() { _ = syscall.CloseHandle(h) }()

	var code uint32
	if err := syscall.GetExitCodeProcess(h, &code); err != nil {
		return false
	}
	return code == stillActive
}

func sendSignal(pid int, sig os.Signal) error {
	if s, ok := sig.(syscall.Signal); ok && s == 0 {
		if !processAlive(pid) {
			return syscall.ERROR_NOT_FOUND
		}
		return nil
	}
	h, err := syscall.OpenProcess(processTerminate, false, uint32(pid))
	if err != nil {
		return err
	}
	defer func() { _ = syscall.CloseHandle(h) }()
	return syscall.TerminateProcess(h, 1)
}
