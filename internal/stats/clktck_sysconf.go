//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris

package stats

import "github.com/tklauser/go-sysconf"

func clockTicks() int64 {
	clk, err := sysconf.Sysconf(sysconf.SC_CLK_TCK)
	if err != nil || clk <= 0 {
		return 100
	}
	return clk
}
