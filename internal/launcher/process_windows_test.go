//go:build windows

package launcher

import "os"

func runPlatformHelper(mode string) {
	os.Exit(2)
}
