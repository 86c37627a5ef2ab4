//go:build !linux
// +build !linux

package topology

import "errors"

var errUnsupported = errors.New("cpu affinity requires linux")

// AffinityCPUs always fails on unsupported platforms.
func AffinityCPUs() ([]int, error) {
	return nil, errUnsupported
}
