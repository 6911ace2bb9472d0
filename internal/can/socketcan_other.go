//go:build !linux

package can

import "errors"

func DialSocketCAN(iface string) (Bus, error) {
	return nil, errors.New("socketcan: only supported on linux")
}
