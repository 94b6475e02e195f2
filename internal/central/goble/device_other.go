//go:build !darwin && !linux

package goble

import (
	"fmt"
	"runtime"

	"github.com/go-ble/ble"
	"github.com/srg/blebatt/internal/central"
)

func newHostDevice() (ble.Device, error) {
	return nil, fmt.Errorf("%w: go-ble has no host binding for %s", central.ErrUnsupported, runtime.GOOS)
}
