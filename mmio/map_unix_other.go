//go:build unix && !linux

package mmio

func mapDevice(path string, base, size uint64) ([]byte, error) {
	return nil, ErrUnsupported
}
