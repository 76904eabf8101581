//go:build !unix

package mmio

func mapDevice(path string, base, size uint64) ([]byte, error) {
	return nil, ErrUnsupported
}

func mapAnonymous(size uint64) ([]byte, error) {
	return nil, ErrUnsupported
}

func unmap(mem []byte) error {
	return nil
}
