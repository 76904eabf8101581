package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"strconv"
)

func parseAccess(cmd string, args []string, values int) (addr uint64, vals []uint64, size int, err error) {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.IntVar(&size, "size", 4, "access size in bytes, 4 or 8")
	if err := fs.Parse(args); err != nil {
		return 0, nil, 0, err
	}
	if size != 4 && size != 8 {
		return 0, nil, 0, fmt.Errorf("%s: -size must be 4 or 8", cmd)
	}
	if fs.NArg() != 1+values {
		return 0, nil, 0, fmt.Errorf("%s: expected %d arguments", cmd, 1+values)
	}
	nums := make([]uint64, fs.NArg())
	for i, a := range fs.Args() {
		if nums[i], err = strconv.ParseUint(a, 0, 64); err != nil {
			return 0, nil, 0, fmt.Errorf("%s: %w", cmd, err)
		}
	}
	return nums[0], nums[1:], size, nil
}

func (c *gtimerCmd) peek(s *system, args []string) error {
	addr, _, size, err := parseAccess("peek", args, 0)
	if err != nil {
		return err
	}
	data := make([]byte, size)
	if err := s.access(addr, data, false); err != nil {
		return err
	}
	var v uint64
	if size == 8 {
		v = binary.LittleEndian.Uint64(data)
	} else {
		v = uint64(binary.LittleEndian.Uint32(data))
	}
	fmt.Fprintf(c.out, "0x%x: 0x%0*x\n", addr, 2*size, v)
	return nil
}

func (c *gtimerCmd) poke(s *system, args []string) error {
	addr, vals, size, err := parseAccess("poke", args, 1)
	if err != nil {
		return err
	}
	data := make([]byte, size)
	if size == 8 {
		binary.LittleEndian.PutUint64(data, vals[0])
	} else {
		if vals[0] > 0xffffffff {
			return fmt.Errorf("poke: value 0x%x does not fit in 4 bytes", vals[0])
		}
		binary.LittleEndian.PutUint32(data, uint32(vals[0]))
	}
	return s.access(addr, data, true)
}
