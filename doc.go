// Package gtimer drives the memory-mapped Arm Generic Timer.
//
// The peripheral is a set of 4 KiB frames. CNTControlBase holds the system
// counter, CNTReadBase a read-only view of it, CNTCTLBase the per-frame
// configuration, and each CNTBase<n> (with its CNTEL0Base<n> view) exposes the
// counts plus a physical and a virtual comparator timer.
//
// Each frame is overlaid with a layout type through package mmio and wrapped
// in its driver: Control, Reader, Ctl, Cnt or CntEl0. A Cnt or CntEl0 lends
// out one Timer at a time. None of the drivers are safe for concurrent use;
// each frame has one owner.
package gtimer
