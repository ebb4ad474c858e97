package provider

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// VirtualMemory is the contract a virtual-memory reservation is built on:
// reserve an address range, commit pages to back them with physical
// storage, decommit, then release.
//
// Correct use is always reserve first, commit pages before accessing them,
// decommit then release, in that order (spec §4.1).
type VirtualMemory interface {
	PageSize() int
	Reserve(pages int) (Reservation, error)
	Release(r Reservation) error
	Commit(r Reservation, offset, pages int) error
	Decommit(r Reservation, offset, pages int) error
}

// Reservation is an opaque, reserved virtual address range. Mapping the
// full range as a Go []byte (rather than just a base pointer) keeps it
// reachable for the GC and lets mprotect slice it without extra pointer
// arithmetic; the memory is PROT_NONE until committed, so nothing may read
// or write through the slice outside a committed sub-range.
type Reservation struct {
	mapping []byte
	pages   int
}

// Base returns a pointer to the start of the offset-th page. The caller
// must have committed that page (and the ones it intends to touch) first.
func (r Reservation) Base(offset, pageSize int) unsafe.Pointer {
	return unsafe.Pointer(&r.mapping[offset*pageSize])
}

// Pages returns the number of pages this reservation spans.
func (r Reservation) Pages() int { return r.pages }

// Unix is a [VirtualMemory] backed by mmap/mprotect/munmap, grounded on
// the same reserve-then-commit discipline a kernel-level page allocator
// exposes.
type Unix struct{}

var _ VirtualMemory = Unix{}

func (Unix) PageSize() int { return unix.Getpagesize() }

// Reserve mmaps an anonymous, inaccessible (PROT_NONE) region of the given
// number of pages. No physical memory backs it until Commit is called.
func (u Unix) Reserve(pages int) (Reservation, error) {
	if pages <= 0 {
		return Reservation{}, fmt.Errorf("memalloc: reserve requires pages > 0, got %d", pages)
	}

	n := pages * u.PageSize()
	b, err := unix.Mmap(-1, 0, n, unix.PROT_NONE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return Reservation{}, fmt.Errorf("memalloc: reserve %d pages: %w", pages, err)
	}

	return Reservation{mapping: b, pages: pages}, nil
}

// Release unmaps the entire reservation. Every page must have been
// decommitted first.
func (u Unix) Release(r Reservation) error {
	if err := unix.Munmap(r.mapping); err != nil {
		return fmt.Errorf("memalloc: release reservation: %w", err)
	}
	return nil
}

// Commit makes `pages` pages starting at `offset` readable/writable,
// backing them with physical memory on first touch.
func (u Unix) Commit(r Reservation, offset, pages int) error {
	pageSize := u.PageSize()
	region := r.mapping[offset*pageSize : (offset+pages)*pageSize]
	if err := unix.Mprotect(region, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return fmt.Errorf("memalloc: commit pages [%d,%d): %w", offset, offset+pages, err)
	}
	return nil
}

// Decommit makes `pages` pages starting at `offset` inaccessible again,
// allowing the kernel to reclaim the physical backing.
func (u Unix) Decommit(r Reservation, offset, pages int) error {
	pageSize := u.PageSize()
	region := r.mapping[offset*pageSize : (offset+pages)*pageSize]
	if err := unix.Mprotect(region, unix.PROT_NONE); err != nil {
		return fmt.Errorf("memalloc: decommit pages [%d,%d): %w", offset, offset+pages, err)
	}
	return nil
}
