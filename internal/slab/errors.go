package slab

import "errors"

// ErrOutOfMemory is returned by frame-backed allocation paths when the
// frame allocator has no memory and (if permitted) reclaim could not
// free any either. Cache.Alloc never returns it (it reports failure
// with a false result); the kalloc front-end returns it to distinguish
// OOM from other failures.
var ErrOutOfMemory = errors.New("slab: out of memory")

// ErrTooLarge is returned by the kalloc front-end when a request
// exceeds the largest configured size class.
var ErrTooLarge = errors.New("slab: requested size exceeds largest size class")

// ErrUnknownAddress is returned when an address cannot be resolved to
// any slab, e.g. kfree of a pointer this allocator never produced.
var ErrUnknownAddress = errors.New("slab: address does not belong to any known slab")
