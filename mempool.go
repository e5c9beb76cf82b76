package xio

// MemoryPool is the external buffer-pool allocator specified by spec.md §6:
// "alloc(pool, size) -> {addr, mr, length}, free(sge)". The core never
// manages large RDMA_READ target buffers itself; it asks the pool (or, in
// its absence, falls back to a direct allocate-and-register) whenever an
// inbound scatter list exceeds what a task's inline buffer can hold.
type MemoryPool interface {
	// Alloc returns a buffer of at least size bytes already registered with
	// the verbs layer, and the MemoryRegion describing it.
	Alloc(size int) ([]byte, MemoryRegion, error)

	// Free releases a buffer previously returned by Alloc.
	Free(buf []byte, mr MemoryRegion)
}
