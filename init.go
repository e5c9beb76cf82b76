package xio

import "sync"

// initCount mirrors xio_init.c's process-wide transport registration: a
// shared counter rather than a module-load-time side effect (spec.md §9
// "Global constructor/destructor"). Init is safe to call multiple times;
// each Shutdown decrements the count, which never goes below zero.
var (
	initMu    sync.Mutex
	initCount int
)

// Init registers one more user of the library's transport layer. It is
// safe to call from multiple goroutines and multiple times; each call must
// be matched by a Shutdown call.
func Init() {
	initMu.Lock()
	defer initMu.Unlock()
	initCount++
}

// Shutdown releases one registration. The underlying transport state is
// only torn down once every Init call has been matched (this package
// currently has no such global state to tear down, but the refcount
// contract is kept so future transport registration can hook here without
// changing call sites).
func Shutdown() {
	initMu.Lock()
	defer initMu.Unlock()
	if initCount > 0 {
		initCount--
	}
}

// Initialized reports whether Init has been called more times than
// Shutdown, for tests.
func Initialized() bool {
	initMu.Lock()
	defer initMu.Unlock()
	return initCount > 0
}
