// Package softport implements internal/port.Port without raw stack
// frames, since Go exposes no SP/LR/exception-return mechanism to user
// code (§ "PORT LAYER (C6) — REALIZED CONTRACT").
package softport

import (
	"fmt"
	"sync"

	"github.com/goartos/kernel/internal/port"
)

// affinityFunc is installed by an arch-specific file (affinity_linux.go
// on Linux; a no-op elsewhere) and pins the calling goroutine's
// underlying OS thread to cpus via unix.SchedSetaffinity, having already
// called runtime.LockOSThread.
var affinityFunc func(cpus []int) error

// fillByte prefills statically-backed stacks so StackFreeSizeProbe can
// scan for its high-water mark, mirroring port_stack_free_size_get.
const fillByte = 0xAA

// FillByte exposes fillByte so callers (thread.Init, when handed a
// caller-supplied static stack) can prefill it themselves before first
// use.
const FillByte = fillByte

// Driver is the portable Port implementation: critical sections are a
// plain mutex, the SVC gateway is a whitelisted map invoked under that
// mutex, and stack introspection is a fill-byte scan.
type Driver struct {
	mu sync.Mutex

	privMu     sync.RWMutex
	privileged map[string]port.PrivilegedFunc

	// cpus, when non-empty, pins every spawned task's backing goroutine
	// to this CPU set (Config.CPUAffinity).
	cpus []int
}

// New constructs a ready-to-use Driver.
func New() *Driver {
	return &Driver{privileged: make(map[string]port.PrivilegedFunc)}
}

// NewWithAffinity is New, but pins every spawned task's backing
// goroutine's OS thread to cpus. A nil or empty cpus behaves like New.
func NewWithAffinity(cpus []int) *Driver {
	d := New()
	d.cpus = cpus
	return d
}

// Spawn delegates to port.Spawn: there is nothing CPU-specific about
// starting a parked goroutine, beyond optionally pinning it first.
func (d *Driver) Spawn(entry port.EntryFunc, arg any) *port.TaskContext {
	if len(d.cpus) == 0 || affinityFunc == nil {
		return port.Spawn(entry, arg)
	}
	cpus := d.cpus
	return port.Spawn(func(arg any) {
		if err := affinityFunc(cpus); err != nil {
			panic(fmt.Sprintf("softport: CPU affinity %v: %v", cpus, err))
		}
		entry(arg)
	}, arg)
}

// Lock acquires the critical section (port_irq_disable).
func (d *Driver) Lock() { d.mu.Lock() }

// Unlock releases the critical section (port_irq_enable).
func (d *Driver) Unlock() { d.mu.Unlock() }

// RegisterPrivileged whitelists fn under name, normally called once per
// operation during kernel boot.
func (d *Driver) RegisterPrivileged(name string, fn port.PrivilegedFunc) {
	d.privMu.Lock()
	defer d.privMu.Unlock()
	d.privileged[name] = fn
}

// Call invokes the named privileged routine under Lock.
func (d *Driver) Call(name string, arg any) any {
	d.privMu.RLock()
	fn, ok := d.privileged[name]
	d.privMu.RUnlock()
	if !ok {
		panic(fmt.Sprintf("softport: call to unregistered privileged routine %q", name))
	}
	d.Lock()
	defer d.Unlock()
	return fn(arg)
}

// StackFreeSizeProbe scans stack from index 0 upward, counting
// consecutive fillByte bytes. Returns -1 for a nil stack, which has no
// backing array to scan.
func (d *Driver) StackFreeSizeProbe(stack []byte) int {
	if stack == nil {
		return -1
	}
	free := 0
	for _, b := range stack {
		if b != fillByte {
			break
		}
		free++
	}
	return free
}

var _ port.Port = (*Driver)(nil)
