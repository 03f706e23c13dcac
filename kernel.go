// Package artos is the kernel's root facade: Config/DefaultConfig/Option
// wire up one Kernel instance, RegisterInit/Boot run the static-init
// registry (internal/registry) against it, and Run blocks until the
// caller's context is cancelled.
package artos

import (
	"context"
	"fmt"
	"sync"

	"github.com/goartos/kernel/internal/heap"
	"github.com/goartos/kernel/internal/klog"
	"github.com/goartos/kernel/internal/port"
	"github.com/goartos/kernel/internal/port/softport"
	"github.com/goartos/kernel/internal/registry"
	"github.com/goartos/kernel/internal/sched"
	"github.com/goartos/kernel/internal/tick"
	"github.com/goartos/kernel/internal/tick/softtick"
	"github.com/goartos/kernel/kevent"
	"github.com/goartos/kernel/kpool"
	"github.com/goartos/kernel/kpubsub"
	"github.com/goartos/kernel/kqueue"
	"github.com/goartos/kernel/ksync/mutex"
	"github.com/goartos/kernel/ksync/semaphore"
	"github.com/goartos/kernel/ktimer"
	"github.com/goartos/kernel/thread"
)

// Config configures a Kernel at construction (§6 "Configuration").
// Supply overrides via Option, not by building Config directly.
type Config struct {
	// HeapSize is the size in bytes of the heap region thread.Manager
	// carves dynamic thread stacks from (C2, C7).
	HeapSize int

	// CPUAffinity, when non-empty, pins every task's backing goroutine
	// to this CPU set via unix.SchedSetaffinity (domain-stack note,
	// Linux only; ignored elsewhere).
	CPUAffinity []int

	// Logger receives every component's log lines. Defaults to
	// klog.Default() if nil.
	Logger *klog.Logger

	// Observer receives scheduler/primitive metrics events. Defaults to
	// a NewMetricsObserver wrapping the Kernel's own Metrics if nil.
	Observer Observer

	// TickSource drives the timeout wheel. Defaults to a real-clock
	// softtick.Driver if nil; kerntest supplies a softtick.Manual here
	// instead for deterministic tests.
	TickSource tick.Source
}

// DefaultConfig returns the baseline configuration Option values modify.
func DefaultConfig() Config {
	return Config{
		HeapSize: 1 << 20, // 1MiB
	}
}

// Option adjusts a Config in place, applied in the order given to New.
type Option func(*Config)

// WithHeapSize overrides the dynamic-thread-stack heap region size.
func WithHeapSize(bytes int) Option { return func(c *Config) { c.HeapSize = bytes } }

// WithCPUAffinity pins every task's backing goroutine to cpus.
func WithCPUAffinity(cpus []int) Option { return func(c *Config) { c.CPUAffinity = cpus } }

// WithLogger overrides the kernel-wide logger.
func WithLogger(l *klog.Logger) Option { return func(c *Config) { c.Logger = l } }

// WithObserver overrides the metrics observer.
func WithObserver(o Observer) Option { return func(c *Config) { c.Observer = o } }

// WithTickSource overrides the timeout wheel's tick driver. kerntest
// uses this to install a softtick.Manual.
func WithTickSource(src tick.Source) Option { return func(c *Config) { c.TickSource = src } }

// Kernel is one booted instance of the whole primitive stack: every
// C1–C14 module wired against a single internal/sched.Scheduler.
type Kernel struct {
	cfg Config

	metrics *Metrics
	log     *klog.Logger
	sched   *sched.Scheduler
	tickSrc tick.Source

	Threads    *thread.Manager
	Timers     *ktimer.Manager
	Semaphores *semaphore.Manager
	Mutexes    *mutex.Manager
	Events     *kevent.Manager
	Queues     *kqueue.Manager
	Pools      *kpool.Manager
	PubSub     *kpubsub.Manager

	booted bool
}

// New constructs a Kernel from DefaultConfig with opts applied, wires
// every primitive manager into one scheduler, and enables the tick
// source. The returned Kernel is not yet booted — call Boot before Run.
func New(opts ...Option) *Kernel {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	metrics := NewMetrics()
	observer := cfg.Observer
	if observer == nil {
		observer = NewMetricsObserver(metrics)
	}
	log := cfg.Logger
	if log == nil {
		log = klog.Default()
	}
	tickSrc := cfg.TickSource
	if tickSrc == nil {
		tickSrc = softtick.New()
	}

	var p port.Port
	if len(cfg.CPUAffinity) > 0 {
		p = softport.NewWithAffinity(cfg.CPUAffinity)
	} else {
		p = softport.New()
	}

	s := sched.New(p, tickSrc, observer)
	tickSrc.Enable()
	h := heap.New(cfg.HeapSize)

	return &Kernel{
		cfg:        cfg,
		metrics:    metrics,
		log:        log,
		sched:      s,
		tickSrc:    tickSrc,
		Threads:    thread.New(s, h, log),
		Timers:     ktimer.New(s, log),
		Semaphores: semaphore.New(s, log),
		Mutexes:    mutex.New(s, log),
		Events:     kevent.New(s, log),
		Queues:     kqueue.New(s, log),
		Pools:      kpool.New(s, log),
		PubSub:     kpubsub.New(s, log),
	}
}

// Metrics returns the Kernel's metrics instance.
func (k *Kernel) Metrics() *Metrics { return k.metrics }

// Log returns the Kernel's logger.
func (k *Kernel) Log() *klog.Logger { return k.log }

// Scheduler returns the underlying scheduler, for callers (such as
// kerntest) that need scheduler-level introspection no
// individual primitive manager exposes.
func (k *Kernel) Scheduler() *sched.Scheduler { return k.sched }

var (
	bootMu  sync.Mutex
	booting *Kernel
)

// RegisterInit registers fn to run during Boot at the given level
// (0..4, ascending; ties run in registration order). Typically called
// from an init() func, once per process — the same level/fn pair runs
// against whichever Kernel is currently booting.
func RegisterInit(level int, fn func(*Kernel) error) {
	registry.Register(level, func() error {
		return fn(booting)
	})
}

// Boot runs every init function registered since the last Boot call (in
// any Kernel, in this process) in level order against k, then marks k
// ready for Run. Calling Boot twice on the same Kernel returns an error
// without re-running anything. Boot is not reentrant across concurrent
// Kernel instances: only one Kernel may be mid-Boot at a time per
// process, matching a single target image's actual boot sequence. Boot
// clears the registered-init list it consumed once it returns, so a
// later Kernel's Boot only ever runs inits registered after this one —
// registrations never leak from one Kernel instance into another's.
func (k *Kernel) Boot() error {
	if k.booted {
		return fmt.Errorf("artos: Boot called twice on the same Kernel")
	}

	bootMu.Lock()
	defer bootMu.Unlock()
	booting = k
	err := registry.Run()
	registry.Reset()
	booting = nil

	if err != nil {
		return fmt.Errorf("artos: boot failed: %w", err)
	}
	k.booted = true
	return nil
}

// Run blocks until ctx is cancelled, then shuts the Kernel down and
// returns ctx.Err(). Call Boot first; Run on an unbooted Kernel returns
// an error immediately.
func (k *Kernel) Run(ctx context.Context) error {
	if !k.booted {
		return fmt.Errorf("artos: Run called before Boot")
	}
	<-ctx.Done()
	k.Shutdown()
	return ctx.Err()
}

// Shutdown disables the tick source and stamps the metrics stop time.
// Safe to call more than once.
func (k *Kernel) Shutdown() {
	k.tickSrc.Disable()
	k.metrics.Stop()
}
