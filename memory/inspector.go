// Package memory implements the kernel's periodic heap sampler and
// growth-rate leak detector (spec.md §4.5). It depends on the Manager only
// through the small ModuleEnumerator interface, to avoid importing the root
// kernel package.
package memory

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Logger mirrors the kernel's structured logging shape without importing
// the root package (which would create an import cycle, since the root
// package constructs an Inspector).
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

// ModuleInfo is the subset of module identity the inspector needs: name
// and its approximate reference count (how many peers declare it as a
// dependency). Only enabled modules are enumerated, so disabled modules are
// never snapshotted.
type ModuleInfo struct {
	Name           string
	ReferenceCount int
}

// ModuleEnumerator lets the inspector discover which modules to sample
// without depending on the Manager type directly.
type ModuleEnumerator interface {
	EnabledModules() []ModuleInfo
}

// Snapshot is a single timestamped heap-usage sample. Per spec.md §9's
// documented open question, every field besides ReferenceCount is a
// process-wide counter recorded identically on every module's ring; growth
// is attributed to a module only by comparing that module's own ring over
// time, not by isolating its allocations.
type Snapshot struct {
	Timestamp      time.Time
	HeapUsed       uint64
	HeapTotal      uint64
	External       uint64
	ArrayBuffers   uint64
	ReferenceCount int
}

// Thresholds classify MB/hour growth rates into severities.
type Thresholds struct {
	Low    float64
	Medium float64
	High   float64
}

// DefaultThresholds matches spec.md §4.5's defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{Low: 5, Medium: 20, High: 50}
}

// Finding is one module's growth-rate analysis result.
type Finding struct {
	Module           string
	Severity         string // "low" | "medium" | "high"
	HeapGrowthMB     float64
	GrowthRateMBHour float64
	TimeElapsedHours float64
	Recommendation   string
}

// LeakProbability buckets used by GenerateMemoryReport.
const (
	ProbabilityNone   = "none"
	ProbabilityLow    = "low"
	ProbabilityMedium = "medium"
	ProbabilityHigh   = "high"
)

// ModuleReport is one module's entry in GenerateMemoryReport's output.
type ModuleReport struct {
	Module          string
	HeapGrowthMB    float64
	GrowthRateMBHour float64
	LeakProbability string
}

// Report is the snapshot GenerateMemoryReport returns.
type Report struct {
	GeneratedAt time.Time
	HeapUsed    uint64
	HeapTotal   uint64
	Modules     []ModuleReport
}

const bytesPerMB = 1024 * 1024

// Options configures a new Inspector.
type Options struct {
	SnapshotInterval time.Duration // default 5 minutes
	MaxSnapshots     int           // default 12
	Thresholds       Thresholds
}

func (o *Options) setDefaults() {
	if o.SnapshotInterval <= 0 {
		o.SnapshotInterval = 5 * time.Minute
	}
	if o.MaxSnapshots <= 0 {
		o.MaxSnapshots = 12
	}
	if o.Thresholds == (Thresholds{}) {
		o.Thresholds = DefaultThresholds()
	}
}

// Inspector periodically samples the process heap and maintains a bounded
// ring of Snapshots per enabled module.
type Inspector struct {
	logger     Logger
	enumerator ModuleEnumerator
	opts       Options

	mu    sync.Mutex
	rings map[string][]Snapshot

	cron *cron.Cron
}

// NewInspector constructs an Inspector. It does not start sampling until
// Start is called.
func NewInspector(logger Logger, enumerator ModuleEnumerator, opts Options) *Inspector {
	opts.setDefaults()
	return &Inspector{
		logger:     logger,
		enumerator: enumerator,
		opts:       opts,
		rings:      make(map[string][]Snapshot),
	}
}

// Start begins periodic sampling on opts.SnapshotInterval, scheduled with
// robfig/cron's "@every" expression instead of a bare time.Ticker, matching
// the cadence idiom the pack's scheduler module uses for recurring jobs.
// The cron scheduler runs its own goroutine and does not prevent process
// exit once Stop is called.
func (i *Inspector) Start(ctx context.Context) error {
	i.cron = cron.New()
	spec := fmt.Sprintf("@every %s", i.opts.SnapshotInterval)
	if _, err := i.cron.AddFunc(spec, func() { i.TakeSnapshot(ctx) }); err != nil {
		return fmt.Errorf("memory inspector: failed to schedule snapshot cadence: %w", err)
	}
	i.cron.Start()
	i.logger.Debug("memory inspector started", "interval", i.opts.SnapshotInterval, "maxSnapshots", i.opts.MaxSnapshots)
	return nil
}

// Stop halts periodic sampling. Safe to call even if Start was never
// called.
func (i *Inspector) Stop() {
	if i.cron != nil {
		<-i.cron.Stop().Done()
	}
}

// TakeSnapshot requests a best-effort heap compaction (runtime.GC is the
// manual compaction entry point Go exposes; per spec.md §9 the algorithm is
// unchanged if compaction is unavailable, it simply never is in Go), reads
// process heap counters, and pushes a Snapshot onto every enabled module's
// ring.
func (i *Inspector) TakeSnapshot(ctx context.Context) {
	runtime.GC()

	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	now := time.Now()
	modules := i.enumerator.EnabledModules()

	i.mu.Lock()
	defer i.mu.Unlock()

	for _, mod := range modules {
		snap := Snapshot{
			Timestamp:      now,
			HeapUsed:       stats.HeapAlloc,
			HeapTotal:      stats.HeapSys,
			External:       stats.OtherSys,
			ArrayBuffers:   stats.StackSys,
			ReferenceCount: mod.ReferenceCount,
		}
		ring := append(i.rings[mod.Name], snap)
		if len(ring) > i.opts.MaxSnapshots {
			ring = ring[len(ring)-i.opts.MaxSnapshots:]
		}
		i.rings[mod.Name] = ring
	}
}

// Snapshots returns a copy of the ring for a module.
func (i *Inspector) Snapshots(moduleName string) []Snapshot {
	i.mu.Lock()
	defer i.mu.Unlock()
	ring := i.rings[moduleName]
	out := make([]Snapshot, len(ring))
	copy(out, ring)
	return out
}

// AnalyzeMemoryUsage implements spec.md §4.5's growth analysis: for every
// module with at least two snapshots, compute the elapsed time and heap
// growth between the oldest and newest sample, skip near-zero windows, and
// classify the growth rate against the configured thresholds.
func (i *Inspector) AnalyzeMemoryUsage() []Finding {
	i.mu.Lock()
	rings := make(map[string][]Snapshot, len(i.rings))
	for name, ring := range i.rings {
		rings[name] = append([]Snapshot{}, ring...)
	}
	i.mu.Unlock()

	var findings []Finding
	for name, ring := range rings {
		if len(ring) < 2 {
			continue
		}
		oldest := ring[0]
		newest := ring[len(ring)-1]

		elapsedHours := newest.Timestamp.Sub(oldest.Timestamp).Hours()
		if elapsedHours < 0.01 {
			continue
		}

		heapGrowthMB := float64(int64(newest.HeapUsed)-int64(oldest.HeapUsed)) / bytesPerMB
		growthRate := heapGrowthMB / elapsedHours

		severity, ok := classify(growthRate, i.opts.Thresholds)
		if !ok {
			continue
		}

		findings = append(findings, Finding{
			Module:           name,
			Severity:         severity,
			HeapGrowthMB:     heapGrowthMB,
			GrowthRateMBHour: growthRate,
			TimeElapsedHours: elapsedHours,
			Recommendation:   recommendation(severity),
		})
	}

	sort.Slice(findings, func(a, b int) bool { return findings[a].Module < findings[b].Module })
	return findings
}

func classify(rate float64, t Thresholds) (string, bool) {
	switch {
	case rate >= t.High:
		return "high", true
	case rate >= t.Medium:
		return "medium", true
	case rate >= t.Low:
		return "low", true
	default:
		return "", false
	}
}

func recommendation(severity string) string {
	switch severity {
	case "high":
		return "heap growth is severe; capture a heap profile and audit the module for unbounded caches or leaked goroutines"
	case "medium":
		return "heap growth is elevated; monitor and consider profiling if the trend continues"
	default:
		return "heap growth is mild; continue monitoring"
	}
}

// GenerateMemoryReport returns a point-in-time snapshot of current heap
// totals plus a per-module growth report, sorted by growth rate descending.
func (i *Inspector) GenerateMemoryReport() Report {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	findings := i.AnalyzeMemoryUsage()
	byModule := make(map[string]Finding, len(findings))
	for _, f := range findings {
		byModule[f.Module] = f
	}

	i.mu.Lock()
	names := make([]string, 0, len(i.rings))
	for name := range i.rings {
		names = append(names, name)
	}
	i.mu.Unlock()

	modules := make([]ModuleReport, 0, len(names))
	for _, name := range names {
		f, analyzed := byModule[name]
		mr := ModuleReport{Module: name}
		if analyzed {
			mr.HeapGrowthMB = f.HeapGrowthMB
			mr.GrowthRateMBHour = f.GrowthRateMBHour
			mr.LeakProbability = f.Severity
		} else {
			mr.LeakProbability = ProbabilityNone
		}
		modules = append(modules, mr)
	}

	sort.Slice(modules, func(a, b int) bool { return modules[a].GrowthRateMBHour > modules[b].GrowthRateMBHour })

	return Report{
		GeneratedAt: time.Now(),
		HeapUsed:    stats.HeapAlloc,
		HeapTotal:   stats.HeapSys,
		Modules:     modules,
	}
}
