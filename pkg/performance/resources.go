// Package performance samples process resource usage for long-running
// feeds.
package performance

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/ajitpratap0/floatfeed/pkg/errors"
)

// ResourceMonitor monitors system resources
type ResourceMonitor struct {
	process      *process.Process
	startCPUTime float64
	startTime    time.Time
	mu           sync.Mutex
}

// ResourceUsage contains resource usage information
type ResourceUsage struct {
	CPUPercent            float64
	LogicalCPUs           int
	MemoryRSS             uint64
	MemoryVMS             uint64
	HeapAlloc             uint64
	SystemMemoryPercent   float64
	SystemMemoryAvailable uint64
	GoroutineCount        int
	ThreadCount           int32
}

// NewResourceMonitor creates a monitor for the current process.
func NewResourceMonitor() (*ResourceMonitor, error) {
	proc, err := process.NewProcess(int32(os.Getpid())) //nolint:gosec // pid fits in int32
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to open process handle")
	}
	rm := &ResourceMonitor{process: proc, startTime: time.Now()}
	if t, err := proc.Times(); err == nil {
		rm.startCPUTime = t.Total()
	}
	return rm, nil
}

// Usage returns current resource usage. Fields the platform cannot report
// are left zero.
func (rm *ResourceMonitor) Usage() ResourceUsage {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	var usage ResourceUsage

	if t, err := rm.process.Times(); err == nil {
		if elapsed := time.Since(rm.startTime).Seconds(); elapsed > 0 {
			usage.CPUPercent = ((t.Total() - rm.startCPUTime) / elapsed) * 100
		}
	}
	usage.LogicalCPUs, _ = cpu.Counts(true)

	if info, err := rm.process.MemoryInfo(); err == nil {
		usage.MemoryRSS = info.RSS
		usage.MemoryVMS = info.VMS
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		usage.SystemMemoryPercent = vm.UsedPercent
		usage.SystemMemoryAvailable = vm.Available
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	usage.HeapAlloc = ms.HeapAlloc
	usage.GoroutineCount = runtime.NumGoroutine()
	usage.ThreadCount, _ = rm.process.NumThreads()

	return usage
}

// Fields renders u as log fields.
func (u ResourceUsage) Fields() []zap.Field {
	return []zap.Field{
		zap.Float64("cpu_percent", u.CPUPercent),
		zap.Int("logical_cpus", u.LogicalCPUs),
		zap.Uint64("rss_bytes", u.MemoryRSS),
		zap.Uint64("heap_alloc_bytes", u.HeapAlloc),
		zap.Float64("system_memory_percent", u.SystemMemoryPercent),
		zap.Int("goroutines", u.GoroutineCount),
		zap.Int32("threads", u.ThreadCount),
	}
}
