package performance

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/floatfeed/pkg/errors"
)

// ProfileType represents the type of profiling to perform
type ProfileType string

const (
	CPUProfile       ProfileType = "cpu"
	MemoryProfile    ProfileType = "memory"
	BlockProfile     ProfileType = "block"
	MutexProfile     ProfileType = "mutex"
	GoroutineProfile ProfileType = "goroutine"
	TraceProfile     ProfileType = "trace"
)

// ProfileConfig contains configuration for profiling
type ProfileConfig struct {
	// Profile types to collect
	Types []ProfileType

	// Output directory for profile files
	OutputDir string

	// Block profile rate (0 = disabled)
	BlockProfileRate int

	// Mutex profile fraction (0 = disabled)
	MutexProfileFraction int
}

// DefaultProfileConfig returns a configuration collecting CPU and heap
// profiles into dir.
func DefaultProfileConfig(dir string) *ProfileConfig {
	return &ProfileConfig{
		Types:                []ProfileType{CPUProfile, MemoryProfile},
		OutputDir:            dir,
		BlockProfileRate:     1,
		MutexProfileFraction: 1,
	}
}

// ParseProfileTypes validates profile type names.
func ParseProfileTypes(names []string) ([]ProfileType, error) {
	types := make([]ProfileType, 0, len(names))
	for _, n := range names {
		switch t := ProfileType(n); t {
		case CPUProfile, MemoryProfile, BlockProfile, MutexProfile, GoroutineProfile, TraceProfile:
			types = append(types, t)
		default:
			return nil, errors.Newf(errors.ErrorTypeConfig, "unknown profile type %q", n)
		}
	}
	return types, nil
}

// Profiler collects pprof profiles and an execution trace around a run.
// The execution trace is the most useful view of the producer and consumer
// goroutines overlapping.
type Profiler struct {
	config    *ProfileConfig
	logger    *zap.Logger
	startTime time.Time
	stamp     string
	cpuFile   *os.File
	traceFile *os.File
}

// NewProfiler creates a new profiler instance
func NewProfiler(config *ProfileConfig, logger *zap.Logger) *Profiler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Profiler{config: config, logger: logger}
}

// Start begins the CPU profile and execution trace when requested.
func (p *Profiler) Start() error {
	p.startTime = time.Now()
	p.stamp = p.startTime.Format("20060102_150405")

	if err := os.MkdirAll(p.config.OutputDir, 0o755); err != nil { //nolint:gosec
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create profile directory").
			WithDetail("dir", p.config.OutputDir)
	}

	if p.wants(BlockProfile) && p.config.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(p.config.BlockProfileRate)
	}
	if p.wants(MutexProfile) && p.config.MutexProfileFraction > 0 {
		runtime.SetMutexProfileFraction(p.config.MutexProfileFraction)
	}

	if p.wants(CPUProfile) {
		file, err := p.create("cpu", "prof")
		if err != nil {
			return err
		}
		if err := pprof.StartCPUProfile(file); err != nil {
			_ = file.Close()
			return errors.Wrap(err, errors.ErrorTypeInternal, "failed to start CPU profiling")
		}
		p.cpuFile = file
	}

	if p.wants(TraceProfile) {
		file, err := p.create("trace", "out")
		if err != nil {
			p.stopCPU()
			return err
		}
		if err := trace.Start(file); err != nil {
			_ = file.Close()
			p.stopCPU()
			return errors.Wrap(err, errors.ErrorTypeInternal, "failed to start tracing")
		}
		p.traceFile = file
	}

	p.logger.Info("profiling started",
		zap.String("output_dir", p.config.OutputDir),
		zap.Any("types", p.config.Types))
	return nil
}

// Stop ends running profiles and writes the snapshot profiles. It returns
// the files written.
func (p *Profiler) Stop() ([]string, error) {
	var written []string

	if p.cpuFile != nil {
		written = append(written, p.cpuFile.Name())
		p.stopCPU()
	}
	if p.traceFile != nil {
		trace.Stop()
		written = append(written, p.traceFile.Name())
		_ = p.traceFile.Close()
		p.traceFile = nil
	}

	snapshots := []struct {
		t     ProfileType
		name  string
		debug int
	}{
		{MemoryProfile, "heap", 0},
		{BlockProfile, "block", 0},
		{MutexProfile, "mutex", 0},
		{GoroutineProfile, "goroutine", 2},
	}
	for _, s := range snapshots {
		if !p.wants(s.t) {
			continue
		}
		name, err := p.writeLookup(s.name, s.debug)
		if err != nil {
			return written, err
		}
		written = append(written, name)
	}

	p.logger.Info("profiling completed",
		zap.Duration("duration", time.Since(p.startTime)),
		zap.Strings("files", written))
	return written, nil
}

func (p *Profiler) stopCPU() {
	if p.cpuFile == nil {
		return
	}
	pprof.StopCPUProfile()
	_ = p.cpuFile.Close()
	p.cpuFile = nil
}

func (p *Profiler) writeLookup(name string, debug int) (string, error) {
	file, err := p.create(name, "prof")
	if err != nil {
		return "", err
	}
	defer file.Close()

	if name == "heap" {
		runtime.GC() // Force GC before heap profile
	}
	if err := pprof.Lookup(name).WriteTo(file, debug); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypeInternal, "failed to write profile").
			WithDetail("profile", name)
	}
	return file.Name(), nil
}

func (p *Profiler) create(name, ext string) (*os.File, error) {
	path := filepath.Join(p.config.OutputDir, fmt.Sprintf("%s_%s.%s", name, p.stamp, ext))
	file, err := os.Create(path) //nolint:gosec // G304: directory comes from the operator
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to create profile file").
			WithDetail("path", path)
	}
	return file, nil
}

func (p *Profiler) wants(t ProfileType) bool {
	for _, have := range p.config.Types {
		if have == t {
			return true
		}
	}
	return false
}
