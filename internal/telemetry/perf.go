package telemetry

import (
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

const (
	// keepScans bounds the scan history.
	keepScans = 20

	heapGrowthWarnMB = 50
	rssGrowthWarnMB  = 100
	cpuWarn          = 5 * time.Second
)

// ScanPerf is the resource usage of one scan.
type ScanPerf struct {
	Start      time.Time     `json:"start"`
	Duration   time.Duration `json:"duration"`
	HeapDelta  int64         `json:"heapDelta"`
	RSSDelta   int64         `json:"rssDelta"`
	HeapInUse  uint64        `json:"heapInUse"`
	RSS        uint64        `json:"rss"`
	CPUTime    time.Duration `json:"cpuTime"`
	MemSampled bool          `json:"memSampled"`
}

// Summary aggregates the retained history.
type Summary struct {
	ScanCount     int           `json:"scanCount"`
	Uptime        time.Duration `json:"uptime"`
	AvgDuration   time.Duration `json:"avgDuration"`
	MaxDuration   time.Duration `json:"maxDuration"`
	AvgHeapGrowth int64         `json:"avgHeapGrowth"`
	MaxHeapGrowth int64         `json:"maxHeapGrowth"`
	AvgCPU        time.Duration `json:"avgCpu"`
	MaxCPU        time.Duration `json:"maxCpu"`
}

type sample struct {
	at   time.Time
	heap uint64
	rss  uint64
	cpu  time.Duration
	ok   bool
}

// PerfMonitor measures scans and warns about runaway memory or CPU use.
type PerfMonitor struct {
	clock   clock.Clock
	log     *zap.Logger
	proc    *process.Process
	started time.Time

	mu      sync.Mutex
	history []ScanPerf
}

// NewPerfMonitor watches the current process.
func NewPerfMonitor(clk clock.Clock, log *zap.Logger) *PerfMonitor {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Warn("process stats unavailable", zap.Error(err))
		p = nil
	}
	return &PerfMonitor{
		clock:   clk,
		log:     log.Named("perf"),
		proc:    p,
		started: clk.Now(),
	}
}

// ScanToken is returned by Begin and passed back to End.
type ScanToken struct {
	s sample
}

func (m *PerfMonitor) sample() sample {
	s := sample{at: m.clock.Now()}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	s.heap = ms.HeapInuse
	if m.proc != nil {
		if mi, err := m.proc.MemoryInfo(); err == nil {
			s.rss = mi.RSS
			s.ok = true
		}
		if t, err := m.proc.Times(); err == nil {
			s.cpu = time.Duration((t.User + t.System) * float64(time.Second))
		}
	}
	return s
}

// Begin starts measuring a scan.
func (m *PerfMonitor) Begin() ScanToken {
	return ScanToken{s: m.sample()}
}

// End finishes measuring a scan, records it and logs it.
func (m *PerfMonitor) End(tok ScanToken) ScanPerf {
	end := m.sample()
	p := ScanPerf{
		Start:      tok.s.at,
		Duration:   end.at.Sub(tok.s.at),
		HeapDelta:  int64(end.heap) - int64(tok.s.heap),
		HeapInUse:  end.heap,
		RSS:        end.rss,
		CPUTime:    end.cpu - tok.s.cpu,
		MemSampled: end.ok && tok.s.ok,
	}
	if p.MemSampled {
		p.RSSDelta = int64(end.rss) - int64(tok.s.rss)
	}
	m.record(p)
	return p
}

func (m *PerfMonitor) record(p ScanPerf) {
	m.mu.Lock()
	m.history = append(m.history, p)
	if len(m.history) > keepScans {
		m.history = m.history[len(m.history)-keepScans:]
	}
	m.mu.Unlock()

	const mb = 1 << 20
	if p.HeapDelta > heapGrowthWarnMB*mb {
		m.log.Warn("high heap growth during scan",
			zap.Int64("growthMB", p.HeapDelta/mb),
			zap.Uint64("heapMB", p.HeapInUse/mb))
	}
	if p.RSSDelta > rssGrowthWarnMB*mb {
		m.log.Warn("high RSS growth during scan",
			zap.Int64("growthMB", p.RSSDelta/mb),
			zap.Uint64("rssMB", p.RSS/mb))
	}
	if p.CPUTime > cpuWarn {
		m.log.Warn("high CPU time during scan", zap.Duration("cpu", p.CPUTime))
	}
	m.log.Info("scan performance",
		zap.Duration("duration", p.Duration),
		zap.Int64("heapGrowthBytes", p.HeapDelta),
		zap.Duration("cpu", p.CPUTime))
}

// History returns the retained scans, oldest first.
func (m *PerfMonitor) History() []ScanPerf {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ScanPerf, len(m.history))
	copy(out, m.history)
	return out
}

// Summary aggregates the retained scans.
func (m *PerfMonitor) Summary() Summary {
	h := m.History()
	s := Summary{ScanCount: len(h), Uptime: m.clock.Since(m.started)}
	if len(h) == 0 {
		return s
	}
	var dur, cpu time.Duration
	var heap int64
	for i, p := range h {
		dur += p.Duration
		cpu += p.CPUTime
		heap += p.HeapDelta
		if i == 0 || p.Duration > s.MaxDuration {
			s.MaxDuration = p.Duration
		}
		if i == 0 || p.CPUTime > s.MaxCPU {
			s.MaxCPU = p.CPUTime
		}
		if i == 0 || p.HeapDelta > s.MaxHeapGrowth {
			s.MaxHeapGrowth = p.HeapDelta
		}
	}
	n := time.Duration(len(h))
	s.AvgDuration = dur / n
	s.AvgCPU = cpu / n
	s.AvgHeapGrowth = heap / int64(len(h))
	return s
}
