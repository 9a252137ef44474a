package health

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/mcptrust/execgate/internal/models"
)

// Sampler reads current process vitals.
type Sampler interface {
	Sample() models.HealthSnapshot
}

// SamplerFunc adapts a function to Sampler.
type SamplerFunc func() models.HealthSnapshot

func (f SamplerFunc) Sample() models.HealthSnapshot { return f() }

// RuntimeSampler combines the Go runtime's memory stats with host figures
// from gopsutil: the 1-minute load average, the process RSS and total
// memory. A figure the host cannot report is left at 0; RSS then falls back
// to memory obtained from the OS.
type RuntimeSampler struct {
	loadAvg func() (*load.AvgStat, error)
	memInfo func() (*process.MemoryInfoStat, error)
	virtual func() (*mem.VirtualMemoryStat, error)
}

func NewRuntimeSampler() *RuntimeSampler {
	s := &RuntimeSampler{loadAvg: load.Avg, virtual: mem.VirtualMemory}
	self, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		s.memInfo = func() (*process.MemoryInfoStat, error) { return nil, err }
	} else {
		s.memInfo = self.MemoryInfo
	}
	return s
}

func (s *RuntimeSampler) Sample() models.HealthSnapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	snap := models.HealthSnapshot{
		Timestamp: time.Now().UTC(),
		HeapUsed:  ms.HeapAlloc,
		HeapTotal: ms.HeapSys,
		External:  ms.StackSys + ms.MSpanSys + ms.MCacheSys + ms.GCSys + ms.OtherSys,
	}
	if snap.HeapTotal > 0 {
		snap.HeapRatio = float64(snap.HeapUsed) / float64(snap.HeapTotal)
	}
	if avg, err := s.loadAvg(); err == nil && avg != nil {
		snap.CPULoad = avg.Load1
	}

	if mi, err := s.memInfo(); err == nil && mi != nil {
		snap.RSS = mi.RSS
	}
	if snap.RSS == 0 {
		snap.RSS = ms.Sys
	}
	if vm, err := s.virtual(); err == nil && vm != nil && vm.Total > 0 {
		snap.RSSRatio = float64(snap.RSS) / float64(vm.Total)
	}
	return snap
}
