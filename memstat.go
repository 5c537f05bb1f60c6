package main

import (
	"runtime"

	"github.com/prometheus/procfs"
)

// MemoryProbe reports the current memory footprint of the process.
type MemoryProbe interface {
	CurrentUsage() (MemoryUsage, error)
}

// procMemoryProbe reads /proc/self/status. Shared memory is resident file
// and shmem pages, private memory is resident anonymous pages.
type procMemoryProbe struct {
	fs procfs.FS
}

func newMemoryProbe() MemoryProbe {
	fs, err := procfs.NewFS(procfs.DefaultMountPoint)
	if err != nil {
		logger.Info("procfs unavailable, using runtime memory stats", "component", "memstat", "error", err)
		return runtimeMemoryProbe{}
	}
	if _, err := fs.Self(); err != nil {
		logger.Info("procfs self unavailable, using runtime memory stats", "component", "memstat", "error", err)
		return runtimeMemoryProbe{}
	}
	return &procMemoryProbe{fs: fs}
}

func (p *procMemoryProbe) CurrentUsage() (MemoryUsage, error) {
	proc, err := p.fs.Self()
	if err != nil {
		return MemoryUsage{}, err
	}
	st, err := proc.NewStatus()
	if err != nil {
		return MemoryUsage{}, err
	}
	return MemoryUsage{
		Shared:   st.RssFile + st.RssShmem,
		Private:  st.RssAnon,
		Resident: st.VmRSS,
	}, nil
}

// runtimeMemoryProbe approximates the split from the Go runtime's view when
// procfs is not mounted (non-Linux hosts, sandboxes).
type runtimeMemoryProbe struct{}

func (runtimeMemoryProbe) CurrentUsage() (MemoryUsage, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	private := ms.HeapInuse + ms.StackInuse
	shared := uint64(0)
	if ms.Sys > private {
		shared = ms.Sys - private
	}
	return MemoryUsage{
		Shared:   shared,
		Private:  private,
		Resident: ms.Sys,
	}, nil
}
