package supervisor

import (
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Stats is a point-in-time view of the supervised child.
type Stats struct {
	State      string  `json:"state"`
	PID        int     `json:"pid,omitempty"`
	Restarts   int64   `json:"restarts"`
	Pending    int     `json:"pending"`
	UptimeSec  float64 `json:"uptime_seconds,omitempty"`
	RSSBytes   uint64  `json:"rss_bytes,omitempty"`
	CPUPercent float64 `json:"cpu_percent,omitempty"`
	Threads    int32   `json:"threads,omitempty"`
}

// Stats collects lifecycle counters plus OS-level resource usage of the
// running child. Resource fields stay zero when the process cannot be read.
func (s *Supervisor) Stats() Stats {
	s.mu.Lock()
	st := Stats{
		State:    s.state.String(),
		PID:      s.pid,
		Restarts: s.restarts,
	}
	started := s.startedAt
	s.mu.Unlock()

	st.Pending = s.table.Len()
	if st.PID == 0 {
		return st
	}
	st.UptimeSec = time.Since(started).Seconds()

	proc, err := process.NewProcess(int32(st.PID))
	if err != nil {
		return st
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		st.RSSBytes = mem.RSS
	}
	if cpu, err := proc.CPUPercent(); err == nil {
		st.CPUPercent = cpu
	}
	if n, err := proc.NumThreads(); err == nil {
		st.Threads = n
	}
	return st
}
