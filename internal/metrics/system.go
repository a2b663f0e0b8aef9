package metrics

import (
	"bufio"
	"errors"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

var errUnexpectedProcFormat = errors.New("metrics: unexpected /proc format")

// SystemSnapshot is the OS and Go-runtime portion of /metrics.
type SystemSnapshot struct {
	UptimeSec      int64   `json:"uptime_sec"`
	CPUPercent     float64 `json:"cpu_percent"`
	MemUsedBytes   uint64  `json:"mem_used_bytes"`
	MemTotalBytes  uint64  `json:"mem_total_bytes"`
	MemPercent     float64 `json:"mem_percent"`
	LoadAvg1       float64 `json:"load_avg_1"`
	ProcessRSS     uint64  `json:"process_rss_bytes"`
	Goroutines     int     `json:"goroutines"`
	HeapAllocBytes uint64  `json:"heap_alloc_bytes"`
	NumGC          uint32  `json:"num_gc"`
}

// SystemSampler reads CPU and memory usage from the OS. CPU usage is
// the delta between consecutive /proc/stat reads, so the constructor
// seeds a baseline and the first Sample returns a real percentage.
type SystemSampler struct {
	startTime time.Time

	mu        sync.Mutex
	prevIdle  uint64
	prevTotal uint64
}

// NewSystemSampler seeds the CPU baseline.
func NewSystemSampler() *SystemSampler {
	s := &SystemSampler{startTime: time.Now()}
	s.prevIdle, s.prevTotal, _ = readCPUStat()
	return s
}

// Sample collects one snapshot. Unreadable /proc files leave their
// fields zero rather than failing the whole snapshot.
func (s *SystemSampler) Sample() SystemSnapshot {
	snap := SystemSnapshot{
		UptimeSec:  int64(time.Since(s.startTime).Seconds()),
		Goroutines: runtime.NumGoroutine(),
	}

	s.mu.Lock()
	idle, total, err := readCPUStat()
	if err == nil && total > s.prevTotal {
		idleDelta := float64(idle - s.prevIdle)
		totalDelta := float64(total - s.prevTotal)
		snap.CPUPercent = (1 - idleDelta/totalDelta) * 100
		s.prevIdle = idle
		s.prevTotal = total
	}
	s.mu.Unlock()

	memTotal, memAvail, err := readMemInfo()
	if err == nil && memTotal > 0 {
		snap.MemTotalBytes = memTotal
		snap.MemUsedBytes = memTotal - memAvail
		snap.MemPercent = float64(snap.MemUsedBytes) / float64(memTotal) * 100
	}

	snap.LoadAvg1, _ = readLoadAvg()
	snap.ProcessRSS, _ = readProcessRSS()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	snap.HeapAllocBytes = ms.HeapAlloc
	snap.NumGC = ms.NumGC

	return snap
}

// readCPUStat parses the aggregate cpu line of /proc/stat and returns
// idle and total ticks.
func readCPUStat() (idle, total uint64, err error) {
	data, err := os.ReadFile("/proc/stat")
	if err != nil {
		return 0, 0, err
	}
	line := strings.SplitN(string(data), "\n", 2)[0]
	fields := strings.Fields(line)
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0, 0, errUnexpectedProcFormat
	}
	for i := 1; i < len(fields); i++ {
		val, _ := strconv.ParseUint(fields[i], 10, 64)
		total += val
		if i == 4 {
			idle = val
		}
	}
	return idle, total, nil
}

// readMemInfo parses /proc/meminfo for MemTotal and MemAvailable.
func readMemInfo() (total, available uint64, err error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	found := 0
	for scanner.Scan() && found < 2 {
		line := scanner.Text()
		if strings.HasPrefix(line, "MemTotal:") {
			total = parseKBLine(line)
			found++
		} else if strings.HasPrefix(line, "MemAvailable:") {
			available = parseKBLine(line)
			found++
		}
	}
	return total, available, nil
}

// parseKBLine converts a "Label:  123456 kB" /proc line to bytes.
func parseKBLine(line string) uint64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	val, _ := strconv.ParseUint(fields[1], 10, 64)
	return val * 1024
}

// readLoadAvg reads the 1-minute load average from /proc/loadavg.
func readLoadAvg() (float64, error) {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) < 1 {
		return 0, errUnexpectedProcFormat
	}
	return strconv.ParseFloat(fields[0], 64)
}

// readProcessRSS reads VmRSS from /proc/self/status.
func readProcessRSS() (uint64, error) {
	f, err := os.Open("/proc/self/status")
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "VmRSS:") {
			return parseKBLine(line), nil
		}
	}
	return 0, errUnexpectedProcFormat
}
