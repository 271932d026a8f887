// Package sysinfo reads host metrics from Linux procfs. Agent sessions are
// heavyweight processes, so operators watching a foundry host need load,
// memory and disk next to the session list.
package sysinfo

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Stats is a point-in-time host metrics snapshot.
type Stats struct {
	Load   LoadInfo   `json:"load"`
	Memory MemoryInfo `json:"memory"`
	Disk   DiskInfo   `json:"disk"`
	Uptime UptimeInfo `json:"uptime"`
}

// LoadInfo holds load averages and core count.
type LoadInfo struct {
	Avg1   float64 `json:"avg_1"`
	Avg5   float64 `json:"avg_5"`
	Avg15  float64 `json:"avg_15"`
	NumCPU int     `json:"num_cpu"`
}

// MemoryInfo holds system memory usage.
type MemoryInfo struct {
	TotalBytes     uint64  `json:"total_bytes"`
	UsedBytes      uint64  `json:"used_bytes"`
	AvailableBytes uint64  `json:"available_bytes"`
	UsedPercent    float64 `json:"used_percent"`
}

// DiskInfo holds filesystem usage for a mount path.
type DiskInfo struct {
	TotalBytes     uint64  `json:"total_bytes"`
	UsedBytes      uint64  `json:"used_bytes"`
	AvailableBytes uint64  `json:"available_bytes"`
	UsedPercent    float64 `json:"used_percent"`
	MountPath      string  `json:"mount_path"`
}

// UptimeInfo holds system uptime.
type UptimeInfo struct {
	Seconds float64 `json:"seconds"`
	Human   string  `json:"human"`
}

// Collector gathers host metrics. Results are cached briefly so rapid
// polling from multiple dashboard tabs stays cheap.
type Collector struct {
	mountPath string
	cacheTTL  time.Duration

	mu       sync.RWMutex
	cached   *Stats
	cachedAt time.Time

	// Injectable for tests.
	readFile func(path string) (string, error)
	statFS   func(path string) (*syscall.Statfs_t, error)
}

// NewCollector creates a collector reporting disk usage for mountPath.
func NewCollector(mountPath string, cacheTTL time.Duration) *Collector {
	if mountPath == "" {
		mountPath = "/"
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Second
	}
	return &Collector{
		mountPath: mountPath,
		cacheTTL:  cacheTTL,
		readFile: func(path string) (string, error) {
			data, err := os.ReadFile(path)
			return string(data), err
		},
		statFS: func(path string) (*syscall.Statfs_t, error) {
			var stat syscall.Statfs_t
			if err := syscall.Statfs(path, &stat); err != nil {
				return nil, err
			}
			return &stat, nil
		},
	}
}

// Collect returns host metrics, reusing a cached snapshot within the TTL.
func (c *Collector) Collect() (*Stats, error) {
	c.mu.RLock()
	if c.cached != nil && time.Since(c.cachedAt) < c.cacheTTL {
		result := *c.cached
		c.mu.RUnlock()
		return &result, nil
	}
	c.mu.RUnlock()

	load, err := c.collectLoad()
	if err != nil {
		return nil, fmt.Errorf("load: %w", err)
	}
	mem, err := c.collectMemory()
	if err != nil {
		return nil, fmt.Errorf("memory: %w", err)
	}
	disk, err := c.collectDisk()
	if err != nil {
		return nil, fmt.Errorf("disk: %w", err)
	}

	result := &Stats{
		Load:   load,
		Memory: mem,
		Disk:   disk,
		Uptime: c.collectUptime(),
	}

	c.mu.Lock()
	c.cached = result
	c.cachedAt = time.Now()
	c.mu.Unlock()

	return result, nil
}

func (c *Collector) collectLoad() (LoadInfo, error) {
	content, err := c.readFile("/proc/loadavg")
	if err != nil {
		return LoadInfo{NumCPU: runtime.NumCPU()}, err
	}
	return ParseLoadAvg(content), nil
}

// ParseLoadAvg parses /proc/loadavg content.
func ParseLoadAvg(content string) LoadInfo {
	fields := strings.Fields(strings.TrimSpace(content))
	info := LoadInfo{NumCPU: runtime.NumCPU()}
	if len(fields) >= 1 {
		info.Avg1, _ = strconv.ParseFloat(fields[0], 64)
	}
	if len(fields) >= 2 {
		info.Avg5, _ = strconv.ParseFloat(fields[1], 64)
	}
	if len(fields) >= 3 {
		info.Avg15, _ = strconv.ParseFloat(fields[2], 64)
	}
	return info
}

func (c *Collector) collectMemory() (MemoryInfo, error) {
	content, err := c.readFile("/proc/meminfo")
	if err != nil {
		return MemoryInfo{}, err
	}
	return ParseMemInfo(content), nil
}

// ParseMemInfo parses /proc/meminfo content. Values are converted from kB
// to bytes. On kernels without MemAvailable the available estimate falls
// back to MemFree plus buffers and cache.
func ParseMemInfo(content string) MemoryInfo {
	fields := make(map[string]uint64)
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		key, rest, found := strings.Cut(scanner.Text(), ":")
		if !found {
			continue
		}
		raw := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(rest), "kB"))
		val, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			continue
		}
		fields[strings.TrimSpace(key)] = val * 1024
	}

	total := fields["MemTotal"]
	available := fields["MemAvailable"]
	if available == 0 {
		available = fields["MemFree"] + fields["Buffers"] + fields["Cached"]
	}

	var used uint64
	if total > available {
		used = total - available
	}
	var usedPercent float64
	if total > 0 {
		usedPercent = roundTo(float64(used)/float64(total)*100, 1)
	}

	return MemoryInfo{
		TotalBytes:     total,
		UsedBytes:      used,
		AvailableBytes: available,
		UsedPercent:    usedPercent,
	}
}

func (c *Collector) collectDisk() (DiskInfo, error) {
	stat, err := c.statFS(c.mountPath)
	if err != nil {
		return DiskInfo{MountPath: c.mountPath}, err
	}
	return statFSToDiskInfo(stat, c.mountPath), nil
}

func statFSToDiskInfo(stat *syscall.Statfs_t, mountPath string) DiskInfo {
	total := stat.Blocks * uint64(stat.Bsize)
	available := stat.Bavail * uint64(stat.Bsize)
	used := total - stat.Bfree*uint64(stat.Bsize)

	var usedPercent float64
	if total > 0 {
		usedPercent = roundTo(float64(used)/float64(total)*100, 1)
	}

	return DiskInfo{
		TotalBytes:     total,
		UsedBytes:      used,
		AvailableBytes: available,
		UsedPercent:    usedPercent,
		MountPath:      mountPath,
	}
}

func (c *Collector) collectUptime() UptimeInfo {
	content, err := c.readFile("/proc/uptime")
	if err != nil {
		return UptimeInfo{}
	}
	return ParseUptime(content)
}

// ParseUptime parses /proc/uptime content.
func ParseUptime(content string) UptimeInfo {
	fields := strings.Fields(strings.TrimSpace(content))
	if len(fields) == 0 {
		return UptimeInfo{}
	}
	seconds, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return UptimeInfo{}
	}
	return UptimeInfo{
		Seconds: seconds,
		Human:   humanDuration(time.Duration(seconds) * time.Second),
	}
}

func humanDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

func roundTo(v float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(v*factor) / factor
}
