// Package resource implements the pressure classifier, the 60-second
// budget reallocator, the admission gate, and the sliding-window LLM token
// budget from spec §4.7. No third-party system-metrics library appears
// anywhere in the reference corpus (gopsutil and friends are absent from
// every example's go.mod), so the pressure sampler reads /proc directly —
// the standard, dependency-free way to get RAM/storage figures on the
// target platform when no ecosystem library is already in hand.
package resource

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"syscall"

	"iris/internal/types"
)

// Sampler reports the two percentages the pressure classifier consumes.
// Swappable in tests; the default implementation samples the live host.
type Sampler interface {
	Sample() (ramPercent, storagePercent float64, err error)
}

// hostSampler reads /proc/meminfo for RAM and statfs("/") for storage.
type hostSampler struct{}

// NewHostSampler builds the default live-host Sampler.
func NewHostSampler() Sampler { return hostSampler{} }

func (hostSampler) Sample() (float64, float64, error) {
	ram, err := ramPercentFromProc("/proc/meminfo")
	if err != nil {
		return 0, 0, types.Tag(types.KindTransient, "resource.Sample", err)
	}
	storage, err := storagePercent("/")
	if err != nil {
		return 0, 0, types.Tag(types.KindTransient, "resource.Sample", err)
	}
	return ram, storage, nil
}

func ramPercentFromProc(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var total, available float64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			total = parseMeminfoKB(line)
		case strings.HasPrefix(line, "MemAvailable:"):
			available = parseMeminfoKB(line)
		}
	}
	if total == 0 {
		return 0, nil
	}
	used := total - available
	return (used / total) * 100, nil
}

func parseMeminfoKB(line string) float64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	v, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return 0
	}
	return v
}

func storagePercent(path string) (float64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, err
	}
	total := float64(stat.Blocks) * float64(stat.Bsize)
	free := float64(stat.Bavail) * float64(stat.Bsize)
	if total == 0 {
		return 0, nil
	}
	used := total - free
	return (used / total) * 100, nil
}

// Classify samples the host and returns its current pressure level.
func Classify(s Sampler) (types.PressureLevel, error) {
	ram, storage, err := s.Sample()
	if err != nil {
		return types.PressureNormal, err
	}
	return types.ClassifyPressure(ram, storage), nil
}
