package downloader

import (
	"fmt"

	"github.com/aleister1102/kaismonitor/internal/common/errorwrapper"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"
)

const bytesPerMB = 1024 * 1024

// DiskGuard refuses downloads when the storage volume is nearly full.
type DiskGuard struct {
	minFreeBytes uint64
	usage        func(path string) (*disk.UsageStat, error)
	logger       zerolog.Logger
}

// NewDiskGuard creates a guard requiring minFreeMB megabytes; 0 disables it.
func NewDiskGuard(minFreeMB int, logger zerolog.Logger) *DiskGuard {
	var minFree uint64
	if minFreeMB > 0 {
		minFree = uint64(minFreeMB) * bytesPerMB
	}
	return &DiskGuard{
		minFreeBytes: minFree,
		usage:        disk.Usage,
		logger:       logger.With().Str("component", "DiskGuard").Logger(),
	}
}

// Check inspects the volume holding path. A failure to read usage is logged
// and does not block the download.
func (g *DiskGuard) Check(path string) error {
	if g == nil || g.minFreeBytes == 0 {
		return nil
	}
	stat, err := g.usage(path)
	if err != nil {
		g.logger.Warn().Err(err).Str("path", path).Msg("Could not read disk usage, skipping free space check")
		return nil
	}
	if stat.Free < g.minFreeBytes {
		return fmt.Errorf("%w: %d MB free on %s, %d MB required",
			errorwrapper.ErrInsufficientSpace, stat.Free/bytesPerMB, stat.Path, g.minFreeBytes/bytesPerMB)
	}
	return nil
}
