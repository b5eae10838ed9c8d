package api

import (
	"net/http"
	"runtime"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// SystemStats is a host snapshot served next to the service status
type SystemStats struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryUsedMB  float64 `json:"memory_used_mb"`
	Load1         float64 `json:"load_1"`
	NumCPU        int     `json:"num_cpu"`
	Goroutines    int     `json:"goroutines"`
}

// System handles GET /system. Metrics the host cannot provide are left at
// zero.
func (h *Handler) System(c *gin.Context) {
	ctx := c.Request.Context()
	stats := SystemStats{
		NumCPU:     runtime.NumCPU(),
		Goroutines: runtime.NumGoroutine(),
	}

	if memStats, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.MemoryPercent = memStats.UsedPercent
		stats.MemoryUsedMB = float64(memStats.Used) / (1024 * 1024)
	} else {
		h.logger.Debug("memory stats unavailable", "error", err)
	}

	// interval 0 compares against the previous call instead of sleeping
	if cpuPercents, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(cpuPercents) > 0 {
		stats.CPUPercent = cpuPercents[0]
	}

	if loadStats, err := load.AvgWithContext(ctx); err == nil {
		stats.Load1 = loadStats.Load1
	}

	c.JSON(http.StatusOK, stats)
}
