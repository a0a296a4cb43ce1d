package httpapi

import (
	"net/http"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// health reports liveness plus enough process/system detail for an operator
// to tell a slow-starting instance from a genuinely wedged one: uptime, this
// process's RSS, and system-wide memory pressure. Never fails the request on
// a gopsutil read error — a health probe that 500s because /proc was briefly
// unreadable is worse than one that omits a field.
func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(h.startedAt).Seconds()),
	}

	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mi, err := proc.MemoryInfo(); err == nil {
			body["process_rss_bytes"] = mi.RSS
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		body["system_memory"] = map[string]any{
			"total_bytes":     vm.Total,
			"used_bytes":      vm.Used,
			"used_percent":    vm.UsedPercent,
			"available_bytes": vm.Available,
		}
	}

	writeJSON(w, http.StatusOK, body)
}
