package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// handleSystemHealth reports process, host, storage, engine and hub state
// in one payload for the operations dashboard.
func (s *Server) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	health := s.store.Health()
	payload := map[string]interface{}{
		"status":  "running",
		"uptime":  time.Since(s.startedAt).Round(time.Second).String(),
		"regime":  s.engine.Regime(),
		"storage": health,
		"hub": map[string]interface{}{
			"sessions": s.hub.SessionCount(),
		},
		"process": map[string]interface{}{
			"goroutines":     runtime.NumGoroutine(),
			"alloc_mb":       ms.Alloc / 1024 / 1024,
			"total_alloc_mb": ms.TotalAlloc / 1024 / 1024,
			"sys_mb":         ms.Sys / 1024 / 1024,
			"num_gc":         ms.NumGC,
		},
	}

	host := map[string]interface{}{}
	if vm, err := mem.VirtualMemory(); err == nil {
		host["ram_percent"] = vm.UsedPercent
		host["ram_total_mb"] = vm.Total / 1024 / 1024
	}
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		host["cpu_percent"] = pct[0]
	}
	payload["host"] = host

	s.writeJSON(w, http.StatusOK, payload)
}
