package topology

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/cpu"
)

// cpuInfo allows tests to stub the /proc/cpuinfo lookup.
var cpuInfo = cpu.InfoWithContext

// CPUModels maps each CPU ID to its model name. CPUs without a model name
// (common on Arm) are described by their implementer fields, or "unknown".
func CPUModels(ctx context.Context) (map[int]string, error) {
	infos, err := cpuInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading cpu info: %w", err)
	}
	models := make(map[int]string, len(infos))
	for _, info := range infos {
		models[int(info.CPU)] = describe(info)
	}
	return models, nil
}

func describe(info cpu.InfoStat) string {
	if info.ModelName != "" {
		return info.ModelName
	}
	if info.VendorID != "" || info.Family != "" || info.Model != "" {
		return fmt.Sprintf("Vendor: %s Family: %s Model: %s Stepping: %d",
			info.VendorID, info.Family, info.Model, info.Stepping)
	}
	return "unknown"
}
