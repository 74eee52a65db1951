package bridge

import (
	"fmt"
	"math"
	"time"

	"github.com/john/monox_bridge/printer"
)

// Diagnostics dumps the bridge's internal state for support captures. Every
// value in the result can be passed to encoding/json.
func (b *Bridge) Diagnostics() map[string]any {
	data := b.State()

	var sysinfo any
	if data.SysInfo != nil {
		sysinfo = map[string]any{
			"model":    data.SysInfo.Model,
			"firmware": data.SysInfo.Firmware,
			"serial":   data.SysInfo.Serial,
			"wifi":     data.SysInfo.Wifi,
		}
	}

	var updated any
	if !data.UpdatedAt.IsZero() {
		updated = data.UpdatedAt
	}

	dump := map[string]any{
		"status":     printer.RawFields(&data.Status),
		"extras":     data.Extras,
		"failures":   data.Failures,
		"phase":      data.Phase,
		"last_error": data.LastError,
		"updated_at": updated,
		"sysinfo":    sysinfo,
		"settings": map[string]any{
			"unit_policy":       b.policyName(),
			"policy":            b.opts.Policy,
			"no_extras":         b.opts.NoExtras,
			"failure_threshold": b.opts.FailureThreshold,
		},
	}
	return jsonSafe(dump).(map[string]any)
}

// jsonSafe converts v into a tree of maps, slices and JSON scalars. Anything
// else is replaced by its string form.
func jsonSafe(v any) any {
	switch v := v.(type) {
	case nil, string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return v
	case float32:
		if f := float64(v); math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Sprint(v)
		}
		return v
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Sprint(v)
		}
		return v
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = jsonSafe(item)
		}
		return out
	case printer.Extras:
		return jsonSafe(map[string]any(v))
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = jsonSafe(item)
		}
		return out
	case time.Time:
		return v.Format(time.RFC3339Nano)
	case error:
		return v.Error()
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%+v", v)
	}
}
