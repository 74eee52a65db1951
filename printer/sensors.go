package printer

import "github.com/john/monox_bridge/uartwifi"

// Kind selects how a raw field is coerced into a display value.
type Kind int

const (
	KindString Kind = iota
	KindFile
	KindFloat
	KindInteger
	KindVolume
	KindDuration
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindFloat:
		return "float"
	case KindInteger:
		return "integer"
	case KindVolume:
		return "volume"
	case KindDuration:
		return "duration"
	default:
		return "string"
	}
}

// Keys of the values derived rather than read from a single field.
const (
	KeyInternalFile    = "internal_file"
	KeyRemainingLayers = "remaining_layers"
	KeyTotalTime       = "total_time"
)

// Sensor describes one tracked value: where it comes from, how it is coerced,
// and how it is presented.
type Sensor struct {
	Source string
	Key    string
	Label  string
	Unit   string
	Kind   Kind

	field func(*uartwifi.Status) uartwifi.Field
}

// Sensors is the static lookup table driving ParseExtras.
var Sensors = []Sensor{
	{"file", "file", "File", "", KindFile, func(s *uartwifi.Status) uartwifi.Field { return s.File }},
	{"total_layers", "total_layers", "Total Layers", "layers", KindInteger, func(s *uartwifi.Status) uartwifi.Field { return s.TotalLayers }},
	{"percent_complete", "percent_complete", "Print Progress", "%", KindInteger, func(s *uartwifi.Status) uartwifi.Field { return s.PercentComplete }},
	{"current_layer", "current_layer", "Current Layer", "layers", KindInteger, func(s *uartwifi.Status) uartwifi.Field { return s.CurrentLayer }},
	{"seconds_elapse", "time_elapsed", "Elapsed Time", "", KindDuration, func(s *uartwifi.Status) uartwifi.Field { return s.SecondsElapse }},
	{"seconds_remaining", "time_remaining", "Remaining Time", "", KindDuration, func(s *uartwifi.Status) uartwifi.Field { return s.SecondsRemaining }},
	{"total_volume", "total_volume", "Total Volume", "mL", KindVolume, func(s *uartwifi.Status) uartwifi.Field { return s.TotalVolume }},
	{"mode", "mode", "Mode", "", KindString, func(s *uartwifi.Status) uartwifi.Field { return s.Mode }},
	{"unknown1", "unknown1", "Unknown 1", "", KindString, func(s *uartwifi.Status) uartwifi.Field { return s.Unknown1 }},
	{"layer_height", "layer_height", "Layer Height", "mm", KindFloat, func(s *uartwifi.Status) uartwifi.Field { return s.LayerHeight }},
	{"unknown2", "unknown2", "Unknown 2", "", KindString, func(s *uartwifi.Status) uartwifi.Field { return s.Unknown2 }},
}

// derived lists the keys not backed by a table row.
var derived = []Sensor{
	{Key: KeyInternalFile, Label: "Internal File", Kind: KindString},
	{Key: KeyRemainingLayers, Label: "Remaining Layers", Unit: "layers", Kind: KindInteger},
	{Key: KeyTotalTime, Label: "Total Time", Kind: KindDuration},
}

// Catalog returns every sensor an Extras value can carry, table rows first.
func Catalog() []Sensor {
	out := make([]Sensor, 0, len(Sensors)+len(derived))
	out = append(out, Sensors...)
	return append(out, derived...)
}

// Keys returns the stable key set of a non-empty Extras value.
func Keys() []string {
	cat := Catalog()
	keys := make([]string, len(cat))
	for i, s := range cat {
		keys[i] = s.Key
	}
	return keys
}

// RawFields lists a status record by protocol field name, nil where absent.
func RawFields(st *uartwifi.Status) map[string]any {
	out := make(map[string]any, len(Sensors)+1)
	if st == nil {
		return out
	}
	out["status"] = fieldValue(st.Status)
	for _, s := range Sensors {
		out[s.Source] = fieldValue(s.field(st))
	}
	return out
}

func fieldValue(f uartwifi.Field) any {
	if v, ok := f.Get(); ok {
		return v
	}
	return nil
}
