package printer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/john/monox_bridge/uartwifi"
)

const (
	fileSeparator = "/"
	volumeUnit    = "mL"
	volumeTilde   = "~"
	secondsPerDay = 24 * 60 * 60
)

// Extras maps sensor keys to display-ready values. A nil value means the
// printer did not report the field on this record; callers must not use key
// absence to detect missing data.
type Extras map[string]any

// ParseExtras normalizes a status record into display values.
//
// A nil record, or one without a status, yields an empty Extras, meaning "no
// usable data". Otherwise every key from Keys is present. When
// convertToSeconds is set, seconds_remaining is taken as over-scaled by the
// transport's minute conversion and divided by 60 before anything else reads
// it. raw is never modified.
func ParseExtras(raw *uartwifi.Status, convertToSeconds bool) Extras {
	extras := Extras{}
	if raw == nil || !raw.Status.Valid {
		return extras
	}

	st := *raw
	if convertToSeconds {
		if v, ok := st.SecondsRemaining.Get(); ok {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				st.SecondsRemaining = uartwifi.Some(strconv.Itoa(n / 60))
			}
		}
	}

	for _, key := range Keys() {
		extras[key] = nil
	}

	for _, s := range Sensors {
		value, ok := s.field(&st).Get()
		if !ok {
			continue
		}
		if s.Kind == KindFile {
			external, internal, err := splitFile(value)
			if err != nil {
				extras[s.Key] = value
				continue
			}
			extras[s.Key] = external
			extras[KeyInternalFile] = internal
			continue
		}
		v, err := coerce(s.Kind, value)
		if err != nil {
			extras[s.Key] = value
			continue
		}
		extras[s.Key] = v
	}

	if total, ok := intField(st.TotalLayers); ok {
		if current, ok := intField(st.CurrentLayer); ok {
			extras[KeyRemainingLayers] = total - current
		}
	}

	if elapsed, ok := intField(st.SecondsElapse); ok {
		if remaining, ok := intField(st.SecondsRemaining); ok {
			extras[KeyTotalTime] = FormatDuration(elapsed + remaining)
		}
	}

	return extras
}

func coerce(kind Kind, raw string) (any, error) {
	switch kind {
	case KindFloat:
		return strconv.ParseFloat(strings.TrimSpace(raw), 64)
	case KindInteger:
		return strconv.Atoi(strings.TrimSpace(raw))
	case KindVolume:
		v := strings.ReplaceAll(raw, volumeUnit, "")
		v = strings.ReplaceAll(v, volumeTilde, "")
		return strconv.Atoi(strings.TrimSpace(v))
	case KindDuration:
		secs, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return nil, err
		}
		return FormatDuration(secs), nil
	default:
		return raw, nil
	}
}

func splitFile(raw string) (string, string, error) {
	parts := strings.Split(raw, fileSeparator)
	if len(parts) != 2 {
		return "", "", errors.Errorf("file %q: want external%sinternal", raw, fileSeparator)
	}
	return parts[0], parts[1], nil
}

func intField(f uartwifi.Field) (int, bool) {
	v, ok := f.Get()
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return n, true
}

// FormatDuration renders secs as HH:MM:SS. Values wrap every 24 hours; there
// is no day component.
func FormatDuration(secs int) string {
	secs %= secondsPerDay
	if secs < 0 {
		secs += secondsPerDay
	}
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, secs/60%60, secs%60)
}
