package uartwifi

import (
	"strconv"
	"strings"
)

// Request verbs understood by the printer's control port.
const (
	VerbStatus  = "getstatus"
	VerbSysInfo = "sysinfo"
)

// terminator closes every message the printer sends.
const terminator = "end"

// Field is an optional raw protocol value. Firmware variants omit trailing
// fields, so presence is tracked separately from the value.
type Field struct {
	Value string
	Valid bool
}

// Some returns a present field holding v.
func Some(v string) Field {
	return Field{Value: v, Valid: true}
}

// Get returns the value and whether the field was present.
func (f Field) Get() (string, bool) {
	return f.Value, f.Valid
}

// Response is one decoded line of a reply.
type Response interface {
	Verb() string
}

// Reply is every response decoded while waiting for one request. Other
// listeners on the same port may cause unrelated responses to be interleaved.
type Reply []Response

// Status is a decoded getstatus line.
type Status struct {
	Status           Field
	File             Field
	TotalLayers      Field
	PercentComplete  Field
	CurrentLayer     Field
	SecondsElapse    Field
	SecondsRemaining Field
	TotalVolume      Field
	Mode             Field
	Unknown1         Field
	LayerHeight      Field
	Unknown2         Field
}

func (*Status) Verb() string { return VerbStatus }

// SysInfo is a decoded sysinfo line.
type SysInfo struct {
	Model    string
	Firmware string
	Serial   string
	Wifi     string
}

func (*SysInfo) Verb() string { return VerbSysInfo }

// Unknown is any line whose verb tag is not decoded by this package.
type Unknown struct {
	Tag    string
	Fields []string
}

func (u *Unknown) Verb() string { return u.Tag }

// Decode turns one message into a typed response. It returns nil for blank
// messages.
func Decode(msg string) Response {
	msg = strings.Trim(msg, "\r\n\t ")
	msg = strings.TrimSuffix(msg, ","+terminator)
	if msg == "" || msg == terminator {
		return nil
	}

	fields := strings.Split(msg, ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	switch fields[0] {
	case VerbStatus:
		return decodeStatus(fields[1:])
	case VerbSysInfo:
		return decodeSysInfo(fields[1:])
	default:
		return &Unknown{Tag: fields[0], Fields: fields[1:]}
	}
}

func decodeStatus(fields []string) *Status {
	s := &Status{}
	slots := []*Field{
		&s.Status,
		&s.File,
		&s.TotalLayers,
		&s.PercentComplete,
		&s.CurrentLayer,
		&s.SecondsElapse,
		&s.SecondsRemaining,
		&s.TotalVolume,
		&s.Mode,
		&s.Unknown1,
		&s.LayerHeight,
		&s.Unknown2,
	}
	for i, v := range fields {
		if i >= len(slots) {
			break
		}
		if v == "" {
			continue
		}
		*slots[i] = Some(v)
	}

	// Mono X and 4K firmware report remaining time in minutes.
	if v, ok := s.SecondsRemaining.Get(); ok {
		if mins, err := strconv.Atoi(v); err == nil {
			s.SecondsRemaining = Some(strconv.Itoa(mins * 60))
		}
	}
	return s
}

func decodeSysInfo(fields []string) *SysInfo {
	info := &SysInfo{}
	dst := []*string{&info.Model, &info.Firmware, &info.Serial, &info.Wifi}
	for i, v := range fields {
		if i >= len(dst) {
			break
		}
		*dst[i] = v
	}
	return info
}
