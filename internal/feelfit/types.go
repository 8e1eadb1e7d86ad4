package feelfit

import (
	"strconv"
	"strings"
)

// Profile is one user identity (primary or sub-user) under an account.
// Upstream attaches arbitrary attributes (weight, height, birthday, ...)
// so the raw record is preserved and read through accessors.
type Profile map[string]any

// UserID returns the opaque profile identifier as a string.
func (p Profile) UserID() string {
	return coerceString(p["user_id"])
}

// AccountName returns the normalized display name set by the directory.
func (p Profile) AccountName() string {
	return coerceString(p["account_name"])
}

// IsPrimary reports whether this is the account's primary profile.
func (p Profile) IsPrimary() bool {
	b, _ := p["is_primary"].(bool)
	return b
}

// Timestamp returns the profile's own time_stamp field, 0 when absent
// or unparsable.
func (p Profile) Timestamp() int64 {
	return coerceInt64(p["time_stamp"])
}

// DeviceBind is a raw record linking a physical scale to the account,
// optionally enriched with model_info and brand_name by the join.
type DeviceBind map[string]any

// DeviceModel is a raw catalog entry describing a scale's brand/model.
type DeviceModel map[string]any

// MeasurementBlock is the per-profile measurement snapshot, rebuilt on
// every fetch. Measurements keep the server order (newest first).
type MeasurementBlock struct {
	LastMeasurement map[string]any   `json:"last_measurement"`
	Measurements    []map[string]any `json:"measurements"`
	LastUpdatedAt   int64            `json:"last_updated_at"`
}

// ProfileData groups everything fetched for one profile in a cycle.
type ProfileData struct {
	UserInfo     Profile          `json:"user_info"`
	UserSettings map[string]any   `json:"user_settings"`
	Goals        map[string]any   `json:"goals"`
	Measurements MeasurementBlock `json:"measurements"`
}

// DeviceBindsPayload holds the account-wide device records after the
// bind/model join.
type DeviceBindsPayload struct {
	DeviceBinds  []DeviceBind  `json:"device_binds"`
	DeviceModels []DeviceModel `json:"device_models"`
}

// AggregatePayload is the merged snapshot of one fetch cycle. It is
// rebuilt from scratch each cycle and never mutated afterwards; the
// presentation layer must treat every field as optionally absent.
type AggregatePayload struct {
	Profiles    []ProfileData      `json:"profiles"`
	AllProfiles []Profile          `json:"all_profiles"`
	DeviceBinds DeviceBindsPayload `json:"device_binds"`
	PrimaryUser map[string]any     `json:"primary_user"`
}

// cursor marks the last successfully retrieved measurement for one
// profile. Fields advance from server-reported values and are never
// cleared once set.
type cursor struct {
	LastUpdatedAt     int64
	LastMeasurementID int64
}

// coerceString renders scalar JSON values as strings; numeric ids come
// back from the API as either strings or numbers.
func coerceString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// coerceInt64 parses JSON numbers and numeric strings, 0 otherwise.
func coerceInt64(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case int64:
		return t
	case int:
		return int64(t)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

func asObject(v any) map[string]any {
	m, _ := v.(map[string]any)
	if m == nil {
		return map[string]any{}
	}
	return m
}

func asObjectList(v any) []map[string]any {
	raw, _ := v.([]any)
	if raw == nil {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
