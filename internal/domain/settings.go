package domain

// SettingsID is the primary key of the single settings document.
const SettingsID = "app-settings"

// Settings is the untyped per-installation settings document.
type Settings map[string]any

// Clone returns a shallow copy of s.
func (s Settings) Clone() Settings {
	out := make(Settings, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}
