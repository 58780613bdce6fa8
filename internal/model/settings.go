// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"maps"
	"math"
)

// =============================================================================
// SETTINGS MODE
// =============================================================================

// SettingsMode selects how generation controls are exposed.
type SettingsMode string

const (
	// ModeSimple exposes independent thinking and temperature controls.
	ModeSimple SettingsMode = "simple"
	// ModeSimplest exposes named response styles only.
	ModeSimplest SettingsMode = "simplest"
)

// Valid reports whether m is a known mode.
func (m SettingsMode) Valid() bool {
	return m == ModeSimple || m == ModeSimplest
}

// =============================================================================
// RESPONSE STYLES
// =============================================================================

// ResponseStyle is the key of a preset bundling a tier and a temperature.
type ResponseStyle string

const (
	StyleAnalytical ResponseStyle = "analytical"
	StyleCreative   ResponseStyle = "creative"
	StyleBalanced   ResponseStyle = "balanced"
	StyleConcise    ResponseStyle = "concise"
	StyleInstant    ResponseStyle = "instant"

	// StyleCustom is displayed when raw values match no preset. It is never
	// stored as the selected style.
	StyleCustom ResponseStyle = "custom"
)

// Preset binds a response style to fixed generation values.
type Preset struct {
	Style       ResponseStyle
	Name        string
	Description string
	Tier        Tier
	Temperature float64
}

// PresetTolerance is the temperature distance under which a preset matches.
const PresetTolerance = 0.05

// Presets in matching order.
var Presets = []Preset{
	{StyleAnalytical, "Analytical", "Deep thinking, precise answers", TierHigh, 0.1},
	{StyleCreative, "Creative", "Deep thinking, imaginative answers", TierHigh, 0.8},
	{StyleBalanced, "Balanced", "Moderate thinking and variety", TierMedium, 0.5},
	{StyleConcise, "Concise", "Light thinking, focused answers", TierLow, 0.3},
	{StyleInstant, "Instant", "No thinking, fastest replies", TierNone, 0.4},
}

// LookupPreset returns the preset for a style key.
func LookupPreset(style ResponseStyle) (Preset, bool) {
	for _, p := range Presets {
		if p.Style == style {
			return p, true
		}
	}
	return Preset{}, false
}

// MatchPreset returns the first preset whose tier equals t and whose
// temperature is within PresetTolerance of temp.
func MatchPreset(t Tier, temp float64) (ResponseStyle, bool) {
	for _, p := range Presets {
		if p.Tier == t && math.Abs(p.Temperature-temp) < PresetTolerance {
			return p.Style, true
		}
	}
	return "", false
}

// =============================================================================
// SETTINGS
// =============================================================================

// DefaultTemperature is the sampling temperature for fresh settings.
const DefaultTemperature = 0.7

// Settings holds user preferences. The whole object is persisted on every change.
type Settings struct {
	APIKey          string          `json:"apiKey"`
	SelectedModel   string          `json:"selectedModel"`
	ThinkingBudgets map[string]Tier `json:"thinkingBudgets"`
	Temperature     float64         `json:"temperature"`
	SettingsMode    SettingsMode    `json:"settingsMode"`
	ResponseStyle   ResponseStyle   `json:"responseStyle"`
}

// DefaultSettings returns settings with every model's default tier.
func DefaultSettings() Settings {
	s := Settings{
		SelectedModel: DefaultModel,
		Temperature:   DefaultTemperature,
		SettingsMode:  ModeSimple,
		ResponseStyle: StyleBalanced,
	}
	s.FillDefaults()
	return s
}

// FillDefaults back-fills missing fields and per-model tiers in place.
func (s *Settings) FillDefaults() {
	if s.ThinkingBudgets == nil {
		s.ThinkingBudgets = make(map[string]Tier, len(Models))
	}
	for id, m := range Models {
		if t, ok := s.ThinkingBudgets[id]; !ok || !m.SupportsTier(t) {
			s.ThinkingBudgets[id] = m.DefaultTier
		}
	}
	if _, ok := Models[s.SelectedModel]; !ok {
		s.SelectedModel = DefaultModel
	}
	if !s.SettingsMode.Valid() {
		s.SettingsMode = ModeSimple
	}
	if _, ok := LookupPreset(s.ResponseStyle); !ok {
		s.ResponseStyle = StyleBalanced
	}
	if s.Temperature < 0 || s.Temperature > 2 || math.IsNaN(s.Temperature) {
		s.Temperature = DefaultTemperature
	}
}

// Clone returns a copy that shares no map with s.
func (s Settings) Clone() Settings {
	c := s
	c.ThinkingBudgets = maps.Clone(s.ThinkingBudgets)
	return c
}

// Tier returns the tier for the selected model.
func (s Settings) Tier() Tier {
	if t, ok := s.ThinkingBudgets[s.SelectedModel]; ok {
		return t
	}
	if m, ok := Models[s.SelectedModel]; ok {
		return m.DefaultTier
	}
	return TierMedium
}

// Params returns the generation parameters currently in effect.
func (s Settings) Params() GenerationParams {
	return GenerationParams{
		Model:       s.SelectedModel,
		Tier:        s.Tier(),
		Temperature: s.Temperature,
	}
}

// DisplayStyle returns the recorded style if the raw values still match a
// preset, or StyleCustom.
func (s Settings) DisplayStyle() ResponseStyle {
	if style, ok := MatchPreset(s.Tier(), s.Temperature); ok {
		return style
	}
	return StyleCustom
}

// SyncPreset records the matching preset for the current raw values. The
// previous key is kept when nothing matches.
func (s *Settings) SyncPreset() {
	if style, ok := MatchPreset(s.Tier(), s.Temperature); ok {
		s.ResponseStyle = style
	}
}

// MaskedAPIKey returns the key with everything but the last four characters hidden.
func (s Settings) MaskedAPIKey() string {
	if s.APIKey == "" {
		return "(not set)"
	}
	if len(s.APIKey) <= 8 {
		return "****"
	}
	return s.APIKey[:4] + "..." + s.APIKey[len(s.APIKey)-4:]
}
