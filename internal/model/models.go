// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"fmt"
	"sort"
	"strings"
)

// =============================================================================
// THINKING TIERS
// =============================================================================

// Tier is a named reasoning-effort level.
type Tier string

const (
	TierNone    Tier = "none"
	TierLow     Tier = "low"
	TierMedium  Tier = "medium"
	TierHigh    Tier = "high"
	TierDynamic Tier = "dynamic"
)

// Tiers lists every tier in display order.
var Tiers = []Tier{TierNone, TierLow, TierMedium, TierHigh, TierDynamic}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	for _, v := range Tiers {
		if v == t {
			return true
		}
	}
	return false
}

// DisplayName returns the label shown for a tier.
func (t Tier) DisplayName() string {
	switch t {
	case TierNone:
		return "None"
	case TierLow:
		return "Low"
	case TierMedium:
		return "Medium"
	case TierHigh:
		return "High"
	case TierDynamic:
		return "Dynamic"
	default:
		return string(t)
	}
}

// ReasoningEffort is the numeric thinking budget sent to the API.
// Auto asks the model to choose its own budget.
type ReasoningEffort struct {
	Auto   bool
	Tokens int
}

// AutoBudget is the wire value the API uses for a dynamic budget.
const AutoBudget = -1

// Value returns the wire value: AutoBudget when Auto is set, else Tokens.
func (e ReasoningEffort) Value() int {
	if e.Auto {
		return AutoBudget
	}
	return e.Tokens
}

// String implements fmt.Stringer.
func (e ReasoningEffort) String() string {
	if e.Auto {
		return "auto"
	}
	return fmt.Sprintf("%d", e.Tokens)
}

// =============================================================================
// MODEL REGISTRY
// =============================================================================

// ModelInfo describes a Gemini model's reasoning limits.
type ModelInfo struct {
	ID          string
	Name        string
	Description string

	// MaxThinking is the model's reasoning-token ceiling.
	MaxThinking int

	// DefaultTier is back-filled into settings when no tier is stored.
	DefaultTier Tier

	// CanDisableThinking is false for models that always reason.
	CanDisableThinking bool
}

// DefaultModel is selected when settings carry no model.
const DefaultModel = "gemini-2.5-flash"

// Models is the registry of supported models keyed by ID.
var Models = map[string]ModelInfo{
	"gemini-2.5-flash-lite": {
		ID:                 "gemini-2.5-flash-lite",
		Name:               "Gemini 2.5 Flash Lite",
		Description:        "Fastest and most cost-efficient",
		MaxThinking:        8192,
		DefaultTier:        TierLow,
		CanDisableThinking: true,
	},
	"gemini-2.5-flash": {
		ID:                 "gemini-2.5-flash",
		Name:               "Gemini 2.5 Flash",
		Description:        "Balanced speed and capability",
		MaxThinking:        32768,
		DefaultTier:        TierMedium,
		CanDisableThinking: true,
	},
	"gemini-2.5-pro": {
		ID:                 "gemini-2.5-pro",
		Name:               "Gemini 2.5 Pro",
		Description:        "Most capable, always thinks",
		MaxThinking:        65536,
		DefaultTier:        TierHigh,
		CanDisableThinking: false,
	},
}

// LookupModel returns the registry entry for id.
func LookupModel(id string) (ModelInfo, bool) {
	m, ok := Models[id]
	return m, ok
}

// ModelIDs returns the registered IDs sorted by reasoning ceiling.
func ModelIDs() []string {
	ids := make([]string, 0, len(Models))
	for id := range Models {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return Models[ids[i]].MaxThinking < Models[ids[j]].MaxThinking
	})
	return ids
}

// AvailableTiers returns the tiers a model accepts. None is offered only when
// the model can disable thinking.
func (m ModelInfo) AvailableTiers() []Tier {
	out := make([]Tier, 0, len(Tiers))
	for _, t := range Tiers {
		if t == TierNone && !m.CanDisableThinking {
			continue
		}
		out = append(out, t)
	}
	return out
}

// SupportsTier reports whether t is valid for the model.
func (m ModelInfo) SupportsTier(t Tier) bool {
	if !t.Valid() {
		return false
	}
	return t != TierNone || m.CanDisableThinking
}

// Reasoning maps a tier onto this model's numeric budget.
func (m ModelInfo) Reasoning(t Tier) (ReasoningEffort, error) {
	switch t {
	case TierDynamic:
		return ReasoningEffort{Auto: true}, nil
	case TierNone:
		return ReasoningEffort{Tokens: 0}, nil
	case TierLow:
		return ReasoningEffort{Tokens: m.MaxThinking / 3}, nil
	case TierMedium:
		return ReasoningEffort{Tokens: 2 * m.MaxThinking / 3}, nil
	case TierHigh:
		return ReasoningEffort{Tokens: m.MaxThinking}, nil
	default:
		return ReasoningEffort{}, fmt.Errorf("unknown thinking tier %q", t)
	}
}

// ReasoningValue resolves a tier for the model with the given ID.
func ReasoningValue(t Tier, modelID string) (ReasoningEffort, error) {
	m, ok := Models[modelID]
	if !ok {
		return ReasoningEffort{}, fmt.Errorf("unknown model %q", modelID)
	}
	return m.Reasoning(t)
}

// DescribeModels returns a short multi-line listing of the registry.
func DescribeModels() string {
	var b strings.Builder
	for _, id := range ModelIDs() {
		m := Models[id]
		fmt.Fprintf(&b, "%-22s %s (max %d thinking tokens)\n", id, m.Description, m.MaxThinking)
	}
	return b.String()
}
