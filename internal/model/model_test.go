// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"strconv"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// REASONING MAPPING TESTS
// =============================================================================

func TestReasoning_Flash(t *testing.T) {
	tests := []struct {
		tier Tier
		want ReasoningEffort
	}{
		{TierLow, ReasoningEffort{Tokens: 10922}},
		{TierMedium, ReasoningEffort{Tokens: 21845}},
		{TierHigh, ReasoningEffort{Tokens: 32768}},
		{TierNone, ReasoningEffort{Tokens: 0}},
		{TierDynamic, ReasoningEffort{Auto: true}},
	}

	for _, tc := range tests {
		t.Run(string(tc.tier), func(t *testing.T) {
			got, err := ReasoningValue(tc.tier, "gemini-2.5-flash")
			if err != nil {
				t.Fatalf("ReasoningValue() error = %v", err)
			}
			if got != tc.want {
				t.Errorf("ReasoningValue(%s) = %+v, want %+v", tc.tier, got, tc.want)
			}
		})
	}
}

func TestReasoning_EveryModel(t *testing.T) {
	for id, m := range Models {
		t.Run(id, func(t *testing.T) {
			low, _ := m.Reasoning(TierLow)
			med, _ := m.Reasoning(TierMedium)
			high, _ := m.Reasoning(TierHigh)
			if low.Tokens != m.MaxThinking/3 {
				t.Errorf("low = %d, want %d", low.Tokens, m.MaxThinking/3)
			}
			if med.Tokens != (2*m.MaxThinking)/3 {
				t.Errorf("medium = %d, want %d", med.Tokens, (2*m.MaxThinking)/3)
			}
			if high.Tokens != m.MaxThinking {
				t.Errorf("high = %d, want %d", high.Tokens, m.MaxThinking)
			}
		})
	}
}

func TestReasoning_UnknownInputs(t *testing.T) {
	if _, err := ReasoningValue(TierLow, "gpt-4"); err == nil {
		t.Error("expected error for unknown model")
	}
	if _, err := ReasoningValue(Tier("extreme"), DefaultModel); err == nil {
		t.Error("expected error for unknown tier")
	}
}

func TestReasoningEffort_Value(t *testing.T) {
	if v := (ReasoningEffort{Auto: true}).Value(); v != AutoBudget {
		t.Errorf("auto Value() = %d, want %d", v, AutoBudget)
	}
	if v := (ReasoningEffort{Tokens: 42}).Value(); v != 42 {
		t.Errorf("Value() = %d, want 42", v)
	}
}

func TestAvailableTiers_ProCannotDisable(t *testing.T) {
	pro := Models["gemini-2.5-pro"]
	for _, tier := range pro.AvailableTiers() {
		if tier == TierNone {
			t.Fatal("pro should not offer the none tier")
		}
	}
	if pro.SupportsTier(TierNone) {
		t.Error("SupportsTier(none) = true for pro")
	}
	if !Models["gemini-2.5-flash"].SupportsTier(TierNone) {
		t.Error("SupportsTier(none) = false for flash")
	}
}

// =============================================================================
// PRESET TESTS
// =============================================================================

func TestMatchPreset(t *testing.T) {
	tests := []struct {
		name string
		tier Tier
		temp float64
		want ResponseStyle
		ok   bool
	}{
		{"analytical exact", TierHigh, 0.1, StyleAnalytical, true},
		{"analytical within tolerance", TierHigh, 0.14, StyleAnalytical, true},
		{"creative", TierHigh, 0.8, StyleCreative, true},
		{"instant", TierNone, 0.4, StyleInstant, true},
		{"outside tolerance", TierHigh, 0.16, "", false},
		{"medium at 0.1", TierMedium, 0.1, "", false},
		{"dynamic never matches", TierDynamic, 0.5, "", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := MatchPreset(tc.tier, tc.temp)
			if got != tc.want || ok != tc.ok {
				t.Errorf("MatchPreset(%s, %v) = (%q, %v), want (%q, %v)", tc.tier, tc.temp, got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestSettings_SyncPresetKeepsPrevious(t *testing.T) {
	s := DefaultSettings()
	s.ResponseStyle = StyleConcise
	s.ThinkingBudgets[s.SelectedModel] = TierMedium
	s.Temperature = 0.1

	s.SyncPreset()

	if s.ResponseStyle != StyleConcise {
		t.Errorf("ResponseStyle = %q, want previous value kept", s.ResponseStyle)
	}
	if s.DisplayStyle() != StyleCustom {
		t.Errorf("DisplayStyle() = %q, want custom", s.DisplayStyle())
	}
}

// =============================================================================
// SETTINGS TESTS
// =============================================================================

func TestSettings_FillDefaults(t *testing.T) {
	s := Settings{
		ThinkingBudgets: map[string]Tier{
			"gemini-2.5-flash": TierHigh,
			"gemini-2.5-pro":   TierNone,
		},
		SelectedModel: "nope",
		Temperature:   0.3,
	}
	s.FillDefaults()

	if s.ThinkingBudgets["gemini-2.5-flash"] != TierHigh {
		t.Error("existing tier was overwritten")
	}
	if s.ThinkingBudgets["gemini-2.5-flash-lite"] != TierLow {
		t.Errorf("flash-lite tier = %q, want low", s.ThinkingBudgets["gemini-2.5-flash-lite"])
	}
	if s.ThinkingBudgets["gemini-2.5-pro"] != TierHigh {
		t.Errorf("pro tier = %q, want invalid none replaced by high", s.ThinkingBudgets["gemini-2.5-pro"])
	}
	if s.SelectedModel != DefaultModel {
		t.Errorf("SelectedModel = %q, want %q", s.SelectedModel, DefaultModel)
	}
	if s.Temperature != 0.3 {
		t.Errorf("Temperature = %v, want 0.3", s.Temperature)
	}
	if s.SettingsMode != ModeSimple || s.ResponseStyle != StyleBalanced {
		t.Errorf("mode/style = %q/%q", s.SettingsMode, s.ResponseStyle)
	}
}

func TestSettings_CloneIsIndependent(t *testing.T) {
	s := DefaultSettings()
	c := s.Clone()
	c.ThinkingBudgets[DefaultModel] = TierDynamic
	if s.ThinkingBudgets[DefaultModel] == TierDynamic {
		t.Error("Clone shares the budgets map")
	}
}

func TestSettings_MaskedAPIKey(t *testing.T) {
	s := Settings{APIKey: "AIzaSyExampleKey1234"}
	if got := s.MaskedAPIKey(); got != "AIza...1234" {
		t.Errorf("MaskedAPIKey() = %q", got)
	}
	if got := (Settings{}).MaskedAPIKey(); got != "(not set)" {
		t.Errorf("MaskedAPIKey() = %q", got)
	}
}

// =============================================================================
// CHAT TESTS
// =============================================================================

func TestDeriveTitle(t *testing.T) {
	long := strings.Repeat("a", 80)
	tests := []struct {
		in   string
		want string
	}{
		{"hello", "hello"},
		{"  multi\nline\tcontent  ", "multi line content"},
		{long, strings.Repeat("a", 50)},
		{"", DefaultTitle},
		{" \n\t ", DefaultTitle},
		{strings.Repeat("é", 60), strings.Repeat("é", 50)},
	}
	for _, tc := range tests {
		if got := DeriveTitle(tc.in); got != tc.want {
			t.Errorf("DeriveTitle(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDeriveTitle_NormalizesCombiningMarks(t *testing.T) {
	// "e" + combining acute accent composes into a single rune under NFC.
	decomposed := strings.Repeat("e\u0301", 60)
	got := DeriveTitle(decomposed)
	if n := len([]rune(got)); n != 50 {
		t.Errorf("title has %d runes, want 50", n)
	}
}

func TestChat_PairEnd(t *testing.T) {
	now := time.Now()
	c := NewChat(now)
	c.Messages = []Message{
		NewUserMessage("a", nil, DefaultModel, now),
		NewPlaceholder(GenerationParams{Model: DefaultModel}, now),
		NewUserMessage("b", nil, DefaultModel, now),
		NewUserMessage("c", nil, DefaultModel, now),
	}
	if got := c.PairEnd(0); got != 2 {
		t.Errorf("PairEnd(0) = %d, want 2", got)
	}
	if got := c.PairEnd(2); got != 3 {
		t.Errorf("PairEnd(2) = %d, want 3 (next is a user message)", got)
	}
	if got := c.PairEnd(3); got != 4 {
		t.Errorf("PairEnd(3) = %d, want 4", got)
	}
}

func TestChat_CloneDeep(t *testing.T) {
	now := time.Now()
	c := NewChat(now)
	c.Messages = append(c.Messages, NewUserMessage("x", []AttachmentRef{{ID: "f1"}}, DefaultModel, now))
	d := c.Clone()
	d.Messages[0].Attachments[0].ID = "changed"
	d.Messages[0].Content = "changed"
	if c.Messages[0].Attachments[0].ID != "f1" || c.Messages[0].Content != "x" {
		t.Error("Clone shares message data with the original")
	}
}

func TestChat_AttachmentRefs(t *testing.T) {
	now := time.Now()
	c := NewChat(now)
	c.Messages = []Message{
		NewUserMessage("a", []AttachmentRef{{ID: "1"}, {ID: "2"}}, DefaultModel, now),
		NewPlaceholder(GenerationParams{}, now),
		NewUserMessage("b", []AttachmentRef{{ID: "3"}}, DefaultModel, now),
	}
	if n := len(c.AttachmentRefs()); n != 3 {
		t.Errorf("AttachmentRefs() returned %d refs, want 3", n)
	}
}

// =============================================================================
// ID TESTS
// =============================================================================

func TestNewID_UniqueAndOrdered(t *testing.T) {
	prev := int64(0)
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = true
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			t.Fatalf("id %q is not numeric", id)
		}
		if n <= prev {
			t.Fatalf("id %d not greater than %d", n, prev)
		}
		prev = n
	}
}

func TestObserveID(t *testing.T) {
	future := time.Now().Add(time.Hour).UnixMilli()
	ObserveID(strconv.FormatInt(future, 10))
	n, _ := strconv.ParseInt(NewID(), 10, 64)
	if n <= future {
		t.Errorf("NewID() = %d, want > %d", n, future)
	}
	ObserveID("not-a-number")
}
