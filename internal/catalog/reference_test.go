package catalog

import "testing"

func TestCountryEnabledDefaults(t *testing.T) {
	s := newTestStore(t)
	if !s.CountryEnabled("US") {
		t.Fatal("expected default-seeded US to be enabled")
	}
	if s.CountryEnabled("ZZ") {
		t.Fatal("unknown country should report disabled")
	}
}

func TestSetCurrencyEnabledUpserts(t *testing.T) {
	s := newTestStore(t)
	if err := s.SetCurrencyEnabled("BTC", true); err != nil {
		t.Fatalf("SetCurrencyEnabled: %v", err)
	}
	if !s.CurrencyEnabled("BTC") {
		t.Fatal("newly inserted currency should be enabled")
	}
	if err := s.SetCurrencyEnabled("BTC", false); err != nil {
		t.Fatalf("SetCurrencyEnabled (toggle): %v", err)
	}
	if s.CurrencyEnabled("BTC") {
		t.Fatal("expected BTC to be disabled after toggling")
	}
}

func TestFilterPresetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	method := uint8(1)
	preset := FilterPreset{Name: "my-filter", Country: "US", Currency: "USD", PaymentMethod: &method}

	if err := s.SaveFilterPreset(preset); err != nil {
		t.Fatalf("SaveFilterPreset: %v", err)
	}

	presets, err := s.FilterPresets()
	if err != nil {
		t.Fatalf("FilterPresets: %v", err)
	}
	if len(presets) != 1 || presets[0].Name != "my-filter" {
		t.Fatalf("FilterPresets = %+v", presets)
	}

	if err := s.DeleteFilterPreset("my-filter"); err != nil {
		t.Fatalf("DeleteFilterPreset: %v", err)
	}
	if err := s.DeleteFilterPreset("my-filter"); err != ErrNotFound {
		t.Fatalf("DeleteFilterPreset (already gone) = %v, want ErrNotFound", err)
	}
}
