package enums

import "testing"

func TestParseTierToken(t *testing.T) {
	cases := map[string]Tier{
		"Pro":        TierPro,
		"pro":        TierPro,
		"PRO+":       TierProPlus,
		"  Pro+  ":   TierProPlus,
		"trialpro":   TierTrialPro,
		"TrialPro+":  TierTrialProPlus,
		"tRiAlPrO+":  TierTrialProPlus,
		"free":       TierFree,
	}
	for raw, want := range cases {
		got, err := ParseTierToken(raw)
		if err != nil {
			t.Fatalf("ParseTierToken(%q): %v", raw, err)
		}
		if got != want {
			t.Fatalf("ParseTierToken(%q) = %s, want %s", raw, got, want)
		}
	}
}

func TestParseTierTokenRejectsUnknownSpellings(t *testing.T) {
	for _, raw := range []string{"Professional", "pro plus", "trial", "", "Pro++"} {
		if _, err := ParseTierToken(raw); err == nil {
			t.Fatalf("ParseTierToken(%q) should fail", raw)
		}
	}
}

func TestTierIsPaid(t *testing.T) {
	if TierFree.IsPaid() {
		t.Fatal("free is not a paid tier")
	}
	for _, tier := range []Tier{TierPro, TierProPlus, TierTrialPro, TierTrialProPlus} {
		if !tier.IsPaid() {
			t.Fatalf("%s should be paid", tier)
		}
	}
	if Tier("gold").IsPaid() {
		t.Fatal("unknown tier should not be paid")
	}
}

func TestTierDisplayRoundTrip(t *testing.T) {
	for _, tier := range validTiers {
		parsed, err := ParseTierToken(tier.Display())
		if err != nil {
			t.Fatalf("display %q does not parse back: %v", tier.Display(), err)
		}
		if parsed != tier {
			t.Fatalf("round trip %s -> %s", tier, parsed)
		}
	}
}
