package audit

import "testing"

func TestDescriptorFor(t *testing.T) {
	cases := []struct {
		raw  float64
		want Descriptor
	}{
		{10, DescriptorExcellent},
		{8.0, DescriptorExcellent},
		{7.99, DescriptorPass},
		{4.0, DescriptorPass},
		{3.99, DescriptorFail},
		{2.0, DescriptorFail},
		{0, DescriptorFail},
	}
	for _, tc := range cases {
		if got := DescriptorFor(tc.raw); got != tc.want {
			t.Fatalf("DescriptorFor(%v)=%s, want %s", tc.raw, got, tc.want)
		}
	}
}

func TestFineDescriptorFor_WarnBand(t *testing.T) {
	if got := FineDescriptorFor(3.0); got != DescriptorWarn {
		t.Fatalf("FineDescriptorFor(3.0)=%s, want WARN", got)
	}
	if got := FineDescriptorFor(1.9); got != DescriptorFail {
		t.Fatalf("FineDescriptorFor(1.9)=%s, want FAIL", got)
	}
	// Coarse and fine bands agree outside [2,4).
	if got := FineDescriptorFor(5.0); got != DescriptorFor(5.0) {
		t.Fatalf("fine/coarse disagree at 5.0: %s vs %s", got, DescriptorFor(5.0))
	}
}

func TestTierWeightsSumToOne(t *testing.T) {
	sum := Tier1.Weight() + Tier2.Weight() + Tier3.Weight()
	if sum < 0.999999 || sum > 1.000001 {
		t.Fatalf("tier weights sum to %v, want 1.0", sum)
	}
	if TierOffSite.Weight() != 0 {
		t.Fatalf("off-site tier weight = %v, want 0", TierOffSite.Weight())
	}
}

func TestSlugAndPageID_Stable(t *testing.T) {
	url := "https://corp.example.com/"
	slug := Slug(url)
	if slug != "corp_example_com" {
		t.Fatalf("Slug(%q)=%q, want corp_example_com", url, slug)
	}

	id1 := PageID(slug)
	id2 := PageID(Slug(url))
	if id1 != id2 {
		t.Fatalf("PageID not stable: %q vs %q", id1, id2)
	}
	if len(id1) != 8 {
		t.Fatalf("PageID length = %d, want 8 hex chars", len(id1))
	}
}

func TestSlug_PathAndQuery(t *testing.T) {
	if got := Slug("https://corp.example.com/products/platform"); got != "corp_example_com_products_platform" {
		t.Fatalf("Slug=%q", got)
	}
	if got := Slug("http://example.be/over-ons?lang=nl"); got != "example_be_over-ons_lang_nl" {
		t.Fatalf("Slug=%q", got)
	}
}

func TestURLFromSlug_BareHost(t *testing.T) {
	if got := URLFromSlug("corp_example_com"); got != "https://corp.example.com" {
		t.Fatalf("URLFromSlug=%q", got)
	}
	if got := URLFromSlug(""); got != "" {
		t.Fatalf("URLFromSlug(empty)=%q, want empty", got)
	}
}

func TestNewPersona_PrefixLine(t *testing.T) {
	p := NewPersona("Persona Brief: Strategic Business Leader\n\nA C-level buyer...")
	if p.ID != "Strategic_Business_Leader" {
		t.Fatalf("persona id = %q, want Strategic_Business_Leader", p.ID)
	}
	if p.Name != "Strategic Business Leader" {
		t.Fatalf("persona name = %q", p.Name)
	}
}

func TestNewPersona_TokenFallback(t *testing.T) {
	p := NewPersona("This brief describes buyer P2 in detail.")
	if p.ID != "P2" {
		t.Fatalf("persona id = %q, want P2", p.ID)
	}
}

func TestNewPersona_Default(t *testing.T) {
	p := NewPersona("Just some text with no markers.")
	if p.ID != "default_persona" {
		t.Fatalf("persona id = %q, want default_persona", p.ID)
	}
}
