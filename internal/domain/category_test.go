package domain

import (
	"errors"
	"testing"
)

func TestParseCategory(t *testing.T) {
	cases := map[string]string{
		"promoters":       "Promoters",
		"  PROMOTERS ":    "Promoters",
		"Refer & Earn":    "Refer & Earn",
		"refer_earn":      "Refer & Earn",
		"5000 gold":       "5000 Gold",
		"gold_5000":       "5000 Gold",
		"General Support": "General Support",
		"withdrawals":     "Withdrawals",
	}
	for in, want := range cases {
		c, err := ParseCategory(in)
		if err != nil {
			t.Errorf("ParseCategory(%q) error: %v", in, err)
			continue
		}
		if c.Name != want {
			t.Errorf("ParseCategory(%q) = %q; want %q", in, c.Name, want)
		}
	}

	for _, in := range []string{"", "   ", "gold", "Refer and Earn"} {
		if _, err := ParseCategory(in); !errors.Is(err, ErrUnknownCategory) {
			t.Errorf("ParseCategory(%q) err = %v; want ErrUnknownCategory", in, err)
		}
	}
}

func TestCategories_UniqueSlugsAndNames(t *testing.T) {
	slugs := map[string]bool{}
	names := map[string]bool{}
	for _, c := range Categories {
		if slugs[c.Slug] || names[c.Name] {
			t.Fatalf("duplicate category %+v", c)
		}
		slugs[c.Slug], names[c.Name] = true, true
		// callback data is "cat:<slug>" and Telegram caps it at 64 bytes
		if len("cat:"+c.Slug) > 64 {
			t.Fatalf("slug too long for callback data: %q", c.Slug)
		}
	}
}
