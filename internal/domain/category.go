package domain

import (
	"errors"
	"strings"
)

// Category classifies the subject of a ticket. The set is closed: the bot
// keyboard, the dashboard filter and the database all use the same values.
type Category struct {
	// Slug is the stable identifier used in callback data and query strings.
	Slug string `json:"slug"`
	// Name is the display name, which is also the value stored on tickets.
	Name string `json:"name"`
}

// Categories lists every supported category in keyboard order.
var Categories = []Category{
	{Slug: "gold_5000", Name: "5000 Gold"},
	{Slug: "promoters", Name: "Promoters"},
	{Slug: "refer_earn", Name: "Refer & Earn"},
	{Slug: "withdrawals", Name: "Withdrawals"},
	{Slug: "general", Name: "General Support"},
}

// ErrUnknownCategory is returned by ParseCategory for values outside the set.
var ErrUnknownCategory = errors.New("unknown category")

// ParseCategory resolves a slug or display name (case-insensitive,
// surrounding whitespace ignored) to its Category.
func ParseCategory(s string) (Category, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Category{}, ErrUnknownCategory
	}
	for _, c := range Categories {
		if strings.EqualFold(s, c.Slug) || strings.EqualFold(s, c.Name) {
			return c, nil
		}
	}
	return Category{}, ErrUnknownCategory
}
