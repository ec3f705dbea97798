package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Set assigns one field by its wire name from a textual value, as typed at a
// prompt. Empty strings clear optional fields.
func (f *ListingFields) Set(name, value string) error {
	value = strings.TrimSpace(value)
	str := func() *string {
		if value == "" {
			return nil
		}
		v := value
		return &v
	}

	switch strings.ToLower(name) {
	case "title":
		f.Title = str()
	case "description":
		f.Description = str()
	case "currency":
		f.Currency = str()
	case "category":
		f.Category = str()
	case "brand":
		f.Brand = str()
	case "size":
		f.Size = str()
	case "condition":
		f.Condition = str()
	case "price":
		if value == "" {
			f.Price = nil
			return nil
		}
		p, err := strconv.ParseFloat(value, 64)
		if err != nil || p < 0 {
			return fmt.Errorf("invalid price %q", value)
		}
		f.Price = &p
	default:
		return fmt.Errorf("unknown listing field %q", name)
	}
	return nil
}

// FieldsOf extracts the editable fields of an existing listing.
func FieldsOf(l Listing) ListingFields {
	s := func(v string) *string {
		if v == "" {
			return nil
		}
		return &v
	}
	price := l.Price
	return ListingFields{
		Title:       s(l.Title),
		Description: s(l.Description),
		Price:       &price,
		Currency:    s(l.Currency),
		Category:    s(l.Category),
		Brand:       l.Brand,
		Size:        l.Size,
		Condition:   s(l.Condition),
	}
}
