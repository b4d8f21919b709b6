package domain

import (
	"errors"
	"fmt"
	"strings"
)

var ErrNoItems = errors.New("order requires at least one item")

// Validate checks the variant-specific fields of an item.
func (it Item) Validate() error {
	if strings.TrimSpace(it.Type) == "" {
		return errors.New("item type required")
	}
	switch it.Kind {
	case ItemPanel:
		if it.Height <= 0 || it.Width <= 0 {
			return fmt.Errorf("panel %q needs positive height and width", it.Type)
		}
		if it.Manuscript != "" {
			return fmt.Errorf("panel %q cannot carry a manuscript", it.Type)
		}
	case ItemOneway:
		if strings.TrimSpace(it.Manuscript) == "" {
			return fmt.Errorf("oneway %q needs a manuscript", it.Type)
		}
		if it.Height != 0 || it.Width != 0 || len(it.ContentTags) > 0 {
			return fmt.Errorf("oneway %q cannot carry panel dimensions or content tags", it.Type)
		}
	default:
		return fmt.Errorf("unknown item kind %q", it.Kind)
	}
	return nil
}

// ValidateItems validates every item and renumbers positions in order.
func ValidateItems(items []Item) ([]Item, error) {
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	out := make([]Item, len(items))
	for i, it := range items {
		if err := it.Validate(); err != nil {
			return nil, fmt.Errorf("item %d: %w", i+1, err)
		}
		it.Position = i + 1
		out[i] = it
	}
	return out, nil
}
