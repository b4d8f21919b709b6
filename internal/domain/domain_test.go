package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItemValidate(t *testing.T) {
	cases := []struct {
		name    string
		item    Item
		wantErr bool
	}{
		{"panel ok", Item{Kind: ItemPanel, Type: "4x3", Height: 3, Width: 4, ContentTags: []string{"logo"}}, false},
		{"panel zero width", Item{Kind: ItemPanel, Type: "4x3", Height: 3}, true},
		{"panel with manuscript", Item{Kind: ItemPanel, Type: "4x3", Height: 3, Width: 4, Manuscript: "x"}, true},
		{"oneway ok", Item{Kind: ItemOneway, Type: "vitrine", Manuscript: "SOLDES -50%"}, false},
		{"oneway blank manuscript", Item{Kind: ItemOneway, Type: "vitrine", Manuscript: "  "}, true},
		{"oneway with dims", Item{Kind: ItemOneway, Type: "vitrine", Manuscript: "x", Width: 2}, true},
		{"missing type", Item{Kind: ItemOneway, Manuscript: "x"}, true},
		{"unknown kind", Item{Kind: "banner", Type: "x"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.item.Validate()
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateItemsRenumbers(t *testing.T) {
	items, err := ValidateItems([]Item{
		{Kind: ItemOneway, Type: "a", Manuscript: "m", Position: 9},
		{Kind: ItemPanel, Type: "b", Height: 1, Width: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, items[0].Position)
	assert.Equal(t, 2, items[1].Position)

	_, err = ValidateItems(nil)
	assert.ErrorIs(t, err, ErrNoItems)
}

func TestRoleSet(t *testing.T) {
	s := NewRoleSet(RoleAdmin, RoleDesigner)
	assert.True(t, s.Has(RoleAdmin))
	assert.False(t, s.Has(RoleImprimeur))
	assert.True(t, s.Any(RoleImprimeur, RoleDesigner))
	assert.Equal(t, []string{"ADMIN", "DESIGNER"}, s.Strings())

	r, err := ParseRole(" logistique ")
	require.NoError(t, err)
	assert.Equal(t, RoleLogistique, r)
	_, err = ParseRole("boss")
	assert.Error(t, err)
}

func TestObservedProgressionHasElevenStates(t *testing.T) {
	assert.Len(t, ObservedStatuses, 11)
	for _, s := range StoredStatuses {
		assert.True(t, s.Stored())
		assert.GreaterOrEqual(t, s.Rank(), 0)
	}
	assert.False(t, StatusPrintAwaitingValidation.Stored())
}
