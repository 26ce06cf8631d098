package governance

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorKind
	}{
		{fmt.Errorf("%w: category 42", ErrNotFound), KindNotFound},
		{fmt.Errorf("%w: viewer cannot edit", ErrForbidden), KindForbidden},
		{fmt.Errorf("reject: %w", fmt.Errorf("%w: comments required", ErrValidation)), KindValidation},
		{ErrAlreadyPending, KindAlreadyPending},
		{ErrAlreadyResolved, KindAlreadyResolved},
		{ErrCycleDetected, KindCycleDetected},
		{ErrReferentialIntegrity, KindReferentialIntegrity},
		{errors.New("disk on fire"), KindInternal},
		{nil, ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, KindOf(tc.err))
	}
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("approval-rules")
	require.NoError(t, err)
	assert.Equal(t, KindApprovalRule, k)

	k, err = ParseKind("category")
	require.NoError(t, err)
	assert.Equal(t, KindCategory, k)

	_, err = ParseKind("widgets")
	require.ErrorIs(t, err, ErrValidation)

	assert.True(t, KindRole.Hierarchical())
	assert.False(t, KindUser.Hierarchical())
}

func TestCloneIsolatesSlices(t *testing.T) {
	u := &User{GeographyIDs: []string{"g1"}, CategoryIDs: []string{"c1"}}
	c := u.Clone()
	c.GeographyIDs[0] = "changed"
	assert.Equal(t, "g1", u.GeographyIDs[0])

	e := &Entity{AttributeValues: map[string]any{"price": "10"}}
	ec := e.Clone()
	ec.AttributeValues["price"] = "20"
	assert.Equal(t, "10", e.AttributeValues["price"])
}
