package dm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListingIsSortedRegardlessOfInsertionOrder(t *testing.T) {
	s := NewSet(
		NewRef(ObjectDevice, 0),
		NewRef(ObjectServer, 1),
		NewRef(ObjectSecurity, 0),
		NewRef(ObjectServer, 0),
		NewRef(ObjectAPNConnectionProfile, 2),
		NewRef(ObjectCellularConnectivity, 0),
	)

	assert.Equal(t, "</0/0>,</1/0>,</1/1>,</3/0>,</10/0>,</11/2>", s.Listing())
}

func TestListingNumericNotLexicographic(t *testing.T) {
	s := NewSet(NewRef(2, 10), NewRef(10, 0), NewRef(2, 9))
	assert.Equal(t, "</2/9>,</2/10>,</10/0>", s.Listing())
}

func TestListingEmptySet(t *testing.T) {
	assert.Equal(t, "", Set{}.Listing())
	assert.Equal(t, "", NewSet().Listing())
}

func TestSetIsValue(t *testing.T) {
	base := NewSet(NewRef(3, 0))
	grown := base.With(NewRef(4, 0))
	shrunk := base.Without(NewRef(3, 0))

	assert.Equal(t, 1, base.Len())
	assert.Equal(t, 2, grown.Len())
	assert.True(t, shrunk.IsEmpty())
	assert.True(t, base.Contains(NewRef(3, 0)))
}

func TestSetDuplicatesCollapse(t *testing.T) {
	s := NewSet(NewRef(3, 0), NewRef(3, 0))
	assert.Equal(t, 1, s.Len())
}

func TestSetWithoutObject(t *testing.T) {
	s := MustParseListing("</0/0>,</0/1>,</1/0>")
	assert.Equal(t, "</1/0>", s.WithoutObject(ObjectSecurity).Listing())
	assert.True(t, s.HasObject(ObjectSecurity))
	assert.Equal(t, []InstanceID{0, 1}, s.Instances(ObjectSecurity))
}

func TestParseListing(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		const listing = "</0/0>,</1/0>,</3/0>,</4/0>"
		s, err := ParseListing(listing)
		require.NoError(t, err)
		assert.Equal(t, listing, s.Listing())
	})

	t.Run("AttributesAndObjectEntries", func(t *testing.T) {
		s, err := ParseListing(`</>;rt="oma.lwm2m",</1/0>;ver=1.1,</5>`)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidListing)

		s, err = ParseListing(`</1/0>;ver=1.1,</5>`)
		require.NoError(t, err)
		assert.Equal(t, "</1/0>", s.Listing())
	})

	t.Run("Empty", func(t *testing.T) {
		s, err := ParseListing("")
		require.NoError(t, err)
		assert.True(t, s.IsEmpty())
	})

	t.Run("Invalid", func(t *testing.T) {
		for _, in := range []string{"<3/0", "</03/0>", "</3/x>", "</3/65535>", "</70000/0>", "3/0"} {
			_, err := ParseListing(in)
			assert.Error(t, err, "input %q", in)
		}
	})
}

func TestParsePath(t *testing.T) {
	r, err := ParsePath("/3/0")
	require.NoError(t, err)
	assert.Equal(t, NewRef(ObjectDevice, 0), r)

	r, err = ParsePath("11/12")
	require.NoError(t, err)
	assert.Equal(t, NewRef(11, 12), r)

	_, err = ParsePath("/3")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestObjectIDString(t *testing.T) {
	assert.Equal(t, "Security", ObjectSecurity.String())
	assert.Equal(t, "Device", ObjectDevice.String())
	assert.Equal(t, "42", ObjectID(42).String())
}
