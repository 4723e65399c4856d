package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeSession(t *testing.T) {
	t.Run("profile fields win over metadata", func(t *testing.T) {
		s := MergeSession("u1", "a@b.com", "Meta Name", "000", &Profile{
			Name:  "Profile Name",
			Phone: "111",
			Role:  RoleAdmin,
		})
		assert.Equal(t, "Profile Name", s.Name)
		assert.Equal(t, "111", s.Phone)
		assert.Equal(t, RoleAdmin, s.Role)
	})

	t.Run("metadata fills profile gaps", func(t *testing.T) {
		s := MergeSession("u1", "a@b.com", "Meta Name", "000", &Profile{})
		assert.Equal(t, "Meta Name", s.Name)
		assert.Equal(t, "000", s.Phone)
		assert.Equal(t, RoleUser, s.Role)
	})

	t.Run("nil profile yields metadata session", func(t *testing.T) {
		s := MergeSession("u1", "a@b.com", "Meta Name", "000", nil)
		assert.Equal(t, "u1", s.ID)
		assert.Equal(t, RoleUser, s.Role)
	})

	t.Run("empty id yields nil", func(t *testing.T) {
		assert.Nil(t, MergeSession("", "a@b.com", "", "", nil))
	})
}

func TestIsAdmin(t *testing.T) {
	var none *Session
	assert.False(t, none.IsAdmin())
	assert.False(t, (&Session{Role: RoleUser}).IsAdmin())
	assert.True(t, (&Session{Role: RoleAdmin}).IsAdmin())
}
