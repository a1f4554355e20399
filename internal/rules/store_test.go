package rules

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pineos/referral-ledger/pkg/logger"
)

func TestCreateRule(t *testing.T) {
	t.Run("persists valid rule as active", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("Create", mock.Anything, mock.MatchedBy(func(r *Rule) bool {
			return r.Name == "signup bonus" && r.IsActive
		})).Return(nil)

		store := NewStore(repo, logger.NewDefault("test"))
		def := validDefinition()

		rule, err := store.CreateRule(context.Background(), "signup bonus", nil, def)
		require.NoError(t, err)
		assert.NotEmpty(t, rule.ID)
		assert.True(t, rule.IsActive)
		repo.AssertExpectations(t)
	})

	t.Run("rejects empty name", func(t *testing.T) {
		store := NewStore(new(MockRepository), logger.NewDefault("test"))
		_, err := store.CreateRule(context.Background(), "", nil, validDefinition())
		assert.ErrorIs(t, err, ErrInvalidRule)
	})

	t.Run("rejects oversized name", func(t *testing.T) {
		store := NewStore(new(MockRepository), logger.NewDefault("test"))
		_, err := store.CreateRule(context.Background(), strings.Repeat("x", 256), nil, validDefinition())
		assert.ErrorIs(t, err, ErrInvalidRule)
	})

	t.Run("rejects invalid definition before hitting the repository", func(t *testing.T) {
		repo := new(MockRepository)
		store := NewStore(repo, logger.NewDefault("test"))

		def := validDefinition()
		def.Actions = nil

		_, err := store.CreateRule(context.Background(), "broken", nil, def)
		assert.ErrorIs(t, err, ErrInvalidRule)
		repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})
}
