package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLeasePolicy(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		policy, err := NewLeasePolicy(30 * time.Second)
		require.NoError(t, err)
		assert.Equal(t, 30*time.Second, policy.Default())
	})

	t.Run("invalid default lease", func(t *testing.T) {
		policy, err := NewLeasePolicy(0)
		require.ErrorIs(t, err, ErrInvalidDefaultLease)
		assert.Nil(t, policy)
	})

	t.Run("sub-second default is raised", func(t *testing.T) {
		policy, err := NewLeasePolicy(200 * time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, MinLease, policy.Default())
	})
}

func TestLeasePolicy_Resolve(t *testing.T) {
	policy, err := NewLeasePolicy(30 * time.Second)
	require.NoError(t, err)

	t.Run("explicit duration uses whole seconds", func(t *testing.T) {
		decision := policy.Resolve(45*time.Second + 300*time.Millisecond)
		assert.Equal(t, 45*time.Second, decision.Duration)
		assert.Equal(t, LeaseSourceExplicit, decision.Source)
		assert.False(t, decision.Clamped())
	})

	t.Run("default duration when request is zero", func(t *testing.T) {
		decision := policy.Resolve(0)
		assert.Equal(t, 30*time.Second, decision.Duration)
		assert.True(t, decision.UsedDefault())
	})

	t.Run("sub-second and negative requests are clamped", func(t *testing.T) {
		for _, req := range []time.Duration{500 * time.Millisecond, -time.Second} {
			decision := policy.Resolve(req)
			assert.Equal(t, MinLease, decision.Duration)
			assert.True(t, decision.Clamped())
		}
	})

	t.Run("expiry is relative to claim time", func(t *testing.T) {
		now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		assert.Equal(t, now.Add(30*time.Second), policy.Resolve(0).ExpiresAt(now))
	})
}
