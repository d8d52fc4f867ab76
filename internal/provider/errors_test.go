package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestKindOf(t *testing.T) {
	base := errors.New("boom")
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"rate limited", FromStatus(429, base), KindTransient},
		{"server error", FromStatus(503, base), KindTransient},
		{"request timeout", FromStatus(408, base), KindTransient},
		{"unauthorized", FromStatus(401, base), KindAuth},
		{"forbidden", FromStatus(403, base), KindAuth},
		{"bad request", FromStatus(400, base), KindInvalid},
		{"wrapped", fmt.Errorf("call: %w", Blocked(base)), KindBlocked},
		{"deadline", context.DeadlineExceeded, KindTransient},
		{"net timeout", fmt.Errorf("dial: %w", timeoutErr{}), KindTransient},
		{"plain", base, KindInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestHelpers(t *testing.T) {
	base := errors.New("boom")
	assert.True(t, IsTransient(Transient(base)))
	assert.False(t, IsTransient(nil))
	assert.True(t, IsAuth(Auth(base)))
	assert.False(t, IsAuth(Invalid(base)))
	assert.ErrorIs(t, Transient(base), base)
	assert.Contains(t, FromStatus(429, base).Error(), "(429)")
}
