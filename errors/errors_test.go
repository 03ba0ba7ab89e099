package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	original := New("original")
	wrapped := Wrap(original, "wrapped")

	assert.Contains(t, wrapped.Error(), "wrapped")
	assert.Contains(t, wrapped.Error(), "original")
	assert.True(t, Is(wrapped, original))
}

func TestMarkMatchesSentinel(t *testing.T) {
	err := Mark(New("registry returned 503"), ErrNetworkFailure)
	wrapped := Wrap(err, "resolve pallet-balances")

	assert.True(t, Is(wrapped, ErrNetworkFailure))
	assert.False(t, Is(wrapped, ErrNotFound))
	assert.Equal(t, "resolve pallet-balances: registry returned 503", wrapped.Error())
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", New("boom"), false},
		{"network", Mark(New("timeout"), ErrNetworkFailure), true},
		{"wrapped network", Wrap(Mark(New("reset"), ErrNetworkFailure), "fetch"), true},
		{"auth", Mark(New("401"), ErrAuthFailure), false},
		{"auth over network", Mark(Mark(New("401"), ErrNetworkFailure), ErrAuthFailure), false},
		{"not found", Mark(New("404"), ErrNotFound), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestNewInvalidRequestError(t *testing.T) {
	err := NewInvalidRequestError("duplicate pallet %q", "balances")
	assert.True(t, IsInvalidRequestError(err))
	assert.Equal(t, `duplicate pallet "balances"`, err.Error())
}

func TestWithHint(t *testing.T) {
	err := WithHint(Mark(New("source kind changed"), ErrBlocked), "re-run with --override")

	hints := GetAllHints(err)
	require.Len(t, hints, 1)
	assert.Equal(t, "re-run with --override", hints[0])
	assert.True(t, Is(err, ErrBlocked))
}

func TestNilHandling(t *testing.T) {
	assert.Nil(t, Wrap(nil, "context"))
	assert.Nil(t, Wrapf(nil, "context %d", 1))
	assert.Nil(t, WithHint(nil, "hint"))
	assert.False(t, IsNotFoundError(nil))
}

func ExampleMark() {
	err := Mark(New("no such crate"), ErrNotFound)
	fmt.Println(Is(err, ErrNotFound))
	// Output: true
}
