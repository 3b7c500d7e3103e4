package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveScopes(t *testing.T) {
	tests := []struct {
		name      string
		requested []string
		allowed   []string
		want      []string
	}{
		{"empty request gets allowed set", nil, []string{"orders:read", "menu:read"}, []string{"orders:read", "menu:read"}},
		{"intersection keeps request order", []string{"menu:read", "orders:read"}, []string{"orders:read", "menu:read"}, []string{"menu:read", "orders:read"}},
		{"disallowed dropped", []string{"orders:read", "admin"}, []string{"orders:read"}, []string{"orders:read"}},
		{"duplicates collapsed", []string{"orders:read", "orders:read"}, []string{"orders:read"}, []string{"orders:read"}},
		{"no overlap", []string{"admin"}, []string{"orders:read"}, []string{}},
		{"wildcard passes request through", []string{"anything", "else"}, []string{"*"}, []string{"anything", "else"}},
		{"wildcard with empty request", nil, []string{"*"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ResolveScopes(tt.requested, tt.allowed)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveScopesSubsetOfAllowed(t *testing.T) {
	allowed := []string{"a", "b", "c"}
	for _, req := range [][]string{nil, {"a"}, {"c", "z"}, {"z"}, {"a", "b", "c", "d"}} {
		for _, s := range ResolveScopes(req, allowed) {
			assert.Contains(t, allowed, s)
		}
	}
}

func TestHasScope(t *testing.T) {
	tests := []struct {
		granted []string
		check   string
		want    bool
	}{
		{[]string{"orders:read"}, "orders:read", true},
		{[]string{"orders:read"}, "orders:write", false},
		{[]string{"orders:*"}, "orders:write", true},
		{[]string{"orders:*"}, "menu:read", false},
		{[]string{"*"}, "anything", true},
		{[]string{"orders:*"}, "orders", false},
		{nil, "orders:read", false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v/%s", tt.granted, tt.check), func(t *testing.T) {
			assert.Equal(t, tt.want, HasScope(tt.granted, tt.check))
		})
	}
}

func TestPublic(t *testing.T) {
	assert.NoError(t, Public(nil))
	assert.ErrorIs(t, Public(ErrReplaySuspected), ErrRejected)
	assert.ErrorIs(t, Public(fmt.Errorf("%w: detail", ErrMalformedResponse)), ErrRejected)
	assert.ErrorIs(t, Public(ErrInvalidRefresh), ErrRejected)
	assert.ErrorIs(t, Public(transient(context.DeadlineExceeded)), ErrTransient)
	assert.ErrorIs(t, Public(errors.New("disk on fire")), ErrTransient)
}

func TestTransientLeavesOtherErrorsAlone(t *testing.T) {
	require.NoError(t, transient(nil))
	require.Equal(t, ErrNotFound, transient(ErrNotFound))
	require.ErrorIs(t, transient(context.Canceled), ErrTransient)
}
