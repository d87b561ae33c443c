package client_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/waldiez/runner/internal/authn"
	"github.com/waldiez/runner/internal/client"
)

type fakeCounter int

func (f fakeCounter) ActiveCount(string) int { return int(f) }

func TestLimit_DefaultsWhenUnset(t *testing.T) {
	r := &client.Record{ID: "c1"}
	require.Equal(t, client.DefaultMaxActive, r.Limit())
}

func TestLimit_UsesOverride(t *testing.T) {
	r := &client.Record{ID: "c1", MaxActive: 10}
	require.Equal(t, 10, r.Limit())
}

func TestCheckQuota_AllowsBelowLimit(t *testing.T) {
	r := &client.Record{ID: "c1", MaxActive: 3}
	require.NoError(t, client.CheckQuota(r, fakeCounter(2)))
}

func TestCheckQuota_DeniesAtLimit(t *testing.T) {
	r := &client.Record{ID: "c1", MaxActive: 3}
	err := client.CheckQuota(r, fakeCounter(3))
	require.Error(t, err)
}

func TestIdentityResolver_UsesSubjectAsClientID(t *testing.T) {
	var resolver client.IdentityResolver
	record, err := resolver.Resolve(context.Background(), authn.Identity{Subject: "c1", Audience: "aud"})
	require.NoError(t, err)
	require.Equal(t, "c1", record.ID)
	require.Equal(t, "aud", record.Audience)
}

func TestIdentityResolver_RejectsEmptySubject(t *testing.T) {
	var resolver client.IdentityResolver
	_, err := resolver.Resolve(context.Background(), authn.Identity{})
	require.Error(t, err)
}
