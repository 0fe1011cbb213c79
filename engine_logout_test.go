package goGate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/goGate/device"
	"github.com/stretchr/testify/require"
)

func TestLogoutRevokesAccessAndRefresh(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	pair := f.login(t, "alice@example.com", DeviceInfo{DeviceID: "tablet"})
	keep := f.login(t, "alice@example.com", DeviceInfo{DeviceID: "phone", DeviceType: "ios"})

	id, err := f.engine.Authenticate(ctx, pair.AccessToken)
	require.NoError(t, err)
	require.NoError(t, f.engine.Logout(ctx, id, pair.RefreshToken))

	_, err = f.engine.Authenticate(ctx, pair.AccessToken)
	requireAuthKind(t, err, ErrRevokedCredential)
	_, err = f.engine.Refresh(ctx, RefreshRequest{RefreshToken: pair.RefreshToken})
	require.ErrorIs(t, err, ErrUnauthorized)

	devices, err := f.engine.ListDevices(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	require.Equal(t, "phone", devices[0].ID)

	_, err = f.engine.Authenticate(ctx, keep.AccessToken)
	require.NoError(t, err)
}

func TestLogoutIgnoresForeignRefreshToken(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	alice := f.login(t, "alice@example.com", DeviceInfo{})
	bob := f.login(t, "bob@example.com", DeviceInfo{})

	id, err := f.engine.Authenticate(ctx, alice.AccessToken)
	require.NoError(t, err)
	require.NoError(t, f.engine.Logout(ctx, id, bob.RefreshToken))

	_, err = f.engine.Refresh(ctx, RefreshRequest{RefreshToken: bob.RefreshToken})
	require.NoError(t, err)
}

func TestLogoutAllRevokesEveryDevice(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	web := f.login(t, "alice@example.com", DeviceInfo{})
	phone := f.login(t, "alice@example.com", DeviceInfo{DeviceType: "android"})
	bob := f.login(t, "bob@example.com", DeviceInfo{})

	require.NoError(t, f.engine.LogoutAll(ctx, "u1"))

	for _, tok := range []string{web.AccessToken, phone.AccessToken} {
		_, err := f.engine.Authenticate(ctx, tok)
		requireAuthKind(t, err, ErrRevokedCredential)
	}
	for _, tok := range []string{web.RefreshToken, phone.RefreshToken} {
		_, err := f.engine.Refresh(ctx, RefreshRequest{RefreshToken: tok})
		requireAuthKind(t, err, ErrRevokedCredential)
	}

	devices, err := f.engine.ListDevices(ctx, "u1")
	require.NoError(t, err)
	require.Empty(t, devices)

	_, err = f.engine.Authenticate(ctx, bob.AccessToken)
	require.NoError(t, err)

	// A login in a later second is not covered by the marker.
	f.clock.Advance(time.Second)
	fresh := f.login(t, "alice@example.com", DeviceInfo{})
	_, err = f.engine.Authenticate(ctx, fresh.AccessToken)
	require.NoError(t, err)
}

func TestLogoutRequiresIdentity(t *testing.T) {
	f := newFixture(t, nil)
	err := f.engine.Logout(context.Background(), nil, "")
	requireAuthKind(t, err, ErrNoCredential)
	require.Error(t, f.engine.LogoutAll(context.Background(), " "))
	require.Error(t, f.engine.RevokeToken(context.Background(), "", time.Minute))
}

func TestDeactivateDeviceOwnership(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	pair := f.login(t, "alice@example.com", DeviceInfo{DeviceID: "desk"})

	err := f.engine.DeactivateDevice(ctx, "u2", "desk")
	require.True(t, errors.Is(err, device.ErrNotFound))

	require.NoError(t, f.engine.DeactivateDevice(ctx, "u1", "desk"))
	_, err = f.engine.Refresh(ctx, RefreshRequest{RefreshToken: pair.RefreshToken})
	requireAuthKind(t, err, ErrRevokedCredential)

	// The access token is not touched by a device deactivation.
	_, err = f.engine.Authenticate(ctx, pair.AccessToken)
	require.NoError(t, err)
}
