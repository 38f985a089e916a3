package audio

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestGate(enumerate func(context.Context) ([]Device, error), openProbe func(context.Context) error) *Gate {
	g := NewGate(nil, "default", "default")
	g.enumerate = enumerate
	g.openProbe = openProbe
	return g
}

func TestGateGrantsFromEnumeration(t *testing.T) {
	probeCalls := 0
	gate := newTestGate(
		func(context.Context) ([]Device, error) {
			return []Device{{ID: "mic-1", Available: true, Default: true}}, nil
		},
		func(context.Context) error {
			probeCalls++
			return nil
		},
	)

	selection, err := gate.Request(context.Background())
	require.NoError(t, err)
	require.Equal(t, "mic-1", selection.Device.ID)
	require.Equal(t, PermissionGranted, gate.State())
	require.Equal(t, 0, probeCalls, "direct probe must not run when enumeration grants")
}

func TestGateFallsBackToDirectProbe(t *testing.T) {
	gate := newTestGate(
		func(context.Context) ([]Device, error) {
			return nil, errors.New("connect pulse server: refused")
		},
		func(context.Context) error { return nil },
	)

	selection, err := gate.Request(context.Background())
	require.NoError(t, err)
	require.Equal(t, PermissionGranted, gate.State())
	require.Equal(t, "default", selection.Device.ID)
}

func TestGateDeniesWithActionableRemediation(t *testing.T) {
	gate := newTestGate(
		func(context.Context) ([]Device, error) {
			return nil, errors.New("connect pulse server: refused")
		},
		func(context.Context) error { return errors.New("open probe stream: refused") },
	)

	_, err := gate.Request(context.Background())
	require.ErrorIs(t, err, ErrPermissionDenied)
	require.Equal(t, PermissionDenied, gate.State())
	require.Contains(t, gate.Remediation(), "sound server")
}

func TestGateDenialIsStickyUntilRetry(t *testing.T) {
	enumerateErr := errors.New("no audio input devices found")
	probeErr := errors.New("open probe stream: refused")
	enumerateCalls := 0

	gate := newTestGate(
		func(context.Context) ([]Device, error) {
			enumerateCalls++
			if enumerateCalls == 1 {
				return nil, enumerateErr
			}
			return []Device{{ID: "mic-1", Available: true, Default: true}}, nil
		},
		func(context.Context) error { return probeErr },
	)

	_, err := gate.Request(context.Background())
	require.ErrorIs(t, err, ErrPermissionDenied)

	// A plain Request does not re-probe a sticky denial.
	_, err = gate.Request(context.Background())
	require.ErrorIs(t, err, ErrPermissionDenied)
	require.Equal(t, 1, enumerateCalls)

	selection, err := gate.Retry(context.Background())
	require.NoError(t, err)
	require.Equal(t, "mic-1", selection.Device.ID)
	require.Equal(t, PermissionGranted, gate.State())
	require.Empty(t, gate.Remediation())
}

func TestGateGrantIsRemembered(t *testing.T) {
	enumerateCalls := 0
	gate := newTestGate(
		func(context.Context) ([]Device, error) {
			enumerateCalls++
			return []Device{{ID: "mic-1", Available: true, Default: true}}, nil
		},
		func(context.Context) error { return nil },
	)

	_, err := gate.Request(context.Background())
	require.NoError(t, err)
	_, err = gate.Request(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, enumerateCalls)
}

func TestRemediationForUnmatchedInput(t *testing.T) {
	hint := remediationFor(errors.New(`audio.input "usbmic" did not match any device`))
	require.Contains(t, hint, "parley devices")

	hint = remediationFor(errors.New("default audio source is muted"))
	require.Contains(t, hint, "unmute")
}
