package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

// PermissionState tracks microphone access. Transitions are forward-only
// except denied -> checking, which requires an explicit Retry.
type PermissionState string

const (
	PermissionUnknown  PermissionState = "unknown"
	PermissionChecking PermissionState = "checking"
	PermissionGranted  PermissionState = "granted"
	PermissionDenied   PermissionState = "denied"
)

// ErrPermissionDenied marks a failed microphone probe. The Gate's
// Remediation carries the user-facing fix.
var ErrPermissionDenied = errors.New("microphone access denied")

// Gate probes microphone access before a session may listen. The source
// enumeration is the cheap primary probe; when it is unusable the Gate
// opens a short capture stream directly, treating a stream that opens
// without error as an implicit grant.
type Gate struct {
	logger   *slog.Logger
	input    string
	fallback string

	enumerate func(context.Context) ([]Device, error)
	openProbe func(context.Context) error

	mu          sync.Mutex
	state       PermissionState
	remediation string
	selection   Selection
}

// NewGate builds a permission gate over the live Pulse probes.
func NewGate(logger *slog.Logger, input, fallback string) *Gate {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Gate{
		logger:    logger,
		input:     input,
		fallback:  fallback,
		enumerate: ListDevices,
		openProbe: probeCaptureStream,
		state:     PermissionUnknown,
	}
}

// State returns the current permission state snapshot.
func (g *Gate) State() PermissionState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Remediation returns the user-actionable hint recorded on denial.
func (g *Gate) Remediation() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.remediation
}

// Selection returns the capture source resolved by the last grant.
func (g *Gate) Selection() Selection {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.selection
}

// Request probes microphone access. Granted is remembered; a prior denial
// stays sticky until Retry.
func (g *Gate) Request(ctx context.Context) (Selection, error) {
	g.mu.Lock()
	switch g.state {
	case PermissionGranted:
		sel := g.selection
		g.mu.Unlock()
		return sel, nil
	case PermissionDenied:
		remediation := g.remediation
		g.mu.Unlock()
		return Selection{}, fmt.Errorf("%w: %s", ErrPermissionDenied, remediation)
	}
	g.state = PermissionChecking
	g.mu.Unlock()

	return g.probe(ctx)
}

// Retry re-probes from a sticky denial. From any other state it behaves
// like Request.
func (g *Gate) Retry(ctx context.Context) (Selection, error) {
	g.mu.Lock()
	if g.state == PermissionDenied {
		g.state = PermissionChecking
		g.remediation = ""
	}
	g.mu.Unlock()
	return g.Request(ctx)
}

// probe runs enumeration then the direct stream fallback, settling the
// gate into granted or denied.
func (g *Gate) probe(ctx context.Context) (Selection, error) {
	devices, enumErr := g.enumerate(ctx)
	if enumErr == nil {
		selection, selErr := selectDeviceFromList(devices, g.input, g.fallback)
		if selErr == nil {
			if selection.Warning != "" {
				g.logger.Warn("audio input fallback", "warning", selection.Warning)
			}
			g.grant(selection)
			return selection, nil
		}
		// Enumeration answered but offered nothing usable; the direct
		// probe still gets a chance before this counts as a denial.
		enumErr = selErr
	} else {
		g.logger.Warn("source enumeration unavailable; probing capture directly", "error", enumErr.Error())
	}

	if probeErr := g.openProbe(ctx); probeErr == nil {
		selection := Selection{Device: Device{ID: "default", Description: "default source", Available: true, Default: true}}
		g.grant(selection)
		return selection, nil
	}

	remediation := remediationFor(enumErr)
	g.deny(remediation)
	return Selection{}, fmt.Errorf("%w: %s", ErrPermissionDenied, remediation)
}

func (g *Gate) grant(selection Selection) {
	g.mu.Lock()
	g.state = PermissionGranted
	g.selection = selection
	g.remediation = ""
	g.mu.Unlock()
	g.logger.Info("microphone access granted", "device", selection.Device.ID)
}

func (g *Gate) deny(remediation string) {
	g.mu.Lock()
	g.state = PermissionDenied
	g.remediation = remediation
	g.mu.Unlock()
	g.logger.Error("microphone access denied", "remediation", remediation)
}

// remediationFor translates probe failures into a fix the user can act on.
func remediationFor(err error) string {
	if err == nil {
		return "microphone probe failed; check sound settings"
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "connect pulse server"):
		return "cannot reach the sound server; start PipeWire or PulseAudio and retry"
	case strings.Contains(msg, "did not match"):
		return "configured audio.input matched no device; run `parley devices` and update audio.input"
	case strings.Contains(msg, "muted"):
		return "the selected microphone is muted; unmute it and retry"
	default:
		return "no usable capture source; connect a microphone or pick another input device"
	}
}

// probeCaptureStream opens a default-source record stream and immediately
// releases it.
func probeCaptureStream(_ context.Context) error {
	client, err := pulse.NewClient(pulse.ClientApplicationName("parley"))
	if err != nil {
		return fmt.Errorf("connect pulse server: %w", err)
	}
	defer client.Close()

	sink := pulse.NewWriter(writerFunc(func(b []byte) (int, error) { return len(b), nil }), pulseproto.FormatInt16LE)
	stream, err := client.NewRecord(
		sink,
		pulse.RecordMono,
		pulse.RecordSampleRate(SampleRate),
	)
	if err != nil {
		return fmt.Errorf("open probe stream: %w", err)
	}
	stream.Start()
	stream.Stop()
	stream.Close()
	return nil
}
