package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MrWong99/earshot/internal/event"
	"github.com/MrWong99/earshot/pkg/audio"
)

// SignalKind names a control signal from the host.
type SignalKind string

const (
	SignalStartRecording  SignalKind = "start_recording"
	SignalStopRecording   SignalKind = "stop_recording"
	SignalStartMicrophone SignalKind = "start_mic"
	SignalStopMicrophone  SignalKind = "stop_mic"
	SignalBeginEnrollment SignalKind = "begin_enrollment"
	SignalEnrollmentDone  SignalKind = "enrollment_done"
	SignalDeviceConnect   SignalKind = "device_connect"
)

// Signal is a control message from the host.
type Signal struct {
	Kind SignalKind

	// DeviceID is set for [SignalDeviceConnect].
	DeviceID string
}

// Control applies sig and returns its acknowledgement. Every signal is
// acknowledged; failures are reported in [event.Ack.Error].
func (p *Pipeline) Control(ctx context.Context, sig Signal) event.Ack {
	ack := event.Ack{Signal: string(sig.Kind)}
	if p.closed.Load() {
		ack.Error = ErrClosed.Error()
		return ack
	}
	if err := p.control(ctx, sig); err != nil {
		slog.Warn("pipeline: control signal failed", "device", p.DeviceID(), "signal", sig.Kind, "err", err)
		ack.Error = err.Error()
	}
	return ack
}

func (p *Pipeline) control(ctx context.Context, sig Signal) error {
	switch sig.Kind {
	case SignalStartRecording:
		p.recording.Store(true)

	case SignalStopRecording:
		p.recording.Store(false)
		p.mu.Lock()
		p.seg.Clear()
		p.mu.Unlock()
		p.dialogue.Reset()
		if p.player != nil {
			p.player.Stop(audio.Stopped)
		}

	case SignalStartMicrophone:
		p.microphone.Store(true)

	case SignalStopMicrophone:
		p.microphone.Store(false)

	case SignalBeginEnrollment:
		p.routeMu.Lock()
		defer p.routeMu.Unlock()
		if _, err := p.enrollment.Start(ctx); err != nil {
			return err
		}
		// Enrollment consumes all finals, so an open dialogue ends silently.
		p.dialogue.Reset()
		step, phrase := p.enrollment.Step()
		p.emit(event.Enrollment{Status: event.EnrollmentStarted, Step: step, Phrase: phrase})

	case SignalEnrollmentDone:
		if p.enrollment.Abort() {
			p.emit(event.Enrollment{Status: event.EnrollmentAborted})
		}

	case SignalDeviceConnect:
		if sig.DeviceID == "" {
			return fmt.Errorf("pipeline: device_connect: missing device id")
		}
		p.mu.Lock()
		p.decoder.Reset()
		p.mu.Unlock()
		p.bone.Store(false)
		p.stateMu.Lock()
		p.deviceID = sig.DeviceID
		p.stateMu.Unlock()
		p.dialogue.SetDeviceID(sig.DeviceID)
		slog.Info("pipeline: device connected", "device", sig.DeviceID)

	default:
		return fmt.Errorf("pipeline: unknown signal %q", sig.Kind)
	}
	return nil
}
