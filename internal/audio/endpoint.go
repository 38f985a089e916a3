package audio

import (
	"encoding/binary"
	"math"
)

// Endpointer is an RMS-energy speech detector with hysteresis, consuming
// 20ms s16 mono frames. Speech opens after OpenFrames consecutive frames
// above OpenThreshold and closes after CloseFrames consecutive frames
// below CloseThreshold, so brief pauses inside an utterance do not end it.
type Endpointer struct {
	OpenThreshold  float64
	CloseThreshold float64
	OpenFrames     int
	CloseFrames    int

	inSpeech     bool
	everSpoke    bool
	speechCount  int
	silenceCount int
}

// NewEndpointer returns an endpointer tuned for 16kHz 20ms frames:
// ~60ms of voice to open, ~600ms of silence to close.
func NewEndpointer() *Endpointer {
	return &Endpointer{
		OpenThreshold:  0.015,
		CloseThreshold: 0.008,
		OpenFrames:     3,
		CloseFrames:    30,
	}
}

// Feed processes one PCM frame and reports whether the speech segment
// just closed (end of utterance).
func (e *Endpointer) Feed(frame []byte) (ended bool) {
	level := rmsLevel(frame)

	if e.inSpeech {
		if level < e.CloseThreshold {
			e.silenceCount++
			e.speechCount = 0
			if e.silenceCount >= e.CloseFrames {
				e.inSpeech = false
				e.silenceCount = 0
				return true
			}
		} else {
			e.silenceCount = 0
		}
		return false
	}

	if level >= e.OpenThreshold {
		e.speechCount++
		e.silenceCount = 0
		if e.speechCount >= e.OpenFrames {
			e.inSpeech = true
			e.everSpoke = true
			e.speechCount = 0
		}
	} else {
		e.speechCount = 0
	}
	return false
}

// InSpeech reports whether a speech segment is currently open.
func (e *Endpointer) InSpeech() bool {
	return e.inSpeech
}

// SpeechSeen reports whether any speech has opened since the last Reset.
func (e *Endpointer) SpeechSeen() bool {
	return e.everSpoke
}

// Reset clears detector state for a fresh utterance.
func (e *Endpointer) Reset() {
	e.inSpeech = false
	e.everSpoke = false
	e.speechCount = 0
	e.silenceCount = 0
}

// rmsLevel computes normalized RMS energy of little-endian s16 samples.
func rmsLevel(frame []byte) float64 {
	sampleCount := len(frame) / 2
	if sampleCount == 0 {
		return 0
	}

	var sum float64
	for i := 0; i+1 < len(frame); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(frame[i:]))
		normalized := float64(sample) / math.MaxInt16
		sum += normalized * normalized
	}
	return math.Sqrt(sum / float64(sampleCount))
}
