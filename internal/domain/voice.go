package domain

import (
	"fmt"
	"strings"
)

// Voice is a speech synthesizer voice name.
type Voice string

// Supported voices.
const (
	VoiceAlloy   Voice = "alloy"
	VoiceAsh     Voice = "ash"
	VoiceBallad  Voice = "ballad"
	VoiceCoral   Voice = "coral"
	VoiceEcho    Voice = "echo"
	VoiceFable   Voice = "fable"
	VoiceOnyx    Voice = "onyx"
	VoiceNova    Voice = "nova"
	VoiceSage    Voice = "sage"
	VoiceShimmer Voice = "shimmer"
	VoiceVerse   Voice = "verse"
)

// DefaultVoice is used when a query names no voice.
const DefaultVoice = VoiceCoral

var voices = []Voice{
	VoiceAlloy, VoiceAsh, VoiceBallad, VoiceCoral, VoiceEcho, VoiceFable,
	VoiceOnyx, VoiceNova, VoiceSage, VoiceShimmer, VoiceVerse,
}

// Voices returns the supported voices in display order.
func Voices() []Voice {
	out := make([]Voice, len(voices))
	copy(out, voices)
	return out
}

// ParseVoice validates a voice name. Empty input yields DefaultVoice.
func ParseVoice(s string) (Voice, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DefaultVoice, nil
	}
	for _, v := range voices {
		if string(v) == s {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidVoice, s)
}
