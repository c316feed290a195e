package domain

// AudioFormat is an encoding returned by the speech provider.
type AudioFormat string

const (
	// AudioPCM is raw 24 kHz mono signed 16-bit little-endian samples, used for live playback.
	AudioPCM AudioFormat = "pcm"
	// AudioMP3 is used for downloadable artifacts.
	AudioMP3 AudioFormat = "mp3"
)

// ContentType returns the MIME type served for the format.
func (f AudioFormat) ContentType() string {
	switch f {
	case AudioMP3:
		return "audio/mpeg"
	case AudioPCM:
		return "audio/L16;rate=24000;channels=1"
	default:
		return "application/octet-stream"
	}
}

// Extension returns the file extension for the format.
func (f AudioFormat) Extension() string {
	if f == AudioPCM {
		return ".pcm"
	}
	return "." + string(f)
}

// SpeechRequest is one synthesis call.
type SpeechRequest struct {
	Text         string
	Instructions string
	Voice        Voice
	Format       AudioFormat
}
