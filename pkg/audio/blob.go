package audio

import "strings"

// Blob is an opaque, request-scoped audio payload. It is never persisted;
// it lives only for the duration of one pipeline run.
type Blob struct {
	Data     []byte
	MIMEType string
	Filename string
}

// Empty reports whether the blob carries no audio at all.
func (b Blob) Empty() bool {
	return len(b.Data) == 0
}

// Name returns the uploaded filename, or a generic one when absent.
// The transcription API wants a filename to sniff the container format.
func (b Blob) Name() string {
	if b.Filename != "" {
		return b.Filename
	}
	switch {
	case b.IsMP3():
		return "audio.mp3"
	case b.IsWAV():
		return "audio.wav"
	}
	return "audio"
}

// IsMP3 reports whether the MIME type looks like MP3/MPEG audio.
func (b Blob) IsMP3() bool {
	mt := strings.ToLower(b.MIMEType)
	return strings.Contains(mt, "mpeg") || strings.Contains(mt, "mp3")
}

// IsWAV reports whether the MIME type looks like WAV audio.
func (b Blob) IsWAV() bool {
	mt := strings.ToLower(b.MIMEType)
	return strings.Contains(mt, "wav") || strings.Contains(mt, "wave")
}
