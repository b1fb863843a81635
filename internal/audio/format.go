package audio

import "bytes"

// Format describes an encoded audio container.
type Format struct {
	Ext         string
	ContentType string
}

var (
	MP3     = Format{Ext: "mp3", ContentType: "audio/mpeg"}
	WAV     = Format{Ext: "wav", ContentType: "audio/wav"}
	Unknown = Format{Ext: "bin", ContentType: "application/octet-stream"}
)

// Sniff identifies data by its leading bytes. Only the containers the
// synthesis backends emit are recognised.
func Sniff(data []byte) Format {
	switch {
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return WAV
	case len(data) >= 3 && bytes.Equal(data[0:3], []byte("ID3")):
		return MP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return MP3
	default:
		return Unknown
	}
}
