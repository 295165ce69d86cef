package media

import (
	"mime"
	"path/filepath"
	"strings"
)

// Type represents a media type the backend accepts.
type Type string

const (
	TypeNone     Type = ""
	TypeImage    Type = "image"
	TypeVideo    Type = "video"
	TypeAudio    Type = "audio"
	TypeDocument Type = "document"
)

// Parse validates a user supplied media type. "none" and "" map to TypeNone.
func Parse(s string) (Type, bool) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case TypeImage, TypeVideo, TypeAudio, TypeDocument:
		return t, true
	case TypeNone, "none":
		return TypeNone, true
	default:
		return TypeNone, false
	}
}

// FromMimeType detects media type from MIME type.
func FromMimeType(mimeType string) Type {
	mimeType = strings.ToLower(mimeType)

	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return TypeImage
	case strings.HasPrefix(mimeType, "video/"):
		return TypeVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return TypeAudio
	default:
		return TypeDocument
	}
}

// FromExtension detects media type from file extension.
func FromExtension(filename string) Type {
	ext := strings.ToLower(filepath.Ext(filename))

	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".bmp", ".webp":
		return TypeImage
	case ".mp4", ".mov", ".avi", ".mkv", ".webm", ".3gp":
		return TypeVideo
	case ".mp3", ".ogg", ".wav", ".m4a", ".aac", ".opus", ".flac":
		return TypeAudio
	default:
		return TypeDocument
	}
}

// MimeType returns the content type to declare for a file upload.
func MimeType(filename string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
