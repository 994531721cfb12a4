package core

import (
	"encoding/base64"
	"fmt"
)

// DecodeSegment decodes one base64url (unpadded) segment.
func DecodeSegment(segment string) ([]byte, error) {
	if len(segment) == 0 {
		return nil, ErrEmptySegment
	}

	if !isValidBase64URL(segment) {
		return nil, fmt.Errorf("invalid base64url characters in segment")
	}

	buf, err := base64.RawURLEncoding.DecodeString(segment)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64url: %w", err)
	}
	return buf, nil
}

// EncodeSegment encodes data as an unpadded base64url segment.
func EncodeSegment(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

// SigningInput encodes header and payload JSON and joins them with a dot.
func SigningInput(headerJSON, payloadJSON []byte) string {
	headerEncodedLen := base64.RawURLEncoding.EncodedLen(len(headerJSON))
	payloadEncodedLen := base64.RawURLEncoding.EncodedLen(len(payloadJSON))

	buf := make([]byte, headerEncodedLen+1+payloadEncodedLen)
	base64.RawURLEncoding.Encode(buf[:headerEncodedLen], headerJSON)
	buf[headerEncodedLen] = '.'
	base64.RawURLEncoding.Encode(buf[headerEncodedLen+1:], payloadJSON)

	return string(buf)
}

// isValidBase64URL checks if string contains only valid base64url characters
func isValidBase64URL(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !((c >= 'A' && c <= 'Z') ||
			(c >= 'a' && c <= 'z') ||
			(c >= '0' && c <= '9') ||
			c == '-' || c == '_') {
			return false
		}
	}
	return true
}
