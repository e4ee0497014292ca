package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrMalformedPayload is returned by [DecodePCM16] when an inbound audio
// payload is not valid base64 or not aligned to whole int16 samples.
var ErrMalformedPayload = errors.New("audio: malformed PCM payload")

// EncodePCM16 quantizes normalized float samples to little-endian int16 PCM
// and base64-encodes the result.
//
// Samples are clamped to [-1, 1] and scaled asymmetrically: positive values
// by 32767, negative values by 32768. The asymmetry matches the int16 range
// exactly and is relied upon by the wire peers — do not "fix" it to a single
// scale factor.
func EncodePCM16(samples []float32) string {
	return base64.StdEncoding.EncodeToString(quantizePCM16(samples))
}

// quantizePCM16 converts normalized float samples to raw little-endian int16
// bytes using the asymmetric scale described on [EncodePCM16].
func quantizePCM16(samples []float32) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		var v int16
		if s >= 0 {
			v = int16(s * 32767)
		} else {
			v = int16(s * 32768)
		}
		buf[i*2] = byte(v)
		buf[i*2+1] = byte(v >> 8)
	}
	return buf
}

// DecodePCM16 decodes a base64-encoded little-endian PCM16 payload into
// normalized float32 samples (value/32768). It returns [ErrMalformedPayload]
// (wrapped) if the payload is not valid base64 or has an odd byte count.
func DecodePCM16(data string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("%w: odd byte count %d", ErrMalformedPayload, len(raw))
	}

	return samplesFromPCM16(raw), nil
}

// samplesFromPCM16 converts raw little-endian int16 bytes to normalized
// float32 samples (value/32768). len(raw) must be even.
func samplesFromPCM16(raw []byte) []float32 {
	out := make([]float32, len(raw)/2)
	for i := range out {
		v := int16(raw[i*2]) | int16(raw[i*2+1])<<8
		out[i] = float32(v) / 32768
	}
	return out
}
