package audio

import (
	"encoding/binary"
	"log/slog"
	"sync"
)

var warnedOddPCM sync.Once

// PCM16ToFloat32 decodes little-endian 16-bit PCM into normalized float32
// samples in [-1.0, 1.0]. A trailing odd byte is dropped; the first occurrence
// logs a warning since it usually means a corrupt transport framing.
func PCM16ToFloat32(pcm []byte) []float32 {
	if len(pcm)%2 != 0 {
		warnedOddPCM.Do(func() {
			slog.Warn("audio: odd byte count in PCM data, dropping trailing byte", "bytes", len(pcm))
		})
		pcm = pcm[:len(pcm)-1]
	}
	out := make([]float32, len(pcm)/2)
	for i := range out {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Float32ToPCM16 encodes normalized float32 samples as little-endian 16-bit
// PCM, clamping to the int16 range.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int32(s * 32767.0)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// Float32ToInt16 converts normalized float32 samples to int16 values,
// clamping to the int16 range. Wake-word classifiers consume this layout.
func Float32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := int32(s * 32767.0)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = int16(v)
	}
	return out
}

// ResampleMono resamples normalized mono samples from srcRate to dstRate using
// linear interpolation. If srcRate == dstRate, the input is returned unchanged.
func ResampleMono(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 {
		return samples
	}
	if srcRate == dstRate || len(samples) < 2 {
		return samples
	}
	dstSamples := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]float32, dstSamples)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range out {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 < len(samples) {
			s1 = samples[srcIdx+1]
		}
		out[i] = float32(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}
