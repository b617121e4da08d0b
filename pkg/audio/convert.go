package audio

import "encoding/binary"

// FloatToPCM16 converts floating-point samples in [-1, 1] to little-endian
// int16 PCM, clamping out-of-range input. It also reports the peak absolute
// amplitude of the clamped input, computed in the same pass so capture
// callbacks do not need to scan the samples twice.
//
// Negative samples scale by 0x8000 and positive ones by 0x7fff so that the
// full range of both polarities is reachable.
func FloatToPCM16(samples []float32) (pcm []byte, peak float64) {
	pcm = make([]byte, len(samples)*2)
	for i, s := range samples {
		v := s
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		a := float64(v)
		if a < 0 {
			a = -a
		}
		if a > peak {
			peak = a
		}

		var out int16
		if v < 0 {
			out = int16(v * 0x8000)
		} else {
			out = int16(v * 0x7fff)
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(out))
	}
	return pcm, peak
}

// PCM16ToFloat32 converts little-endian int16 PCM to float32 samples
// normalised to [-1, 1]. A trailing odd byte is ignored.
func PCM16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(s) / 0x8000
	}
	return samples
}
