package metering

import "math"

// computeLevels derives per-channel RMS from an interleaved signed 16-bit
// block, scaled by gain and clamped to [0, 1]. Mono input mirrors its level
// onto both channels so stereo meters stay symmetric.
func computeLevels(data []byte, channels int, gain float64) [2]float64 {
	if channels < 1 {
		channels = 1
	}
	frames := len(data) / 2 / channels
	if frames == 0 {
		return [2]float64{}
	}

	var sums [2]float64
	for f := 0; f < frames; f++ {
		for c := 0; c < channels && c < 2; c++ {
			i := (f*channels + c) * 2
			sample := int16(uint16(data[i]) | uint16(data[i+1])<<8)
			v := float64(sample) / 32768.0
			sums[c] += v * v
		}
	}

	var levels [2]float64
	for c := 0; c < 2; c++ {
		if c >= channels {
			levels[c] = levels[0]
			continue
		}
		levels[c] = clamp01(math.Sqrt(sums[c]/float64(frames)) * gain)
	}
	return levels
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
