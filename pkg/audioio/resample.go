// Package audioio converts inbound client PCM into the format the
// transcription service expects.
package audioio

// TargetRate is the sample rate the transcription service is opened with.
const TargetRate = 16000

// Converter resamples a stream of PCM16 little-endian mono frames from one
// rate to another with linear interpolation. Interpolation phase and
// odd trailing bytes carry across frames, so frame boundaries do not click.
// A Converter is not safe for concurrent use.
type Converter struct {
	from, to int
	step     float64

	pos     float64
	last    int16
	hasLast bool
	odd     []byte
}

// NewConverter returns a converter from rate from to rate to. A
// non-positive from is treated as to.
func NewConverter(from, to int) *Converter {
	if from <= 0 {
		from = to
	}
	return &Converter{from: from, to: to, step: float64(from) / float64(to)}
}

// Passthrough reports whether frames are returned unchanged.
func (c *Converter) Passthrough() bool {
	return c.from == c.to
}

// Convert resamples one frame.
func (c *Converter) Convert(frame []byte) []byte {
	if len(c.odd) > 0 {
		frame = append(c.odd, frame...)
		c.odd = nil
	}
	if len(frame)%2 == 1 {
		c.odd = []byte{frame[len(frame)-1]}
		frame = frame[:len(frame)-1]
	}
	if c.Passthrough() || len(frame) == 0 {
		return frame
	}

	in := BytesToSamples(frame)
	if c.hasLast {
		in = append([]int16{c.last}, in...)
	}

	out := make([]int16, 0, int(float64(len(in))/c.step)+1)
	for c.pos < float64(len(in)-1) {
		i := int(c.pos)
		frac := c.pos - float64(i)
		s1, s2 := float64(in[i]), float64(in[i+1])
		out = append(out, int16(s1+frac*(s2-s1)))
		c.pos += c.step
	}

	c.pos -= float64(len(in) - 1)
	c.last = in[len(in)-1]
	c.hasLast = true
	return SamplesToBytes(out)
}

// Resample converts a complete buffer of samples in one call.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(samples) == 0 {
		return samples
	}
	c := NewConverter(fromRate, toRate)
	return BytesToSamples(c.Convert(SamplesToBytes(samples)))
}

// BytesToSamples converts PCM16 little-endian bytes to samples.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}

// SamplesToBytes converts samples to PCM16 little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}
	return data
}

// Level returns the mean square energy of a PCM16 frame in [0, 1].
func Level(frame []byte) float64 {
	samples := BytesToSamples(frame)
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return sum / float64(len(samples)) / (32767 * 32767)
}
