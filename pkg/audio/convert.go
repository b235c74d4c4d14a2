package audio

import (
	"encoding/binary"
	"log/slog"
)

// BytesToSamples decodes little-endian 16-bit PCM into samples. A trailing odd
// byte is ignored.
func BytesToSamples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// SamplesToBytes encodes samples as little-endian 16-bit PCM.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// MonoToStereo duplicates each mono sample into an interleaved L+R pair.
func MonoToStereo(mono []int16) []int16 {
	out := make([]int16, len(mono)*2)
	for i, s := range mono {
		out[i*2] = s
		out[i*2+1] = s
	}
	return out
}

// StereoToMono averages each interleaved L+R pair. A trailing unpaired sample
// is ignored.
func StereoToMono(stereo []int16) []int16 {
	out := make([]int16, len(stereo)/2)
	for i := range out {
		// int32 sum cannot overflow and the average always fits in int16.
		out[i] = int16((int32(stereo[i*2]) + int32(stereo[i*2+1])) / 2)
	}
	return out
}

// ResampleMono resamples mono samples from srcRate to dstRate using linear
// interpolation. If the rates match or either is invalid the input is
// returned unchanged.
func ResampleMono(samples []int16, srcRate, dstRate int) []int16 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) < 2 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]int16, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstLen {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := samples[idx]
		s1 := s0
		if idx+1 < len(samples) {
			s1 = samples[idx+1]
		}
		out[i] = int16(float64(s0)*(1-frac) + float64(s1)*frac)
	}
	return out
}

// Framer slices an arbitrary-length sample stream into fixed-size frames.
// Samples that do not fill a whole frame are held until the next Push or
// emitted zero-padded by Flush.
//
// A Framer is not safe for concurrent use; create one per stream.
type Framer struct {
	size    int
	pending []int16
}

// NewFramer returns a Framer producing frames of size samples. Sizes below
// one are clamped to one.
func NewFramer(size int) *Framer {
	if size < 1 {
		slog.Warn("audio: framer size clamped", "requested", size)
		size = 1
	}
	return &Framer{size: size, pending: make([]int16, 0, size)}
}

// Push appends samples and returns every complete frame now available. The
// returned frames are owned by the caller.
func (f *Framer) Push(samples []int16) []Frame {
	var frames []Frame
	for len(samples) > 0 {
		n := min(f.size-len(f.pending), len(samples))
		f.pending = append(f.pending, samples[:n]...)
		samples = samples[n:]
		if len(f.pending) == f.size {
			frames = append(frames, Frame(f.pending).Clone())
			f.pending = f.pending[:0]
		}
	}
	return frames
}

// Flush returns the held partial frame padded with silence, or nil if
// nothing is pending.
func (f *Framer) Flush() Frame {
	if len(f.pending) == 0 {
		return nil
	}
	out := make(Frame, f.size)
	copy(out, f.pending)
	f.pending = f.pending[:0]
	return out
}
