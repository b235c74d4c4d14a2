package wsaudio

import (
	"fmt"

	"layeh.com/gopus"
)

// opusMaxPacket bounds an encoded packet; 4000 bytes is the libopus
// recommendation for a single frame.
const opusMaxPacket = 4000

// validOpusRate reports whether rate is one of the sample rates libopus
// supports natively.
func validOpusRate(rate int) bool {
	switch rate {
	case 8000, 12000, 16000, 24000, 48000:
		return true
	}
	return false
}

// codec holds the Opus state for one client connection. Opus is stateful, so
// every connection gets its own encoder and decoder.
type codec struct {
	frameSize int
	enc       *gopus.Encoder
	dec       *gopus.Decoder
}

func newCodec(sampleRate, frameSize int) (*codec, error) {
	enc, err := gopus.NewEncoder(sampleRate, 1, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("wsaudio: create opus encoder: %w", err)
	}
	dec, err := gopus.NewDecoder(sampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("wsaudio: create opus decoder: %w", err)
	}
	return &codec{frameSize: frameSize, enc: enc, dec: dec}, nil
}

// encode compresses one mono frame into an Opus packet.
func (c *codec) encode(frame []int16) ([]byte, error) {
	pkt, err := c.enc.Encode(frame, c.frameSize, opusMaxPacket)
	if err != nil {
		return nil, fmt.Errorf("wsaudio: opus encode: %w", err)
	}
	return pkt, nil
}

// decode expands one Opus packet into mono samples.
func (c *codec) decode(pkt []byte) ([]int16, error) {
	pcm, err := c.dec.Decode(pkt, c.frameSize, false)
	if err != nil {
		return nil, fmt.Errorf("wsaudio: opus decode: %w", err)
	}
	return pcm, nil
}
