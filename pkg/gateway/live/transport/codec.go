package transport

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	resampling "github.com/tphakala/go-audio-resampling"
)

// G.711 mu-law runs at 8 kHz with one byte per sample.
const (
	pcmuRate      = 8000
	pcmuFrameSize = pcmuRate / 50 // 20ms
)

// Opus over RTP always uses a 48 kHz clock.
const opusRate = 48000

// pcmu converts G.711 mu-law payloads to and from 16-bit mono PCM. Outbound
// PCM at any other rate is resampled to 8 kHz first.
type pcmu struct {
	mu      sync.Mutex
	srcRate int
	rs      resampling.Resampler
}

func (c *pcmu) Format() AudioFormat {
	return AudioFormat{Encoding: "linear16", SampleRate: pcmuRate}
}

// Decode expands a mu-law RTP payload to little-endian PCM.
func (c *pcmu) Decode(pkt *rtp.Packet) ([]byte, error) {
	out := make([]byte, 2*len(pkt.Payload))
	for i, b := range pkt.Payload {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(ulawDecode(b)))
	}
	return out, nil
}

// Encode compresses PCM at sampleRate into mu-law at 8 kHz. The resampler
// is stateful, so a call may return fewer samples than it was given.
func (c *pcmu) Encode(pcm []byte, sampleRate int) ([]byte, error) {
	samples, err := c.resample(pcm, sampleRate)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = ulawEncode(s)
	}
	return out, nil
}

func (c *pcmu) resample(pcm []byte, sampleRate int) ([]int16, error) {
	n := len(pcm) / 2
	if sampleRate <= 0 || sampleRate == pcmuRate {
		out := make([]int16, n)
		for i := range out {
			out[i] = int16(binary.LittleEndian.Uint16(pcm[2*i:]))
		}
		return out, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rs == nil || c.srcRate != sampleRate {
		rs, err := resampling.New(&resampling.Config{
			InputRate:  float64(sampleRate),
			OutputRate: pcmuRate,
			Channels:   1,
			Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
		})
		if err != nil {
			return nil, fmt.Errorf("resampler %d->%d: %w", sampleRate, pcmuRate, err)
		}
		c.rs, c.srcRate = rs, sampleRate
	}

	in := make([]float64, n)
	for i := range in {
		in[i] = float64(int16(binary.LittleEndian.Uint16(pcm[2*i:]))) / 32768.0
	}
	res, err := c.rs.Process(in)
	if err != nil {
		return nil, fmt.Errorf("resample: %w", err)
	}
	out := make([]int16, len(res))
	for i, v := range res {
		switch {
		case v >= 1:
			out[i] = 32767
		case v <= -1:
			out[i] = -32768
		default:
			out[i] = int16(v * 32767)
		}
	}
	return out, nil
}

// pcmuFrames splits mu-law audio into 20ms samples for write.
func pcmuFrames(payload []byte, write func(data []byte, d time.Duration) error) error {
	for len(payload) > 0 {
		n := min(len(payload), pcmuFrameSize)
		if err := write(payload[:n], time.Duration(n)*time.Second/pcmuRate); err != nil {
			return err
		}
		payload = payload[n:]
	}
	return nil
}

const (
	ulawBias = 0x84
	ulawClip = 32635
)

func ulawEncode(s int16) byte {
	v := int(s)
	var sign byte
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > ulawClip {
		v = ulawClip
	}
	v += ulawBias
	exp := 7
	for mask := 0x4000; v&mask == 0 && exp > 0; mask >>= 1 {
		exp--
	}
	mant := (v >> (exp + 3)) & 0x0f
	return ^(sign | byte(exp<<4) | byte(mant))
}

func ulawDecode(u byte) int16 {
	u = ^u
	exp := int(u>>4) & 0x07
	v := ((int(u&0x0f) << 3) + ulawBias) << exp
	v -= ulawBias
	if u&0x80 != 0 {
		v = -v
	}
	return int16(v)
}

// oggOpus wraps inbound Opus RTP packets in an Ogg container so they can be
// streamed to a transcriber as-is. The stream headers are exposed through
// Format and never repeated by Decode.
type oggOpus struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	w      *oggwriter.OggWriter
	header []byte
}

func newOggOpus() (*oggOpus, error) {
	o := &oggOpus{}
	w, err := oggwriter.NewWith(&o.buf, opusRate, 1)
	if err != nil {
		return nil, fmt.Errorf("ogg writer: %w", err)
	}
	o.w = w
	o.header = bytes.Clone(o.buf.Bytes())
	o.buf.Reset()
	return o, nil
}

func (o *oggOpus) Format() AudioFormat {
	return AudioFormat{Encoding: "opus", SampleRate: opusRate, Header: o.header}
}

// Decode returns the Ogg page carrying pkt.
func (o *oggOpus) Decode(pkt *rtp.Packet) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.w.WriteRTP(pkt); err != nil {
		o.buf.Reset()
		return nil, err
	}
	page := bytes.Clone(o.buf.Bytes())
	o.buf.Reset()
	return page, nil
}
