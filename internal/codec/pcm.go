package codec

import (
	"bytes"
	"encoding/binary"

	"github.com/go-audio/audio"

	"github.com/tphakala/streamhub/internal/media"
)

// PCMFactory converts PCM between bit depths and between mono and stereo.
// It does not resample.
type PCMFactory struct{}

// NewEncoder implements Factory.
func (PCMFactory) NewEncoder(in, out media.Quality) (Encoder, error) {
	if !validPCMDepth(in.BitsPerSample) {
		return nil, unsupported(in, out, "input bit depth")
	}
	if !validPCMDepth(out.BitsPerSample) {
		return nil, unsupported(in, out, "output bit depth")
	}
	if in.SampleRate != out.SampleRate {
		return nil, unsupported(in, out, "sample rate conversion")
	}
	if in.Channels != out.Channels && !(in.Channels <= 2 && out.Channels <= 2) {
		return nil, unsupported(in, out, "channel mapping")
	}
	if in.Channels <= 0 || out.Channels <= 0 {
		return nil, unsupported(in, out, "empty quality")
	}

	return &pcmEncoder{in: in, out: out}, nil
}

func validPCMDepth(bits int) bool {
	return bits == 16 || bits == 24 || bits == 32
}

type pcmEncoder struct {
	in, out media.Quality
	ib      audio.IntBuffer
}

func (e *pcmEncoder) Encode(dst *bytes.Buffer, buf media.Buffer) error {
	if buf.Quality != e.in {
		return unsupported(buf.Quality, e.in, "input quality changed")
	}
	if e.in.BitsPerSample == e.out.BitsPerSample && e.in.Channels == e.out.Channels {
		dst.Write(buf.Data)
		return nil
	}

	decodePCM(&e.ib, buf.Data, e.in)
	remix(&e.ib, e.out.Channels)
	rescale(&e.ib, e.out.BitsPerSample)
	encodePCM(dst, &e.ib)
	return nil
}

func (e *pcmEncoder) Close() error {
	e.ib.Data = nil
	return nil
}

// decodePCM fills ib with signed samples from little-endian PCM in q.
func decodePCM(ib *audio.IntBuffer, data []byte, q media.Quality) {
	width := q.BitsPerSample / 8
	n := len(data) / width

	if cap(ib.Data) < n {
		ib.Data = make([]int, n)
	}
	ib.Data = ib.Data[:n]
	ib.Format = &audio.Format{NumChannels: q.Channels, SampleRate: q.SampleRate}
	ib.SourceBitDepth = q.BitsPerSample

	for i := range n {
		b := data[i*width:]
		switch width {
		case 2:
			ib.Data[i] = int(int16(binary.LittleEndian.Uint16(b)))
		case 3:
			v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
			ib.Data[i] = int((v << 8) >> 8)
		case 4:
			ib.Data[i] = int(int32(binary.LittleEndian.Uint32(b)))
		}
	}
}

// remix converts between mono and stereo in place.
func remix(ib *audio.IntBuffer, channels int) {
	from := ib.Format.NumChannels
	if from == channels {
		return
	}
	frames := ib.NumFrames()

	switch {
	case from == 2 && channels == 1:
		for i := range frames {
			ib.Data[i] = (ib.Data[2*i] + ib.Data[2*i+1]) / 2
		}
		ib.Data = ib.Data[:frames]
	case from == 1 && channels == 2:
		if cap(ib.Data) < frames*2 {
			grown := make([]int, frames*2)
			copy(grown, ib.Data)
			ib.Data = grown
		}
		ib.Data = ib.Data[:frames*2]
		for i := frames - 1; i >= 0; i-- {
			ib.Data[2*i] = ib.Data[i]
			ib.Data[2*i+1] = ib.Data[i]
		}
	}
	ib.Format = &audio.Format{NumChannels: channels, SampleRate: ib.Format.SampleRate}
}

// rescale shifts samples to a new bit depth.
func rescale(ib *audio.IntBuffer, bits int) {
	shift := bits - ib.SourceBitDepth
	switch {
	case shift > 0:
		for i, v := range ib.Data {
			ib.Data[i] = v << shift
		}
	case shift < 0:
		for i, v := range ib.Data {
			ib.Data[i] = v >> -shift
		}
	}
	ib.SourceBitDepth = bits
}

func encodePCM(dst *bytes.Buffer, ib *audio.IntBuffer) {
	width := ib.SourceBitDepth / 8
	dst.Grow(len(ib.Data) * width)

	var tmp [4]byte
	for _, v := range ib.Data {
		switch width {
		case 2:
			binary.LittleEndian.PutUint16(tmp[:], uint16(int16(v)))
		case 3:
			tmp[0], tmp[1], tmp[2] = byte(v), byte(v>>8), byte(v>>16)
		case 4:
			binary.LittleEndian.PutUint32(tmp[:], uint32(int32(v)))
		}
		dst.Write(tmp[:width])
	}
}

// WAVHeader returns a RIFF/WAVE header for an open-ended PCM stream. The
// chunk sizes are set to their maximum since the length is unknown.
func WAVHeader(q media.Quality) []byte {
	const unknownSize = 0xFFFFFFFF

	h := make([]byte, 44)
	copy(h[0:], "RIFF")
	binary.LittleEndian.PutUint32(h[4:], unknownSize)
	copy(h[8:], "WAVE")
	copy(h[12:], "fmt ")
	binary.LittleEndian.PutUint32(h[16:], 16)
	binary.LittleEndian.PutUint16(h[20:], 1) // PCM
	binary.LittleEndian.PutUint16(h[22:], uint16(q.Channels))
	binary.LittleEndian.PutUint32(h[24:], uint32(q.SampleRate))
	binary.LittleEndian.PutUint32(h[28:], uint32(q.SampleRate*q.BytesPerFrame()))
	binary.LittleEndian.PutUint16(h[32:], uint16(q.BytesPerFrame()))
	binary.LittleEndian.PutUint16(h[34:], uint16(q.BitsPerSample))
	copy(h[36:], "data")
	binary.LittleEndian.PutUint32(h[40:], unknownSize)
	return h
}
