package player

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/tphakala/flac"

	"github.com/tphakala/streamhub/internal/errors"
	"github.com/tphakala/streamhub/internal/media"
)

func fileError(err error, path, op string) error {
	return errors.New(err).
		Component("player").
		Category(errors.CategoryFileIO).
		Context("path", path).
		Context("operation", op).
		Build()
}

func titleFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// WAVSource plays a WAV file in a loop.
type WAVSource struct {
	path string
	file *os.File
	dec  *wav.Decoder
	q    media.Quality
	ib   audio.IntBuffer
}

// OpenWAV opens a 16, 24 or 32 bit PCM WAV file.
func OpenWAV(path string) (*WAVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fileError(err, path, "open")
	}

	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		_ = f.Close()
		return nil, errors.Newf("not a valid WAV file: %s", path).
			Component("player").
			Category(errors.CategoryValidation).
			Build()
	}

	q := media.Quality{
		SampleRate:    int(dec.SampleRate),
		BitsPerSample: int(dec.BitDepth),
		Channels:      int(dec.NumChans),
	}
	if err := q.Validate(); err != nil {
		_ = f.Close()
		return nil, err
	}

	return &WAVSource{path: path, file: f, dec: dec, q: q}, nil
}

func (s *WAVSource) Quality() media.Quality { return s.q }
func (s *WAVSource) Title() string          { return titleFromPath(s.path) }

func (s *WAVSource) Read(p []byte) (int, error) {
	if s.file == nil {
		return 0, ErrSourceClosed
	}

	width := s.q.BitsPerSample / 8
	want := len(p) / s.q.BytesPerFrame() * s.q.Channels
	if cap(s.ib.Data) < want {
		s.ib.Data = make([]int, want)
	}
	s.ib.Format = &audio.Format{NumChannels: s.q.Channels, SampleRate: s.q.SampleRate}

	filled := 0
	rewound := false
	for filled < want {
		s.ib.Data = s.ib.Data[:want-filled]
		n, err := s.dec.PCMBuffer(&s.ib)
		if err != nil && !errors.Is(err, io.EOF) {
			return filled * width, fileError(err, s.path, "decode")
		}
		if n == 0 {
			if rewound {
				return filled * width, errors.Newf("WAV file has no audio: %s", s.path).
					Component("player").
					Category(errors.CategoryValidation).
					Build()
			}
			if err := s.rewind(); err != nil {
				return filled * width, err
			}
			rewound = true
			continue
		}
		rewound = false
		for i, v := range s.ib.Data[:n] {
			putSample(p[(filled+i)*width:], v, width)
		}
		filled += n
	}
	return filled * width, nil
}

func (s *WAVSource) rewind() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fileError(err, s.path, "seek")
	}
	s.dec = wav.NewDecoder(s.file)
	s.dec.ReadInfo()
	return nil
}

func (s *WAVSource) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// FLACSource plays a FLAC file in a loop.
type FLACSource struct {
	path    string
	file    *os.File
	dec     *flac.Decoder
	q       media.Quality
	pending []byte
}

// OpenFLAC opens a 16, 24 or 32 bit FLAC file.
func OpenFLAC(path string) (*FLACSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fileError(err, path, "open")
	}

	dec, err := flac.NewDecoder(f)
	if err != nil {
		_ = f.Close()
		return nil, fileError(err, path, "parse")
	}

	q := media.Quality{
		SampleRate:    dec.SampleRate,
		BitsPerSample: dec.BitsPerSample,
		Channels:      dec.NChannels,
	}
	if err := q.Validate(); err != nil {
		_ = f.Close()
		return nil, err
	}

	return &FLACSource{path: path, file: f, dec: dec, q: q}, nil
}

func (s *FLACSource) Quality() media.Quality { return s.q }
func (s *FLACSource) Title() string          { return titleFromPath(s.path) }

func (s *FLACSource) Read(p []byte) (int, error) {
	if s.file == nil {
		return 0, ErrSourceClosed
	}

	want := len(p) - len(p)%s.q.BytesPerFrame()
	filled := 0
	rewound := false
	for filled < want {
		if len(s.pending) > 0 {
			n := copy(p[filled:want], s.pending)
			s.pending = s.pending[n:]
			filled += n
			continue
		}

		frame, err := s.dec.Next()
		switch {
		case errors.Is(err, io.EOF):
			if rewound {
				return filled, errors.Newf("FLAC file has no audio: %s", s.path).
					Component("player").
					Category(errors.CategoryValidation).
					Build()
			}
			if err := s.rewind(); err != nil {
				return filled, err
			}
			rewound = true
		case err != nil:
			return filled, fileError(err, s.path, "decode")
		default:
			rewound = false
			s.pending = frame
		}
	}
	return filled, nil
}

func (s *FLACSource) rewind() error {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return fileError(err, s.path, "seek")
	}
	dec, err := flac.NewDecoder(s.file)
	if err != nil {
		return fileError(err, s.path, "parse")
	}
	s.dec = dec
	return nil
}

func (s *FLACSource) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
