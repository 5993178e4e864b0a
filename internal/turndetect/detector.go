package turndetect

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/mirelabs/mira/internal/convo"
)

var (
	ErrMalformedFrame = errors.New("malformed audio frame")
	ErrOutOfOrder     = errors.New("out-of-order audio frame")
)

const DefaultSampleRate = 16000

// Config tunes turn boundary detection over PCM16LE mono audio.
type Config struct {
	// SilenceThreshold is how long speech must pause before the turn is
	// considered over.
	SilenceThreshold time.Duration
	// MinUtterance discards blips shorter than this.
	MinUtterance time.Duration
	// MaxBuffered forces emission of a turn that never pauses.
	MaxBuffered time.Duration
	// ActivationLevel is the mean absolute sample amplitude at or above
	// which a frame counts as speech.
	ActivationLevel int
	SampleRate      int
}

func (c *Config) applyDefaults() {
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = 1500 * time.Millisecond
	}
	if c.MinUtterance < 0 {
		c.MinUtterance = 0
	}
	if c.MaxBuffered <= c.SilenceThreshold {
		c.MaxBuffered = c.SilenceThreshold + 30*time.Second
	}
	if c.ActivationLevel <= 0 {
		c.ActivationLevel = 500
	}
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
}

// Detector accumulates audio frames and emits one Utterance per detected
// turn. It is not safe for concurrent use; each channel owns one.
type Detector struct {
	cfg    Config
	person convo.PersonID

	buf           []byte
	inSpeech      bool
	startedAt     time.Time
	lastSpeechEnd time.Time
	lastTS        time.Time
}

func New(cfg Config) *Detector {
	cfg.applyDefaults()
	return &Detector{cfg: cfg}
}

// SetPerson tags subsequently emitted utterances with the given person.
// Audio already buffered keeps flowing into the current turn unchanged.
func (d *Detector) SetPerson(p convo.PersonID) { d.person = p }

func (d *Detector) Person() convo.PersonID { return d.person }

// Ingest consumes one PCM16LE mono frame stamped with its capture time.
// It returns a non-nil Utterance when the frame closes a turn. Malformed or
// out-of-order frames are rejected with a sentinel error and the buffered
// turn is left untouched.
func (d *Detector) Ingest(frame []byte, ts time.Time) (*convo.Utterance, error) {
	if len(frame) == 0 || len(frame)%2 != 0 {
		return nil, ErrMalformedFrame
	}
	if !d.lastTS.IsZero() && ts.Before(d.lastTS) {
		return nil, ErrOutOfOrder
	}
	d.lastTS = ts
	frameEnd := ts.Add(d.frameDuration(len(frame)))

	if meanAbsAmplitude(frame) >= d.cfg.ActivationLevel {
		if !d.inSpeech {
			d.inSpeech = true
			d.startedAt = ts
		}
		d.buf = append(d.buf, frame...)
		d.lastSpeechEnd = frameEnd
	} else if d.inSpeech {
		// Keep intra-turn pauses in the audio so the transcript stays
		// contiguous.
		d.buf = append(d.buf, frame...)
		if frameEnd.Sub(d.lastSpeechEnd) >= d.cfg.SilenceThreshold {
			return d.emit(), nil
		}
	}

	if d.inSpeech && frameEnd.Sub(d.startedAt) >= d.cfg.MaxBuffered {
		return d.emit(), nil
	}
	return nil, nil
}

// Flush forces emission of any buffered turn, for session end.
func (d *Detector) Flush() *convo.Utterance {
	if !d.inSpeech {
		return nil
	}
	return d.emit()
}

// emit finalizes the buffered turn. Turns shorter than MinUtterance are
// dropped silently.
func (d *Detector) emit() *convo.Utterance {
	audio := d.buf
	started, ended := d.startedAt, d.lastSpeechEnd
	d.buf = nil
	d.inSpeech = false
	d.startedAt = time.Time{}
	d.lastSpeechEnd = time.Time{}

	if ended.Sub(started) < d.cfg.MinUtterance {
		return nil
	}
	return &convo.Utterance{
		Person:    d.person,
		Audio:     audio,
		StartedAt: started,
		EndedAt:   ended,
	}
}

func (d *Detector) frameDuration(byteLen int) time.Duration {
	samples := byteLen / 2
	return time.Duration(samples) * time.Second / time.Duration(d.cfg.SampleRate)
}

func meanAbsAmplitude(frame []byte) int {
	var sum int64
	samples := len(frame) / 2
	for i := 0; i < samples; i++ {
		s := int16(binary.LittleEndian.Uint16(frame[2*i:]))
		if s < 0 {
			sum -= int64(s)
		} else {
			sum += int64(s)
		}
	}
	return int(sum / int64(samples))
}
