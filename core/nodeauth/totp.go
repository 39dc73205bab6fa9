package nodeauth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"time"
)

// TOTP derives time-sliced codes over a configurable alphabet. A code is
// accepted for the previous, current and next window.
type TOTP struct {
	length   int
	alphabet string
	validity time.Duration
}

// NewTOTP builds a generator from cfg after applying defaults.
func NewTOTP(cfg TOTPConfig) (*TOTP, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &TOTP{
		length:   cfg.Length,
		alphabet: cfg.Alphabet,
		validity: time.Duration(cfg.ValiditySeconds) * time.Second,
	}, nil
}

// Window returns the index of the time slice containing at.
func (t *TOTP) Window(at time.Time) int64 {
	return at.Unix() / int64(t.validity/time.Second)
}

// Code returns the code valid at the given instant.
func (t *TOTP) Code(secret string, at time.Time) string {
	return t.codeFor(secret, t.Window(at))
}

// Codes returns the previous, current and next codes around at.
func (t *TOTP) Codes(secret string, at time.Time) (prev, cur, next string) {
	w := t.Window(at)
	return t.codeFor(secret, w-1), t.codeFor(secret, w), t.codeFor(secret, w+1)
}

// Verify reports whether code matches any of the three accepted windows.
func (t *TOTP) Verify(secret, code string, now time.Time) bool {
	if secret == "" || len(code) != t.length {
		return false
	}
	w := t.Window(now)
	ok := 0
	for _, win := range []int64{w - 1, w, w + 1} {
		ok |= subtle.ConstantTimeCompare([]byte(t.codeFor(secret, win)), []byte(code))
	}
	return ok == 1
}

func (t *TOTP) codeFor(secret string, window int64) string {
	var counter [8]byte
	binary.BigEndian.PutUint64(counter[:], uint64(window))
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(counter[:])
	sum := mac.Sum(nil)
	out := make([]byte, t.length)
	n := len(t.alphabet)
	for i := range out {
		out[i] = t.alphabet[int(sum[i%len(sum)])%n]
	}
	return string(out)
}
