package api

import (
	"bytes"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
)

var lastTimestamp int64

// nextTimestamp returns strictly increasing unix nanoseconds across goroutines.
func nextTimestamp() int64 {
	for {
		now := time.Now().UnixNano()
		last := atomic.LoadInt64(&lastTimestamp)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastTimestamp, last, now) {
			return now
		}
	}
}

var errBodyTooLarge = errors.New("request body too large")

var strictJSON = sonic.Config{
	EscapeHTML:            true,
	CopyString:            true,
	ValidateString:        true,
	DisallowUnknownFields: true,
}.Froze()

// readBody reads at most limit bytes and trims surrounding whitespace.
func readBody(r io.Reader, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, errBodyTooLarge
	}
	return bytes.TrimSpace(body), nil
}

func decodeStrict(body []byte, v any) error {
	return strictJSON.Unmarshal(body, v)
}
