// Package gpsserial opens the GPS receiver's TTY and feeds its raw byte
// stream to the HAL's NMEA/UBX frame decoders, following the same
// serial-port-to-parser pipeline used by GPSDO-to-time-service bridges:
// open at a fixed baud rate, read into a small buffer, hand bytes to the
// decoder, resync on invalid data.
package gpsserial

import (
	"io"
	"time"

	"github.com/tarm/serial"
)

// Config selects the TTY device and baud rate for a GPS receiver.
type Config struct {
	Path string
	Baud int
}

// Open opens the serial device described by cfg, defaulting to 9600 baud
// (the common default for u-blox and similar NMEA/UBX receivers) if Baud
// is unset.
func Open(cfg Config) (io.ReadCloser, error) {
	baud := cfg.Baud
	if baud == 0 {
		baud = 9600
	}
	return serial.OpenPort(&serial.Config{
		Name:        cfg.Path,
		Baud:        baud,
		ReadTimeout: time.Second,
	})
}

// FrameDecoder matches the subset of internal/hal.GPS this package drives:
// each call attempts to decode one frame off buf.
type FrameDecoder interface {
	ParseNMEA(buf []byte) (consumed int, frame interface{}, err error)
	ParseUBX(buf []byte) (consumed int, frame interface{}, err error)
}

// Loop reads from r until it returns an error other than io.EOF (on EOF
// it keeps reading) or ctxDone is closed,
// feeding a sliding decode buffer to dec and invoking onFrame for each
// successfully decoded frame.
func Loop(r io.Reader, dec FrameDecoder, ctxDone <-chan struct{}, onFrame func(frame interface{})) error {
	buf := make([]byte, 0, 512)
	chunk := make([]byte, 256)

	for {
		select {
		case <-ctxDone:
			return nil
		default:
		}

		n, err := r.Read(chunk)
		if err != nil {
			if err == io.EOF {
				continue
			}
			return err
		}
		buf = append(buf, chunk[:n]...)

		for len(buf) > 0 {
			consumed, frame, decErr := dec.ParseUBX(buf)
			if decErr == nil && consumed == 0 && frame == nil {
				consumed, frame, decErr = dec.ParseNMEA(buf)
			}
			if decErr != nil || (consumed == 0 && frame == nil) {
				// Need more data for either decoder to make progress.
				break
			}
			if consumed <= 0 {
				// Neither decoder recognized the lead byte; drop it and
				// resynchronize.
				buf = buf[1:]
				continue
			}
			if frame != nil {
				onFrame(frame)
			}
			buf = buf[consumed:]
		}

		if len(buf) > cap(buf) {
			buf = buf[len(buf)-cap(buf):]
		}
	}
}
