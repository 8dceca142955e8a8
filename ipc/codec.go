package ipc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// Magic prefixes every frame.
const Magic = "PYIPCHEAD_"

var magic = []byte(Magic)

// EncodeFrame returns Magic followed by the JSON encoding of v and a trailing newline.
func EncodeFrame(v any) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, 128))
	buf.Write(magic)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	// Encode appends the newline
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeFrame decodes a single line, without its trailing newline, into an object.
// It returns false if the line does not start with Magic, if the payload is not valid UTF-8 or not valid JSON, or if the payload is not an object.
// Numbers are decoded as json.Number so they survive a round trip unchanged.
func DecodeFrame(line []byte) (Object, bool) {
	if len(line) <= len(magic) || !bytes.HasPrefix(line, magic) {
		return nil, false
	}
	payload := bytes.TrimSuffix(line[len(magic):], []byte("\r"))
	// encoding/json would quietly replace bad bytes with U+FFFD
	if !utf8.Valid(payload) {
		return nil, false
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	// reject trailing data after the object
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, false
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	return obj, true
}

type flusher interface {
	Flush() error
}

// FrameWriter writes encoded frames to an output stream.
// Each frame is written with a single Write call and then flushed if the writer supports it, so the other end never sees a partial frame sitting in a buffer.
// FrameWriter is not goroutine-safe.
type FrameWriter struct {
	w io.Writer
}

func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

func (fw *FrameWriter) WriteFrame(v any) error {
	b, err := EncodeFrame(v)
	if err != nil {
		return err
	}
	return fw.WriteEncoded(b)
}

// WriteEncoded writes a frame already produced by EncodeFrame.
func (fw *FrameWriter) WriteEncoded(b []byte) error {
	if _, err := fw.w.Write(b); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	if f, ok := fw.w.(flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("flushing frame: %w", err)
		}
	}
	return nil
}

// WriteHeartbeat writes an empty frame.
func (fw *FrameWriter) WriteHeartbeat() error {
	return fw.WriteFrame(Object{})
}
