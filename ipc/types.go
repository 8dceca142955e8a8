package ipc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Object is a decoded JSON object.
type Object = map[string]any

// Request is a request message, built from a single decoded frame.
type Request struct {
	Call string
	ID   string
	Data Object
}

func (r Request) MarshalJSON() ([]byte, error) {
	data := r.Data
	if data == nil {
		data = Object{}
	}
	return marshal(struct {
		Call string `json:"call"`
		ID   string `json:"id"`
		Data Object `json:"data"`
	}{r.Call, r.ID, data})
}

// RequestFromFrame normalizes a decoded frame into a Request.
// Missing or non-string call and id fields become "", and a missing or non-object data field becomes an empty object.
func RequestFromFrame(frame Object) Request {
	return Request{
		Call: stringField(frame, "call"),
		ID:   stringField(frame, "id"),
		Data: objectField(frame, "data"),
	}
}

// Response is a response message.
// Exactly one of Data or Error is sent on the wire: Error when it is non-nil, Data otherwise.
type Response struct {
	ID   string
	Data Object
	// Error is the failure message, nil on success.
	Error *string
}

// Success builds a successful response.
func Success(id string, data Object) Response {
	if data == nil {
		data = Object{}
	}
	return Response{ID: id, Data: data}
}

// Failure builds a failed response carrying msg.
func Failure(id string, msg string) Response {
	return Response{ID: id, Error: &msg}
}

func (r Response) Failed() bool {
	return r.Error != nil
}

func (r Response) MarshalJSON() ([]byte, error) {
	if r.Error != nil {
		return marshal(struct {
			ID    string `json:"id"`
			Error string `json:"error"`
		}{r.ID, *r.Error})
	}
	data := r.Data
	if data == nil {
		data = Object{}
	}
	return marshal(struct {
		ID   string `json:"id"`
		Data Object `json:"data"`
	}{r.ID, data})
}

// ResponseFromFrame normalizes a decoded frame into a Response.
// A frame with an "error" field is a failure regardless of any "data" field.
func ResponseFromFrame(frame Object) Response {
	id := stringField(frame, "id")
	if v, ok := frame["error"]; ok {
		msg, isString := v.(string)
		if !isString {
			msg = fmt.Sprint(v)
		}
		return Failure(id, msg)
	}
	return Success(id, objectField(frame, "data"))
}

func stringField(o Object, key string) string {
	s, _ := o[key].(string)
	return s
}

func objectField(o Object, key string) Object {
	if v, ok := o[key].(map[string]any); ok {
		return v
	}
	return Object{}
}

// marshal is json.Marshal without HTML escaping, keeping frames readable.
func marshal(v any) ([]byte, error) {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
