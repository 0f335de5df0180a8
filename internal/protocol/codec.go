package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	cerrors "github.com/Aman-CERP/cpid/internal/errors"
)

// Codec names accepted by ByName.
const (
	CodecJSON = "json"
	CodecCBOR = "cbor"
)

// UnknownCommandError is returned when a frame carries a type tag that
// names no known message. The connection cannot continue after it.
type UnknownCommandError struct {
	Tag string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("unknown message type %q", e.Tag)
}

// format is one self-describing encoding.
type format interface {
	marshal(v any) ([]byte, error)
	unmarshal(data []byte, v any) error
	// newFrameReader returns a reader splitting r into frames, each the
	// raw encoding of the frame's array elements.
	newFrameReader(r io.Reader) frameReader
}

type frameReader interface {
	next() ([][]byte, error)
}

// Codec reads and writes framed messages in one encoding.
type Codec struct {
	name string
	f    format
}

// JSON frames are whitespace-separated JSON arrays.
var JSON = Codec{name: CodecJSON, f: jsonFormat{}}

// CBOR frames are back-to-back CBOR arrays in core deterministic encoding.
var CBOR = Codec{name: CodecCBOR, f: newCBORFormat()}

// ByName returns the codec called name.
func ByName(name string) (Codec, error) {
	switch name {
	case CodecJSON, "":
		return JSON, nil
	case CodecCBOR:
		return CBOR, nil
	default:
		return Codec{}, cerrors.New(cerrors.ErrCodeInvalidInput,
			fmt.Sprintf("unknown codec %q", name), nil).
			WithSuggestion("use json or cbor")
	}
}

// Name returns the codec name.
func (c Codec) Name() string { return c.name }

// NewEncoder returns an encoder writing to w.
func (c Codec) NewEncoder(w io.Writer) *Encoder {
	return &Encoder{f: c.f, w: w, newline: c.name == CodecJSON}
}

// NewDecoder returns a decoder reading from r.
func (c Codec) NewDecoder(r io.Reader) *Decoder {
	return &Decoder{f: c.f, frames: c.f.newFrameReader(r)}
}

// Encoder writes frames. It is not safe for concurrent use.
type Encoder struct {
	f       format
	w       io.Writer
	newline bool
}

// WriteRequest writes one request frame.
func (e *Encoder) WriteRequest(req Request) error {
	return e.write(req.ID, req.Command.CommandType(), req.Command)
}

// WriteReply writes one reply frame.
func (e *Encoder) WriteReply(rep Reply) error {
	return e.write(rep.ID, rep.Result.ResultType(), rep.Result)
}

func (e *Encoder) write(id uint64, tag string, body any) error {
	obj, err := tagged(e.f, tag, body)
	if err != nil {
		return err
	}
	data, err := e.f.marshal([]any{id, obj})
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", tag, err)
	}
	if e.newline {
		data = append(data, '\n')
	}
	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", tag, err)
	}
	return nil
}

// tagged re-encodes body as a map with the "type" member added. Message
// bodies hold only strings, string lists and string-list maps, so the
// round trip through a generic map is lossless.
func tagged(f format, tag string, body any) (map[string]any, error) {
	data, err := f.marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", tag, err)
	}
	var obj map[string]any
	if err := f.unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", tag, err)
	}
	if obj == nil {
		obj = make(map[string]any, 1)
	}
	obj["type"] = tag
	return obj, nil
}

// Decoder reads frames. It returns io.EOF once the stream ends cleanly
// between frames.
type Decoder struct {
	f      format
	frames frameReader
}

// ReadRequest reads the next request frame.
func (d *Decoder) ReadRequest() (Request, error) {
	id, tag, body, err := d.read()
	if err != nil {
		return Request{}, err
	}
	decode, ok := commandDecoders[tag]
	if !ok {
		return Request{ID: id}, &UnknownCommandError{Tag: tag}
	}
	cmd, err := decode(d.f, body)
	if err != nil {
		return Request{ID: id}, malformed(fmt.Sprintf("bad %s body", tag), err)
	}
	return Request{ID: id, Command: cmd}, nil
}

// ReadReply reads the next reply frame.
func (d *Decoder) ReadReply() (Reply, error) {
	id, tag, body, err := d.read()
	if err != nil {
		return Reply{}, err
	}
	decode, ok := resultDecoders[tag]
	if !ok {
		return Reply{ID: id}, &UnknownCommandError{Tag: tag}
	}
	res, err := decode(d.f, body)
	if err != nil {
		return Reply{ID: id}, malformed(fmt.Sprintf("bad %s body", tag), err)
	}
	return Reply{ID: id, Result: res}, nil
}

func (d *Decoder) read() (uint64, string, []byte, error) {
	parts, err := d.frames.next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, "", nil, io.EOF
		}
		return 0, "", nil, malformed("unreadable frame", err)
	}
	if len(parts) != 2 {
		return 0, "", nil, malformed(fmt.Sprintf("frame has %d elements, want 2", len(parts)), nil)
	}
	var id uint64
	if err := d.f.unmarshal(parts[0], &id); err != nil {
		return 0, "", nil, malformed("correlation id is not an unsigned integer", err)
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := d.f.unmarshal(parts[1], &head); err != nil {
		return id, "", nil, malformed("message is not an object", err)
	}
	if head.Type == "" {
		return id, "", nil, malformed("message has no type", nil)
	}
	return id, head.Type, parts[1], nil
}

func malformed(msg string, cause error) error {
	return cerrors.New(cerrors.ErrCodeMalformedFrame, msg, cause)
}

func decodeAs[T Command](f format, data []byte) (Command, error) {
	var v T
	if err := f.unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func decodeResultAs[T Result](f format, data []byte) (Result, error) {
	var v T
	if err := f.unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

var commandDecoders = map[string]func(format, []byte) (Command, error){
	TypeClassQuery:            decodeAs[ClassQuery],
	TypeMultiClassQuery:       decodeAs[MultiClassQuery],
	TypePackageQuery:          decodeAs[PackageQuery],
	TypeMultiPackageQuery:     decodeAs[MultiPackageQuery],
	TypeReindexPathCmd:        decodeAs[ReindexPathCmd],
	TypeReindexClasspathCmd:   decodeAs[ReindexClasspathCmd],
	TypeReindexProjectPathCmd: decodeAs[ReindexProjectPathCmd],
	TypeListIndexesQuery:      decodeAs[ListIndexesQuery],
	TypeDropIndexCmd:          decodeAs[DropIndexCmd],
	TypeShutdownCmd:           decodeAs[ShutdownCmd],
}

var resultDecoders = map[string]func(format, []byte) (Result, error){
	TypeNullResponse:         decodeResultAs[NullResponse],
	TypeClassQueryResponse:   decodeResultAs[ClassQueryResponse],
	TypePackageQueryResponse: decodeResultAs[PackageQueryResponse],
	TypeIndexListResponse:    decodeResultAs[IndexListResponse],
	TypeErrorResponse:        decodeResultAs[ErrorResponse],
}

type jsonFormat struct{}

func (jsonFormat) marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonFormat) unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (jsonFormat) newFrameReader(r io.Reader) frameReader {
	return jsonFrames{dec: json.NewDecoder(r)}
}

type jsonFrames struct {
	dec *json.Decoder
}

func (j jsonFrames) next() ([][]byte, error) {
	var parts []json.RawMessage
	if err := j.dec.Decode(&parts); err != nil {
		return nil, err
	}
	return rawParts(parts), nil
}

type cborFormat struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

func newCBORFormat() cborFormat {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor encode options: %v", err))
	}
	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("cbor decode options: %v", err))
	}
	return cborFormat{enc: enc, dec: dec}
}

func (c cborFormat) marshal(v any) ([]byte, error)      { return c.enc.Marshal(v) }
func (c cborFormat) unmarshal(data []byte, v any) error { return c.dec.Unmarshal(data, v) }

func (c cborFormat) newFrameReader(r io.Reader) frameReader {
	return cborFrames{dec: c.dec.NewDecoder(r)}
}

type cborFrames struct {
	dec *cbor.Decoder
}

func (c cborFrames) next() ([][]byte, error) {
	var parts []cbor.RawMessage
	if err := c.dec.Decode(&parts); err != nil {
		return nil, err
	}
	return rawParts(parts), nil
}

func rawParts[R ~[]byte](parts []R) [][]byte {
	out := make([][]byte, len(parts))
	for i, p := range parts {
		out[i] = []byte(p)
	}
	return out
}
