// Package serialization encodes project files and slot values
// PRINCIPLES:
// - KISS: one framed format, codec and compression recorded in the header
// - DRY: shared by the file store and every database store
// - SOLID: codecs are swappable behind a small interface
package serialization

import (
	"bytes"
	"compress/gzip"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// Magic starts every framed payload.
var Magic = []byte("ILPROJ")

// FormatVersion is the frame layout version.
const FormatVersion byte = 1

const headerSize = 10 // magic(6) version codec compression flags

const flagEncrypted byte = 1

// Domain errors
var (
	ErrBadMagic           = errors.New("not a project payload: bad magic")
	ErrTruncated          = errors.New("payload truncated")
	ErrUnsupportedVersion = errors.New("unsupported format version")
	ErrUnknownCodec       = errors.New("unknown codec")
	ErrUnknownCompression = errors.New("unknown compression")
	ErrKeyRequired        = errors.New("payload is encrypted but no key was configured")
	ErrInvalidKey         = errors.New("encryption key must be 16, 24 or 32 bytes")
)

// Codec interface for value encoding
// PRINCIPLES:
// - ISP: Simple interface with ≤5 methods
// - SRP: Single responsibility for encoding
type Codec interface {
	Encode(v interface{}) ([]byte, error)
	Decode(data []byte, v interface{}) error
	Name() string
	ID() byte
}

// CompressionType represents compression algorithms
type CompressionType string

const (
	CompressionNone CompressionType = "none"
	CompressionGzip CompressionType = "gzip"
	CompressionZstd CompressionType = "zstd"
)

var compressionIDs = map[CompressionType]byte{CompressionNone: 0, CompressionGzip: 1, CompressionZstd: 2}

// Options holds serialization settings
type Options struct {
	Codec       Codec
	Compression CompressionType
	Key         []byte // AES key, enables AES-GCM when set
}

// Serializer writes and reads framed payloads
type Serializer struct {
	opts Options
}

// New creates a serializer. A nil codec means msgpack.
func New(opts Options) (*Serializer, error) {
	if opts.Codec == nil {
		opts.Codec = NewMsgPackCodec()
	}
	if opts.Compression == "" {
		opts.Compression = CompressionNone
	}
	if _, ok := compressionIDs[opts.Compression]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCompression, opts.Compression)
	}
	switch len(opts.Key) {
	case 0, 16, 24, 32:
	default:
		return nil, ErrInvalidKey
	}
	return &Serializer{opts: opts}, nil
}

// Default uses msgpack and zstd, the project file defaults.
func Default() *Serializer {
	return &Serializer{opts: Options{Codec: NewMsgPackCodec(), Compression: CompressionZstd}}
}

// Options returns the configured settings.
func (s *Serializer) Options() Options { return s.opts }

// Marshal encodes v, compresses, optionally encrypts and prepends the header.
func (s *Serializer) Marshal(v interface{}) ([]byte, error) {
	data, err := s.opts.Codec.Encode(v)
	if err != nil {
		return nil, fmt.Errorf("codec encoding failed: %w", err)
	}
	data, err = compress(s.opts.Compression, data)
	if err != nil {
		return nil, fmt.Errorf("compression failed: %w", err)
	}
	var flags byte
	if len(s.opts.Key) > 0 {
		if data, err = encrypt(s.opts.Key, data); err != nil {
			return nil, fmt.Errorf("encryption failed: %w", err)
		}
		flags |= flagEncrypted
	}

	out := make([]byte, 0, headerSize+len(data))
	out = append(out, Magic...)
	out = append(out, FormatVersion, s.opts.Codec.ID(), compressionIDs[s.opts.Compression], flags)
	return append(out, data...), nil
}

// Unmarshal reads a framed payload. Codec and compression come from the
// header, so any serializer can read what another one wrote.
func (s *Serializer) Unmarshal(data []byte, v interface{}) error {
	h, body, err := ReadHeader(data)
	if err != nil {
		return err
	}
	codec, err := codecByID(h.Codec)
	if err != nil {
		return err
	}
	if h.Encrypted {
		if len(s.opts.Key) == 0 {
			return ErrKeyRequired
		}
		if body, err = decrypt(s.opts.Key, body); err != nil {
			return fmt.Errorf("decryption failed: %w", err)
		}
	}
	if body, err = decompress(h.Compression, body); err != nil {
		return fmt.Errorf("decompression failed: %w", err)
	}
	if err := codec.Decode(body, v); err != nil {
		return fmt.Errorf("codec decoding failed: %w", err)
	}
	return nil
}

// WriteFile marshals v into path through a temporary file and a rename.
func (s *Serializer) WriteFile(path string, v interface{}) error {
	data, err := s.Marshal(v)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ReadFile unmarshals the file at path into v.
func (s *Serializer) ReadFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := s.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// Header describes a framed payload.
type Header struct {
	Version     byte
	Codec       byte
	Compression CompressionType
	Encrypted   bool
}

// ReadHeader parses the frame header and returns the remaining body.
func ReadHeader(data []byte) (Header, []byte, error) {
	if len(data) < headerSize {
		if len(data) >= len(Magic) && !bytes.Equal(data[:len(Magic)], Magic) {
			return Header{}, nil, ErrBadMagic
		}
		return Header{}, nil, ErrTruncated
	}
	if !bytes.Equal(data[:len(Magic)], Magic) {
		return Header{}, nil, ErrBadMagic
	}
	h := Header{Version: data[6], Codec: data[7], Encrypted: data[9]&flagEncrypted != 0}
	if h.Version != FormatVersion {
		return Header{}, nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	found := false
	for c, id := range compressionIDs {
		if id == data[8] {
			h.Compression, found = c, true
		}
	}
	if !found {
		return Header{}, nil, fmt.Errorf("%w: id %d", ErrUnknownCompression, data[8])
	}
	return h, data[headerSize:], nil
}

// IsFramed reports whether data starts with the frame magic.
func IsFramed(data []byte) bool {
	return len(data) >= len(Magic) && bytes.Equal(data[:len(Magic)], Magic)
}

func compress(c CompressionType, data []byte) ([]byte, error) {
	switch c {
	case CompressionGzip:
		var buf bytes.Buffer
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionZstd:
		enc, err := zstdEncoder()
		if err != nil {
			return nil, err
		}
		return enc.EncodeAll(data, nil), nil
	default:
		return data, nil
	}
}

func decompress(c CompressionType, data []byte) ([]byte, error) {
	switch c {
	case CompressionGzip:
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case CompressionZstd:
		dec, err := zstdDecoder()
		if err != nil {
			return nil, err
		}
		return dec.DecodeAll(data, nil)
	default:
		return data, nil
	}
}

// zstd encoders and decoders are safe for concurrent EncodeAll/DecodeAll.
var (
	zstdOnce sync.Once
	zstdEnc  *zstd.Encoder
	zstdDec  *zstd.Decoder
	zstdErr  error
)

func initZstd() {
	zstdOnce.Do(func() {
		zstdEnc, zstdErr = zstd.NewWriter(nil)
		if zstdErr != nil {
			return
		}
		zstdDec, zstdErr = zstd.NewReader(nil)
	})
}

func zstdEncoder() (*zstd.Encoder, error) {
	initZstd()
	return zstdEnc, zstdErr
}

func zstdDecoder() (*zstd.Decoder, error) {
	initZstd()
	return zstdDec, zstdErr
}

func encrypt(key, data []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, data, nil), nil
}

func decrypt(key, data []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	n := gcm.NonceSize()
	if len(data) < n {
		return nil, ErrTruncated
	}
	return gcm.Open(nil, data[:n], data[n:], nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// JSONCodec implements JSON serialization
type JSONCodec struct{}

func (c *JSONCodec) Encode(v interface{}) ([]byte, error)    { return json.Marshal(v) }
func (c *JSONCodec) Decode(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (c *JSONCodec) Name() string                            { return "json" }
func (c *JSONCodec) ID() byte                                { return 1 }

// MsgPackCodec implements MessagePack serialization
type MsgPackCodec struct{}

func (c *MsgPackCodec) Encode(v interface{}) ([]byte, error)    { return msgpack.Marshal(v) }
func (c *MsgPackCodec) Decode(data []byte, v interface{}) error { return msgpack.Unmarshal(data, v) }
func (c *MsgPackCodec) Name() string                            { return "msgpack" }
func (c *MsgPackCodec) ID() byte                                { return 2 }

// NewJSONCodec creates a new JSON codec
func NewJSONCodec() Codec { return &JSONCodec{} }

// NewMsgPackCodec creates a new MessagePack codec
func NewMsgPackCodec() Codec { return &MsgPackCodec{} }

func codecByID(id byte) (Codec, error) {
	switch id {
	case 1:
		return NewJSONCodec(), nil
	case 2:
		return NewMsgPackCodec(), nil
	}
	return nil, fmt.Errorf("%w: id %d", ErrUnknownCodec, id)
}

// ParseCompression maps a config string to a CompressionType.
func ParseCompression(s string) (CompressionType, error) {
	c := CompressionType(s)
	if _, ok := compressionIDs[c]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCompression, s)
	}
	return c, nil
}
