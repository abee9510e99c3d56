package artifact

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// ErrBadArtifact is returned for input that is not a decodable artifact.
var ErrBadArtifact = errors.New("malformed artifact")

// Magic is the first line of the text form.
const Magic = "TERN"

// bytesPerLine is the width of the text form body.
const bytesPerLine = 32

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("artifact: failed to create CBOR enc mode: %v", err))
	}
	encMode = em
}

// Marshal serializes f to canonical CBOR. Equal files encode to equal
// bytes.
func Marshal(f *File) ([]byte, error) {
	return encMode.Marshal(f)
}

// Unmarshal deserializes a file from CBOR bytes.
func Unmarshal(data []byte) (*File, error) {
	var f File
	if err := cbor.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadArtifact, err)
	}
	if f.Header.Version != Version {
		return nil, fmt.Errorf("%w: version %d, want %d", ErrBadArtifact, f.Header.Version, Version)
	}
	return &f, nil
}

// Hash returns the content address of f: the SHA-256 of its canonical
// encoding.
func Hash(f *File) ([32]byte, error) {
	data, err := Marshal(f)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(data), nil
}

// HashString returns the hex form of Hash.
func HashString(f *File) (string, error) {
	h, err := Hash(f)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(h[:]), nil
}

// EncodeText renders f in the on-disk text form: a magic line with the
// version, then the CBOR bytes as lowercase hex pairs.
func EncodeText(f *File) ([]byte, error) {
	data, err := Marshal(f)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s %d\n", Magic, Version)
	for len(data) > 0 {
		n := min(bytesPerLine, len(data))
		buf.WriteString(hex.EncodeToString(data[:n]))
		buf.WriteByte('\n')
		data = data[n:]
	}
	return buf.Bytes(), nil
}

// DecodeText parses the text form. Blank lines and lines starting with
// ';' are ignored; whitespace between hex pairs is allowed.
func DecodeText(text []byte) (*File, error) {
	sc := bufio.NewScanner(bytes.NewReader(text))
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	var body strings.Builder
	sawMagic := false
	line := 0
	for sc.Scan() {
		line++
		s := strings.TrimSpace(sc.Text())
		if s == "" || strings.HasPrefix(s, ";") {
			continue
		}
		if !sawMagic {
			var version int
			if _, err := fmt.Sscanf(s, Magic+" %d", &version); err != nil {
				return nil, fmt.Errorf("%w: line %d: missing %s header", ErrBadArtifact, line, Magic)
			}
			if version != Version {
				return nil, fmt.Errorf("%w: text version %d, want %d", ErrBadArtifact, version, Version)
			}
			sawMagic = true
			continue
		}
		body.WriteString(strings.Join(strings.Fields(s), ""))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if !sawMagic {
		return nil, fmt.Errorf("%w: empty input", ErrBadArtifact)
	}
	data, err := hex.DecodeString(body.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadArtifact, err)
	}
	return Unmarshal(data)
}

// Decode accepts either the text form or raw CBOR.
func Decode(data []byte) (*File, error) {
	if bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), []byte(Magic)) || bytes.HasPrefix(bytes.TrimLeft(data, " \t\r\n"), []byte(";")) {
		return DecodeText(data)
	}
	return Unmarshal(data)
}

// ---------------------------------------------------------------------------
// Instruction units
// ---------------------------------------------------------------------------

// PackCode serializes instruction units little-endian.
func PackCode(code []uint16) []byte {
	out := make([]byte, 2*len(code))
	for i, u := range code {
		out[2*i] = byte(u)
		out[2*i+1] = byte(u >> 8)
	}
	return out
}

// UnpackCode decodes little-endian instruction units.
func UnpackCode(data []byte) ([]uint16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: code has odd length %d", ErrBadArtifact, len(data))
	}
	out := make([]uint16, len(data)/2)
	for i := range out {
		out[i] = uint16(data[2*i]) | uint16(data[2*i+1])<<8
	}
	return out, nil
}
