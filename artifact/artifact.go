// Package artifact implements the Tern bytecode artifact: a header and a
// body of methods, encoded as canonical CBOR and carried on disk as two hex
// digits per byte. Instruction streams inside a method are little-endian
// 16-bit units.
package artifact

// Version is the artifact format version written by this package.
const Version = 1

// File is a complete artifact.
type File struct {
	Header Header `cbor:"1,keyasint"`
	Body   Body   `cbor:"2,keyasint"`
}

// Header describes the program without carrying code.
type Header struct {
	Version      uint8    `cbor:"1,keyasint"`
	Name         string   `cbor:"2,keyasint"`
	Entry        string   `cbor:"3,keyasint,omitempty"`
	Capabilities []string `cbor:"4,keyasint,omitempty"` // builtin modules the program needs
}

// Body carries the program's classes and global methods.
type Body struct {
	Classes []Class  `cbor:"1,keyasint,omitempty"`
	Methods []Method `cbor:"2,keyasint"`
}

// Class declares a user class.
type Class struct {
	Name    string   `cbor:"1,keyasint"`
	Fields  []string `cbor:"2,keyasint,omitempty"`
	Methods []Method `cbor:"3,keyasint,omitempty"`
}

// Method is one callable. A method without code is an extern stub.
type Method struct {
	Name    string     `cbor:"1,keyasint"`
	Params  []string   `cbor:"2,keyasint,omitempty"` // type names
	Returns []string   `cbor:"3,keyasint,omitempty"`
	Tags    []string   `cbor:"4,keyasint,omitempty"`
	Locals  int        `cbor:"5,keyasint,omitempty"`
	Code    []byte     `cbor:"6,keyasint,omitempty"` // little-endian units
	Consts  []Constant `cbor:"7,keyasint,omitempty"`
	Calls   []Site     `cbor:"8,keyasint,omitempty"`
	Lines   []int      `cbor:"9,keyasint,omitempty"`
}

// Constant is a constant pool entry.
type Constant struct {
	Kind string `cbor:"1,keyasint"`
	Bits uint64 `cbor:"2,keyasint,omitempty"`
	Text string `cbor:"3,keyasint,omitempty"`
}

// Site is a call site.
type Site struct {
	Name   string   `cbor:"1,keyasint"`
	Params []string `cbor:"2,keyasint,omitempty"`
}

// IsExtern reports whether m declares a stub.
func (m *Method) IsExtern() bool {
	return len(m.Code) == 0
}
