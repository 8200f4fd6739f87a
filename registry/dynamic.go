package registry

import (
	"fmt"

	"github.com/pilacorp/go-substrate-did-sdk/scale"
)

// DynamicEncoder appends values encoded by registry key. A failed Encode
// leaves the output unchanged.
type DynamicEncoder struct {
	session *Session
	enc     *scale.Encoder
}

func NewDynamicEncoder(c *Catalog, version uint32) *DynamicEncoder {
	return &DynamicEncoder{
		session: NewSession(c, version),
		enc:     scale.NewEncoder(),
	}
}

func (e *DynamicEncoder) Session() *Session {
	return e.session
}

// Encode appends v encoded as typeName.
func (e *DynamicEncoder) Encode(v Value, typeName string) error {
	node, err := e.session.Resolve(typeName)
	if err != nil {
		return err
	}

	tmp := scale.NewEncoder()
	if err := node.Encode(e.session, tmp, v); err != nil {
		return fmt.Errorf("failed to encode %s: %w", typeName, err)
	}

	e.enc.Write(tmp.Bytes())

	return nil
}

// Append writes already encoded bytes.
func (e *DynamicEncoder) Append(b []byte) {
	e.enc.Write(b)
}

// Bytes returns a copy of everything encoded so far.
func (e *DynamicEncoder) Bytes() []byte {
	out := make([]byte, e.enc.Len())
	copy(out, e.enc.Bytes())

	return out
}

func (e *DynamicEncoder) Reset() {
	e.enc.Reset()
}

// DynamicDecoder reads values by registry key from a byte slice.
type DynamicDecoder struct {
	session *Session
	dec     *scale.Decoder
}

func NewDynamicDecoder(data []byte, c *Catalog, version uint32) *DynamicDecoder {
	return &DynamicDecoder{
		session: NewSession(c, version),
		dec:     scale.NewDecoder(data),
	}
}

// Decode reads one value of typeName.
func (d *DynamicDecoder) Decode(typeName string) (Value, error) {
	node, err := d.session.Resolve(typeName)
	if err != nil {
		return Value{}, err
	}

	v, err := node.Decode(d.session, d.dec)
	if err != nil {
		return Value{}, fmt.Errorf("failed to decode %s: %w", typeName, err)
	}

	return v, nil
}

func (d *DynamicDecoder) Remaining() int {
	return d.dec.Remaining()
}
