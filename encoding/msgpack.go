// Package encoding provides centralized serialization for lwt. Stored
// partitions, Paxos state, replica RPC payloads and commit feed events all go
// through this package so every component agrees on the wire format.
//
// Thread Safety: Marshal and Unmarshal are safe for concurrent use.
package encoding

import (
	"bytes"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

var encoderPool = sync.Pool{
	New: func() interface{} {
		buf := new(bytes.Buffer)
		enc := msgpack.NewEncoder(buf)
		return &pooledEncoder{buf: buf, enc: enc}
	},
}

type pooledEncoder struct {
	buf *bytes.Buffer
	enc *msgpack.Encoder
}

// Marshal encodes a value to msgpack format.
func Marshal(v interface{}) ([]byte, error) {
	pe := encoderPool.Get().(*pooledEncoder)
	defer encoderPool.Put(pe)

	pe.buf.Reset()
	pe.enc.Reset(pe.buf)
	if err := pe.enc.Encode(v); err != nil {
		return nil, err
	}

	out := make([]byte, pe.buf.Len())
	copy(out, pe.buf.Bytes())
	return out, nil
}

// Unmarshal decodes msgpack data into v.
func Unmarshal(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	return dec.Decode(v)
}
