package grpc

import (
	"github.com/maxpert/lwt/encoding"
	grpcencoding "google.golang.org/grpc/encoding"
)

// codecName is the content subtype of replica RPCs: application/grpc+msgpack
const codecName = "msgpack"

// msgpackCodec carries paxos messages in the same msgpack form the replica
// store persists them in
type msgpackCodec struct{}

func init() {
	grpcencoding.RegisterCodec(msgpackCodec{})
}

func (msgpackCodec) Marshal(v any) ([]byte, error) {
	return encoding.Marshal(v)
}

func (msgpackCodec) Unmarshal(data []byte, v any) error {
	return encoding.Unmarshal(data, v)
}

func (msgpackCodec) Name() string {
	return codecName
}
