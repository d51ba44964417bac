package wire

import (
	"github.com/gogo/protobuf/proto"
)

// frameMessage is the protobuf form of a Frame, see frame.proto
type frameMessage struct {
	Kind      *uint64  `protobuf:"varint,1,opt,name=kind" json:"kind,omitempty"`
	MessageId []byte   `protobuf:"bytes,2,opt,name=message_id,json=messageId" json:"message_id,omitempty"`
	Length    *uint64  `protobuf:"varint,3,opt,name=length" json:"length,omitempty"`
	ChunkSize *uint64  `protobuf:"varint,4,opt,name=chunk_size,json=chunkSize" json:"chunk_size,omitempty"`
	Checksum  *uint64  `protobuf:"fixed64,5,opt,name=checksum" json:"checksum,omitempty"`
	Degree    *uint64  `protobuf:"varint,6,opt,name=degree" json:"degree,omitempty"`
	Indices   []uint64 `protobuf:"varint,7,rep,packed,name=indices" json:"indices,omitempty"`
	Seed      *uint64  `protobuf:"varint,8,opt,name=seed" json:"seed,omitempty"`
	Payload   []byte   `protobuf:"bytes,9,opt,name=payload" json:"payload,omitempty"`
}

func (m *frameMessage) Reset()         { *m = frameMessage{} }
func (m *frameMessage) String() string { return proto.CompactTextString(m) }
func (*frameMessage) ProtoMessage()    {}

func (m *frameMessage) GetKind() uint64 {
	if m != nil && m.Kind != nil {
		return *m.Kind
	}
	return 0
}

func (m *frameMessage) GetLength() uint64 {
	if m != nil && m.Length != nil {
		return *m.Length
	}
	return 0
}

func (m *frameMessage) GetChunkSize() uint64 {
	if m != nil && m.ChunkSize != nil {
		return *m.ChunkSize
	}
	return 0
}

func (m *frameMessage) GetChecksum() uint64 {
	if m != nil && m.Checksum != nil {
		return *m.Checksum
	}
	return 0
}

func (m *frameMessage) GetDegree() uint64 {
	if m != nil && m.Degree != nil {
		return *m.Degree
	}
	return 0
}

func (m *frameMessage) GetSeed() uint64 {
	if m != nil && m.Seed != nil {
		return *m.Seed
	}
	return 0
}
