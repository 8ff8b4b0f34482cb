// Package schema implements schema validation as an external collaborator
// consulted as a boolean predicate before a publish is admitted — never a
// broker-owned concern. It also supplements a minimal registry (register/get
// by id) so callers have somewhere to keep a schema definition bound to a
// name.
package schema

import (
	"github.com/donlair/pubsub-sub001/pkg/errors"
	"github.com/hamba/avro/v2"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Encoding identifies the wire format a Definition validates.
type Encoding string

const (
	EncodingAvro     Encoding = "AVRO"
	EncodingProtobuf Encoding = "PROTOCOL_BUFFER"
)

// Definition is one schema body as registered by a caller: an AVRO schema
// string, or a compiled Protocol Buffer FileDescriptorSet plus the target
// message's fully-qualified name.
type Definition struct {
	Encoding Encoding

	// AvroSchema is the raw AVRO schema JSON, used when Encoding is
	// EncodingAvro.
	AvroSchema string

	// ProtoFileDescriptorSet and ProtoMessageName are used when Encoding is
	// EncodingProtobuf. A caller that registers a definition without a
	// compiled descriptor (the common case — most callers hold a .proto
	// source, not a FileDescriptorSet) gets errors.Unimplemented at
	// Validate time rather than a silent pass.
	ProtoFileDescriptorSet *descriptorpb.FileDescriptorSet
	ProtoMessageName       string
}

// Validate applies def against data, returning nil if data conforms.
func Validate(def Definition, data []byte) error {
	switch def.Encoding {
	case EncodingAvro:
		return validateAvro(def, data)
	case EncodingProtobuf:
		return validateProtobuf(def, data)
	default:
		return errors.InvalidArgument("unknown schema encoding: "+string(def.Encoding), nil)
	}
}

func validateAvro(def Definition, data []byte) error {
	sch, err := avro.Parse(def.AvroSchema)
	if err != nil {
		return errors.InvalidArgument("invalid AVRO schema", err)
	}
	var v any
	if err := avro.Unmarshal(sch, data, &v); err != nil {
		return errors.InvalidArgument("message does not conform to AVRO schema", err)
	}
	return nil
}

func validateProtobuf(def Definition, data []byte) error {
	if def.ProtoFileDescriptorSet == nil || def.ProtoMessageName == "" {
		return errors.Unimplemented(
			"Protocol Buffer schema validation requires a compiled FileDescriptorSet; "+
				"register one via protoc --descriptor_set_out, or validate upstream of this broker",
			nil,
		)
	}

	files, err := protodesc.NewFiles(def.ProtoFileDescriptorSet)
	if err != nil {
		return errors.InvalidArgument("invalid Protocol Buffer descriptor set", err)
	}

	desc, err := files.FindDescriptorByName(protoreflect.FullName(def.ProtoMessageName))
	if err != nil {
		return errors.InvalidArgument("message type not found in descriptor set: "+def.ProtoMessageName, err)
	}
	msgDesc, ok := desc.(protoreflect.MessageDescriptor)
	if !ok {
		return errors.InvalidArgument(def.ProtoMessageName+" is not a message type", nil)
	}

	msg := dynamicpb.NewMessage(msgDesc)
	if err := proto.Unmarshal(data, msg); err != nil {
		return errors.InvalidArgument("message does not conform to Protocol Buffer schema", err)
	}
	return nil
}
