package schema_test

import (
	"testing"

	"github.com/donlair/pubsub-sub001/pkg/errors"
	"github.com/donlair/pubsub-sub001/pkg/pubsub/schema"
	"github.com/hamba/avro/v2"
	"github.com/stretchr/testify/require"
)

const userSchema = `{"type":"record","name":"User","fields":[{"name":"name","type":"string"},{"name":"age","type":"int"}]}`

func TestValidateAvroAcceptsConformingMessage(t *testing.T) {
	sch, err := avro.Parse(userSchema)
	require.NoError(t, err)

	data, err := avro.Marshal(sch, map[string]any{"name": "ada", "age": 30})
	require.NoError(t, err)

	err = schema.Validate(schema.Definition{Encoding: schema.EncodingAvro, AvroSchema: userSchema}, data)
	require.NoError(t, err)
}

func TestValidateAvroRejectsGarbage(t *testing.T) {
	err := schema.Validate(schema.Definition{Encoding: schema.EncodingAvro, AvroSchema: userSchema}, []byte("not avro"))
	require.Error(t, err)
}

func TestValidateProtobufWithoutDescriptorIsUnimplemented(t *testing.T) {
	err := schema.Validate(schema.Definition{Encoding: schema.EncodingProtobuf, ProtoMessageName: "pkg.Msg"}, []byte("x"))
	require.Error(t, err)

	var appErr *errors.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, errors.CodeUnimplemented, appErr.Code)
}

func TestValidateUnknownEncodingIsInvalidArgument(t *testing.T) {
	err := schema.Validate(schema.Definition{Encoding: "XML"}, []byte("x"))
	require.Error(t, err)
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := schema.NewRegistry()
	r.Register("user-schema", schema.Definition{Encoding: schema.EncodingAvro, AvroSchema: userSchema})

	e, ok := r.Get("user-schema")
	require.True(t, ok)
	require.Equal(t, "user-schema", e.ID)

	_, ok = r.Get("missing")
	require.False(t, ok)

	r.Delete("user-schema")
	_, ok = r.Get("user-schema")
	require.False(t, ok)
}
