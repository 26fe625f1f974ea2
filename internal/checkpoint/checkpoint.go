// Package checkpoint stores named float64 tensors as protobuf messages. The
// schema lives in checkpoint.proto and is built into a descriptor at init,
// so messages are encoded through dynamicpb without generated code.
//
// Files are replaced atomically so a crash never leaves a torn checkpoint.
package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Field numbers, kept in sync with checkpoint.proto.
const (
	fieldTensors = 1

	fieldName  = 1
	fieldShape = 2
	fieldData  = 3
)

var (
	checkpointDesc protoreflect.MessageDescriptor
	tensorDesc     protoreflect.MessageDescriptor

	tensorsField protoreflect.FieldDescriptor
	nameField    protoreflect.FieldDescriptor
	shapeField   protoreflect.FieldDescriptor
	dataField    protoreflect.FieldDescriptor
)

func init() {
	fd, err := protodesc.NewFile(schema(), nil)
	if err != nil {
		panic(fmt.Sprintf("checkpoint schema: %v", err))
	}
	checkpointDesc = fd.Messages().ByName("Checkpoint")
	tensorDesc = fd.Messages().ByName("Tensor")

	tensorsField = checkpointDesc.Fields().ByNumber(fieldTensors)
	nameField = tensorDesc.Fields().ByNumber(fieldName)
	shapeField = tensorDesc.Fields().ByNumber(fieldShape)
	dataField = tensorDesc.Fields().ByNumber(fieldData)
}

// schema mirrors checkpoint.proto.
func schema() *descriptorpb.FileDescriptorProto {
	field := func(name string, num int32, label descriptorpb.FieldDescriptorProto_Label, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
		return &descriptorpb.FieldDescriptorProto{
			Name:     proto.String(name),
			JsonName: proto.String(name),
			Number:   proto.Int32(num),
			Label:    label.Enum(),
			Type:     typ.Enum(),
		}
	}
	tensors := field("tensors", fieldTensors, descriptorpb.FieldDescriptorProto_LABEL_REPEATED, descriptorpb.FieldDescriptorProto_TYPE_MESSAGE)
	tensors.TypeName = proto.String(".drp.checkpoint.Tensor")

	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String("drp/checkpoint.proto"),
		Package: proto.String("drp.checkpoint"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("Tensor"),
				Field: []*descriptorpb.FieldDescriptorProto{
					field("name", fieldName, descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL, descriptorpb.FieldDescriptorProto_TYPE_STRING),
					field("shape", fieldShape, descriptorpb.FieldDescriptorProto_LABEL_REPEATED, descriptorpb.FieldDescriptorProto_TYPE_INT64),
					field("data", fieldData, descriptorpb.FieldDescriptorProto_LABEL_REPEATED, descriptorpb.FieldDescriptorProto_TYPE_DOUBLE),
				},
			},
			{
				Name:  proto.String("Checkpoint"),
				Field: []*descriptorpb.FieldDescriptorProto{tensors},
			},
		},
	}
}

// Tensor is one named parameter value.
type Tensor struct {
	Name  string
	Shape []int
	Data  []float64
}

// Size returns the number of elements the shape describes.
func (t Tensor) Size() int {
	size := 1
	for _, d := range t.Shape {
		size *= d
	}
	return size
}

// Marshal encodes the tensors as a Checkpoint message.
func Marshal(tensors []Tensor) ([]byte, error) {
	msg := dynamicpb.NewMessage(checkpointDesc)
	list := msg.Mutable(tensorsField).List()
	for _, t := range tensors {
		tm := dynamicpb.NewMessage(tensorDesc)
		tm.Set(nameField, protoreflect.ValueOfString(t.Name))
		shape := tm.Mutable(shapeField).List()
		for _, d := range t.Shape {
			shape.Append(protoreflect.ValueOfInt64(int64(d)))
		}
		data := tm.Mutable(dataField).List()
		for _, v := range t.Data {
			data.Append(protoreflect.ValueOfFloat64(v))
		}
		list.Append(protoreflect.ValueOfMessage(tm))
	}
	return proto.MarshalOptions{Deterministic: true}.Marshal(msg)
}

// Unmarshal decodes a Checkpoint message. Unknown fields are skipped.
func Unmarshal(b []byte) ([]Tensor, error) {
	msg := dynamicpb.NewMessage(checkpointDesc)
	if err := proto.Unmarshal(b, msg); err != nil {
		return nil, err
	}

	list := msg.Get(tensorsField).List()
	tensors := make([]Tensor, 0, list.Len())
	for i := 0; i < list.Len(); i++ {
		t, err := tensorFrom(list.Get(i).Message())
		if err != nil {
			return nil, fmt.Errorf("tensor %d: %w", i, err)
		}
		tensors = append(tensors, t)
	}
	return tensors, nil
}

func tensorFrom(m protoreflect.Message) (Tensor, error) {
	t := Tensor{Name: m.Get(nameField).String()}
	shape := m.Get(shapeField).List()
	for i := 0; i < shape.Len(); i++ {
		t.Shape = append(t.Shape, int(shape.Get(i).Int()))
	}
	data := m.Get(dataField).List()
	t.Data = make([]float64, data.Len())
	for i := range t.Data {
		t.Data[i] = data.Get(i).Float()
	}

	if t.Name == "" {
		return t, errors.New("missing tensor name")
	}
	if t.Size() != len(t.Data) {
		return t, fmt.Errorf("%s: shape %v holds %d values, got %d", t.Name, t.Shape, t.Size(), len(t.Data))
	}
	return t, nil
}

// WriteFile writes the tensors to path, creating parent directories. The
// file is written to a temporary sibling and renamed into place.
func WriteFile(path string, tensors []Tensor) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temporary checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	b, err := Marshal(tensors)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}

// ReadFile reads the tensors stored at path.
func ReadFile(path string) ([]Tensor, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	tensors, err := Unmarshal(b)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return tensors, nil
}
