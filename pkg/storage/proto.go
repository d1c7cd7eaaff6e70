package storage

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/protobuf/proto"
)

// NewProtoKV stores protobuf messages in kv using their wire encoding.
func NewProtoKV[T proto.Message](logger *slog.Logger, kv KV) KeyValue[T] {
	return &protoKV[T]{logger: logger, kv: kv}
}

type protoKV[T proto.Message] struct {
	logger *slog.Logger
	kv     KV
}

func (p *protoKV[T]) Put(ctx context.Context, key string, msg T) error {
	data, err := proto.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	return p.kv.Put(ctx, key, data)
}

// Get passes ErrNotFound through unwrapped.
func (p *protoKV[T]) Get(ctx context.Context, key string) (T, error) {
	raw, err := p.kv.Get(ctx, key)
	if err != nil {
		var zero T
		return zero, err
	}
	msg, err := decode[T](raw)
	if err != nil {
		p.logger.With("err", err, "key", key, "type", fmt.Sprintf("%T", msg)).Warn("undecodable record")
		return msg, fmt.Errorf("decoding %s: %w", key, err)
	}
	return msg, nil
}

func (p *protoKV[T]) Delete(ctx context.Context, key string) error {
	return p.kv.Delete(ctx, key)
}

func decode[T proto.Message](raw []byte) (T, error) {
	msg := NewMessage[T]()
	return msg, proto.Unmarshal(raw, msg)
}

// NewMessage allocates an empty message of type T.
func NewMessage[T proto.Message]() T {
	var t T
	return t.ProtoReflect().New().Interface().(T)
}
