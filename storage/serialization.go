// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"fmt"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/docrag/core"
)

// serializer is the method set shared by the mus-go serializers used here.
type serializer[T any] interface {
	Marshal(v T, bs []byte) (n int)
	Unmarshal(bs []byte) (v T, n int, err error)
	Size(v T) (size int)
}

func put[T any](bs []byte, ser serializer[T], v T) []byte {
	start := len(bs)
	bs = append(bs, make([]byte, ser.Size(v))...)
	ser.Marshal(v, bs[start:])
	return bs
}

func putInt(bs []byte, v int) []byte {
	return put(bs, serializer[int64](varint.Int64), int64(v))
}

// Timestamps are stored as Unix microseconds. The zero time is stored as 0.
func putTime(bs []byte, t time.Time) []byte {
	var micros int64
	if !t.IsZero() {
		micros = t.UnixMicro()
	}
	return put(bs, serializer[int64](varint.Int64), micros)
}

func putStrings(bs []byte, values []string) []byte {
	bs = putInt(bs, len(values))
	for _, v := range values {
		bs = put(bs, serializer[string](ord.String), v)
	}
	return bs
}

func putVector(bs []byte, vector []float32) []byte {
	bs = putInt(bs, len(vector))
	for _, v := range vector {
		bs = put(bs, serializer[float32](raw.Float32), v)
	}
	return bs
}

// reader walks a buffer, remembering the first error.
type reader struct {
	bs  []byte
	n   int
	err error
}

func get[T any](r *reader, ser serializer[T]) T {
	var zero T
	if r.err != nil {
		return zero
	}
	v, n, err := ser.Unmarshal(r.bs[r.n:])
	if err != nil {
		r.err = fmt.Errorf("%w: %w", ErrSerializationFailed, err)
		return zero
	}
	r.n += n
	return v
}

func (r *reader) string() string {
	return get(r, serializer[string](ord.String))
}

func (r *reader) int() int {
	return int(get(r, serializer[int64](varint.Int64)))
}

func (r *reader) time() time.Time {
	micros := get(r, serializer[int64](varint.Int64))
	if micros == 0 {
		return time.Time{}
	}
	return time.UnixMicro(micros).UTC()
}

// length reads a collection length and rejects values the buffer cannot hold.
func (r *reader) length(minElemSize int) int {
	n := r.int()
	if r.err != nil {
		return 0
	}
	if n < 0 || n*minElemSize > len(r.bs)-r.n {
		r.err = ErrTruncatedData
		return 0
	}
	return n
}

func (r *reader) strings() []string {
	n := r.length(1)
	if n == 0 {
		return nil
	}
	values := make([]string, n)
	for i := range values {
		values[i] = r.string()
	}
	return values
}

func (r *reader) vector() []float32 {
	n := r.length(4)
	if n == 0 {
		return nil
	}
	vector := make([]float32, n)
	for i := range vector {
		vector[i] = get(r, serializer[float32](raw.Float32))
	}
	return vector
}

// MarshalID serializes an ID to bytes.
func MarshalID(id core.ID) []byte {
	return put(nil, serializer[uint64](varint.Uint64), uint64(id))
}

// UnmarshalID deserializes an ID from bytes.
func UnmarshalID(data []byte) (core.ID, error) {
	r := &reader{bs: data}
	id := get(r, serializer[uint64](varint.Uint64))
	return core.ID(id), r.err
}

// MarshalDocument serializes a Document to bytes.
func MarshalDocument(doc *core.Document) []byte {
	bs := make([]byte, 0, 128)
	bs = put(bs, serializer[string](ord.String), doc.Id)
	bs = put(bs, serializer[string](ord.String), doc.UserId)
	bs = put(bs, serializer[string](ord.String), doc.Filename)
	bs = put(bs, serializer[string](ord.String), doc.BlobKey)
	bs = put(bs, serializer[string](ord.String), doc.ContentType)
	bs = put(bs, serializer[int64](varint.Int64), doc.FileSize)
	bs = putInt(bs, int(doc.Status))
	bs = putInt(bs, doc.ChunkCount)
	bs = putTime(bs, doc.CreatedAt)
	bs = putTime(bs, doc.UpdatedAt)
	return putTime(bs, doc.ProcessedAt)
}

// UnmarshalDocument deserializes a Document from bytes.
func UnmarshalDocument(data []byte) (*core.Document, error) {
	r := &reader{bs: data}
	doc := &core.Document{
		Id:          r.string(),
		UserId:      r.string(),
		Filename:    r.string(),
		BlobKey:     r.string(),
		ContentType: r.string(),
		FileSize:    get(r, serializer[int64](varint.Int64)),
		Status:      core.DocumentStatus(r.int()),
		ChunkCount:  r.int(),
		CreatedAt:   r.time(),
		UpdatedAt:   r.time(),
		ProcessedAt: r.time(),
	}
	if r.err != nil {
		return nil, r.err
	}
	return doc, nil
}

// MarshalChat serializes a Chat to bytes.
func MarshalChat(chat *core.Chat) []byte {
	bs := make([]byte, 0, 96)
	bs = put(bs, serializer[string](ord.String), chat.Id)
	bs = put(bs, serializer[string](ord.String), chat.DocumentId)
	bs = put(bs, serializer[string](ord.String), chat.UserId)
	bs = put(bs, serializer[string](ord.String), chat.Title)
	bs = putTime(bs, chat.CreatedAt)
	return putTime(bs, chat.UpdatedAt)
}

// UnmarshalChat deserializes a Chat from bytes.
func UnmarshalChat(data []byte) (*core.Chat, error) {
	r := &reader{bs: data}
	chat := &core.Chat{
		Id:         r.string(),
		DocumentId: r.string(),
		UserId:     r.string(),
		Title:      r.string(),
		CreatedAt:  r.time(),
		UpdatedAt:  r.time(),
	}
	if r.err != nil {
		return nil, r.err
	}
	return chat, nil
}

// MarshalChatTurn serializes a ChatTurn to bytes.
func MarshalChatTurn(turn *core.ChatTurn) []byte {
	bs := make([]byte, 0, 64+len(turn.Content))
	bs = put(bs, serializer[string](ord.String), turn.Id)
	bs = put(bs, serializer[string](ord.String), turn.ChatId)
	bs = putInt(bs, int(turn.Role))
	bs = put(bs, serializer[string](ord.String), turn.Content)
	bs = putStrings(bs, turn.Sources)
	return putTime(bs, turn.Timestamp)
}

// UnmarshalChatTurn deserializes a ChatTurn from bytes.
func UnmarshalChatTurn(data []byte) (*core.ChatTurn, error) {
	r := &reader{bs: data}
	turn := &core.ChatTurn{
		Id:        r.string(),
		ChatId:    r.string(),
		Role:      core.Role(r.int()),
		Content:   r.string(),
		Sources:   r.strings(),
		Timestamp: r.time(),
	}
	if r.err != nil {
		return nil, r.err
	}
	return turn, nil
}

// MarshalIndexedPoint serializes a point and its payload to bytes.
func MarshalIndexedPoint(point *core.IndexedPoint) []byte {
	bs := make([]byte, 0, 32+4*len(point.Vector)+len(point.Payload.Text))
	bs = put(bs, serializer[uint64](varint.Uint64), uint64(point.Id))
	bs = putVector(bs, point.Vector)
	bs = put(bs, serializer[string](ord.String), point.Payload.DocumentId)
	bs = putInt(bs, point.Payload.ChunkIndex)
	bs = put(bs, serializer[string](ord.String), point.Payload.Text)
	bs = putInt(bs, point.Payload.ChunkSize)
	return putTime(bs, point.Payload.CreatedAt)
}

// UnmarshalIndexedPoint deserializes a point from bytes.
func UnmarshalIndexedPoint(data []byte) (*core.IndexedPoint, error) {
	r := &reader{bs: data}
	point := &core.IndexedPoint{
		Id:     core.ID(get(r, serializer[uint64](varint.Uint64))),
		Vector: r.vector(),
		Payload: core.PointPayload{
			DocumentId: r.string(),
			ChunkIndex: r.int(),
			Text:       r.string(),
			ChunkSize:  r.int(),
			CreatedAt:  r.time(),
		},
	}
	if r.err != nil {
		return nil, r.err
	}
	return point, nil
}

// CollectionInfo describes a vector collection.
type CollectionInfo struct {
	Name       string
	Dimensions int
	Metric     string
	CreatedAt  time.Time
}

// MarshalCollectionInfo serializes collection metadata to bytes.
func MarshalCollectionInfo(info *CollectionInfo) []byte {
	bs := make([]byte, 0, 48)
	bs = put(bs, serializer[string](ord.String), info.Name)
	bs = putInt(bs, info.Dimensions)
	bs = put(bs, serializer[string](ord.String), info.Metric)
	return putTime(bs, info.CreatedAt)
}

// UnmarshalCollectionInfo deserializes collection metadata from bytes.
func UnmarshalCollectionInfo(data []byte) (*CollectionInfo, error) {
	r := &reader{bs: data}
	info := &CollectionInfo{
		Name:       r.string(),
		Dimensions: r.int(),
		Metric:     r.string(),
		CreatedAt:  r.time(),
	}
	if r.err != nil {
		return nil, r.err
	}
	return info, nil
}
