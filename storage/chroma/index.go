package chroma

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	chromago "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings"
	"github.com/poiesic/docrag/core"
	"github.com/poiesic/docrag/storage"
)

// Metadata keys stored with every point.
const (
	keyDocumentID = "document_id"
	keyChunkIndex = "chunk_index"
	keyChunkSize  = "chunk_size"
	keyCreatedAt  = "created_at"
)

// VectorIndex implements storage.VectorIndex on ChromaDB. Every document maps
// to its own Chroma collection using the cosine space.
type VectorIndex struct {
	client      chromago.Client
	dimensions  int
	collections sync.Map // collection name -> chromago.Collection
	logger      *slog.Logger
}

var _ storage.VectorIndex = (*VectorIndex)(nil)

type settings struct {
	baseURL    string
	dimensions int
	logger     *slog.Logger
}

// Option configures a VectorIndex.
type Option func(*settings)

// WithBaseURL points the client at a Chroma server. The client default is used when empty.
func WithBaseURL(url string) Option {
	return func(s *settings) {
		s.baseURL = url
	}
}

// WithDimensions records the expected vector length on created collections.
func WithDimensions(dims int) Option {
	return func(s *settings) {
		s.dimensions = dims
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewVectorIndex connects to ChromaDB over HTTP.
func NewVectorIndex(opts ...Option) (storage.VectorIndex, error) {
	s := &settings{logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	var clientOpts []chromago.ClientOption
	if s.baseURL != "" {
		clientOpts = append(clientOpts, chromago.WithBaseURL(s.baseURL))
	}
	client, err := chromago.NewHTTPClient(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrIndexUnavailable, err)
	}

	return &VectorIndex{
		client:     client,
		dimensions: s.dimensions,
		logger:     s.logger.With("component", "chroma-index"),
	}, nil
}

// Close releases the client.
func (v *VectorIndex) Close() error {
	return v.client.Close()
}

// EnsureCollection gets or creates the document's collection.
func (v *VectorIndex) EnsureCollection(ctx context.Context, documentID string) (string, error) {
	coll, err := v.ensure(ctx, documentID)
	if err != nil {
		return "", err
	}
	return coll.Name(), nil
}

func (v *VectorIndex) ensure(ctx context.Context, documentID string) (chromago.Collection, error) {
	name := storage.CollectionName(documentID)
	if cached, ok := v.collections.Load(name); ok {
		return cached.(chromago.Collection), nil
	}

	// GetOrCreate deduplicates by name on the server
	coll, err := v.client.GetOrCreateCollection(ctx, name,
		chromago.WithCollectionMetadataCreate(
			chromago.NewMetadata(
				chromago.NewStringAttribute("hnsw:space", "cosine"),
				chromago.NewStringAttribute(keyDocumentID, documentID),
				chromago.NewIntAttribute("dimension", int64(v.dimensions)),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrIndexUnavailable, err)
	}
	actual, _ := v.collections.LoadOrStore(name, coll)
	return actual.(chromago.Collection), nil
}

// lookup returns the document's collection, or nil if it does not exist.
func (v *VectorIndex) lookup(ctx context.Context, documentID string) (chromago.Collection, error) {
	name := storage.CollectionName(documentID)
	if cached, ok := v.collections.Load(name); ok {
		return cached.(chromago.Collection), nil
	}
	coll, err := v.client.GetCollection(ctx, name)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %w", core.ErrIndexUnavailable, err)
	}
	v.collections.Store(name, coll)
	return coll, nil
}

// Upsert writes points with a vector. Point ids are the decimal form of core.PointID.
func (v *VectorIndex) Upsert(ctx context.Context, documentID string, points []core.IndexedPoint) (int, error) {
	var (
		ids       []chromago.DocumentID
		texts     []string
		vectors   []embeddings.Embedding
		metadatas []chromago.DocumentMetadata
	)
	for _, p := range points {
		if len(p.Vector) == 0 {
			continue
		}
		if v.dimensions > 0 && len(p.Vector) != v.dimensions {
			return 0, fmt.Errorf("%w: expected %d, got %d", storage.ErrDimensionMismatch, v.dimensions, len(p.Vector))
		}
		ids = append(ids, chromago.DocumentID(p.Id.String()))
		texts = append(texts, p.Payload.Text)
		vectors = append(vectors, embeddings.NewEmbeddingFromFloat32(p.Vector))
		metadatas = append(metadatas, chromago.NewDocumentMetadata(
			chromago.NewStringAttribute(keyDocumentID, p.Payload.DocumentId),
			chromago.NewIntAttribute(keyChunkIndex, int64(p.Payload.ChunkIndex)),
			chromago.NewIntAttribute(keyChunkSize, int64(p.Payload.ChunkSize)),
			chromago.NewIntAttribute(keyCreatedAt, p.Payload.CreatedAt.UnixMicro()),
		))
	}
	if len(ids) == 0 {
		return 0, core.ErrNoValidPoints
	}

	coll, err := v.ensure(ctx, documentID)
	if err != nil {
		return 0, err
	}
	err = coll.Upsert(ctx,
		chromago.WithIDs(ids...),
		chromago.WithTexts(texts...),
		chromago.WithEmbeddings(vectors...),
		chromago.WithMetadatas(metadatas...),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", core.ErrIndexUnavailable, err)
	}
	v.logger.Debug("upserted points", "collection", coll.Name(), "points", len(ids))
	return len(ids), nil
}

// Search queries the document's collection. Scores are 1 - cosine distance.
func (v *VectorIndex) Search(ctx context.Context, documentID string, vector []float32, k int) ([]core.ScoredPoint, error) {
	results := []core.ScoredPoint{}
	if k <= 0 || len(vector) == 0 {
		return results, nil
	}

	coll, err := v.lookup(ctx, documentID)
	if err != nil || coll == nil {
		return results, err
	}
	count, err := coll.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrIndexUnavailable, err)
	}
	if count == 0 {
		return results, nil
	}

	qr, err := coll.Query(ctx,
		chromago.WithQueryEmbeddings(embeddings.NewEmbeddingFromFloat32(vector)),
		chromago.WithNResults(min(k, count)),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrIndexUnavailable, err)
	}

	idGroups := qr.GetIDGroups()
	docGroups := qr.GetDocumentsGroups()
	metaGroups := qr.GetMetadatasGroups()
	distGroups := qr.GetDistancesGroups()
	if len(idGroups) == 0 {
		return results, nil
	}

	for i, id := range idGroups[0] {
		point := core.ScoredPoint{Id: parseID(string(id))}
		if len(distGroups) > 0 && i < len(distGroups[0]) {
			point.Score = 1 - float32(distGroups[0][i])
		}
		if len(metaGroups) > 0 && i < len(metaGroups[0]) {
			point.Payload = payloadFromMetadata(metaGroups[0][i], v.logger)
		}
		if len(docGroups) > 0 && i < len(docGroups[0]) && docGroups[0][i] != nil {
			point.Payload.Text = docGroups[0][i].ContentString()
		}
		// Collections are per document; anything else is a foreign point
		if point.Payload.DocumentId != "" && point.Payload.DocumentId != documentID {
			v.logger.Warn("dropping point from another document", "collection", coll.Name(), "document", point.Payload.DocumentId)
			continue
		}
		point.Payload.DocumentId = documentID
		results = append(results, point)
	}
	return results, nil
}

// DeleteCollection drops the document's collection.
func (v *VectorIndex) DeleteCollection(ctx context.Context, documentID string) error {
	name := storage.CollectionName(documentID)
	v.collections.Delete(name)
	if err := v.client.DeleteCollection(ctx, name); err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("%w: %w", core.ErrIndexUnavailable, err)
	}
	return nil
}

// Count returns the number of points in the document's collection.
func (v *VectorIndex) Count(ctx context.Context, documentID string) (int, error) {
	coll, err := v.lookup(ctx, documentID)
	if err != nil || coll == nil {
		return 0, err
	}
	count, err := coll.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", core.ErrIndexUnavailable, err)
	}
	return count, nil
}

// isNotFound reports whether err is Chroma's answer for a missing collection.
func isNotFound(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "does not exist") || strings.Contains(msg, "not found")
}

func parseID(s string) core.ID {
	var id uint64
	if _, err := fmt.Sscan(s, &id); err != nil {
		return core.IDFromContent(s)
	}
	return core.ID(id)
}

// payloadFromMetadata decodes point metadata. DocumentMetadata exposes no
// generic accessor, so it goes through its JSON form.
func payloadFromMetadata(meta any, logger *slog.Logger) core.PointPayload {
	var payload core.PointPayload
	if meta == nil {
		return payload
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		logger.Warn("could not marshal point metadata", "err", err)
		return payload
	}
	var values map[string]any
	if err := json.Unmarshal(raw, &values); err != nil {
		logger.Warn("could not unmarshal point metadata", "err", err)
		return payload
	}

	payload.DocumentId, _ = values[keyDocumentID].(string)
	payload.ChunkIndex = intValue(values[keyChunkIndex])
	payload.ChunkSize = intValue(values[keyChunkSize])
	if micros := intValue(values[keyCreatedAt]); micros > 0 {
		payload.CreatedAt = time.UnixMicro(int64(micros)).UTC()
	}
	return payload
}

func intValue(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int64:
		return int(n)
	case int:
		return n
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	default:
		return 0
	}
}
