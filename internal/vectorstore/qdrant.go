package vectorstore

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"

	"github.com/xxxsen/repoqa/internal/config"
	"github.com/xxxsen/repoqa/internal/model"
	appErr "github.com/xxxsen/repoqa/internal/pkg/errors"
)

const (
	fieldRepoID      = "repo_id"
	fieldFilePath    = "file_path"
	fieldDeclaration = "declaration_name"
	fieldStartLine   = "start_line"
	fieldEndLine     = "end_line"
	fieldContent     = "content"
	fieldIsEmpty     = "is_empty"
	fieldPart        = "part"
	fieldJobID       = "job_id"
)

var pointNamespace = uuid.MustParse("6f6b7c1e-3f43-4e0a-9d7b-2b1f0c9a5e21")

type pointsAPI interface {
	Upsert(ctx context.Context, in *qdrant.UpsertPoints, opts ...grpc.CallOption) (*qdrant.PointsOperationResponse, error)
	Search(ctx context.Context, in *qdrant.SearchPoints, opts ...grpc.CallOption) (*qdrant.SearchResponse, error)
	Delete(ctx context.Context, in *qdrant.DeletePoints, opts ...grpc.CallOption) (*qdrant.PointsOperationResponse, error)
	CreateFieldIndex(ctx context.Context, in *qdrant.CreateFieldIndexCollection, opts ...grpc.CallOption) (*qdrant.PointsOperationResponse, error)
}

type collectionsAPI interface {
	Get(ctx context.Context, in *qdrant.GetCollectionInfoRequest, opts ...grpc.CallOption) (*qdrant.GetCollectionInfoResponse, error)
	Create(ctx context.Context, in *qdrant.CreateCollection, opts ...grpc.CallOption) (*qdrant.CollectionOperationResponse, error)
}

// Record is one chunk ready to be written, tagged with the job that wrote it.
type Record struct {
	Chunk  model.Chunk
	Vector []float32
	JobID  string
}

type SearchOptions struct {
	TopK   int
	FetchK int
	Lambda float32
}

// Store is the adapter over the single collection shared by all
// repositories. Every read and delete carries a repo_id filter.
type Store struct {
	points      pointsAPI
	collections collectionsAPI
	conn        *grpc.ClientConn
	collection  string
	dimension   uint64
	timeout     time.Duration

	mu          sync.Mutex
	provisioned bool
}

func New(cfg config.QdrantConfig) (*Store, error) {
	creds := insecure.NewCredentials()
	if cfg.UseTLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if cfg.APIKey != "" {
		opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
	}
	conn, err := grpc.NewClient(cfg.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not connect to qdrant: %w", err)
	}
	s := newStore(qdrant.NewPointsClient(conn), qdrant.NewCollectionsClient(conn), cfg)
	s.conn = conn
	return s, nil
}

func newStore(points pointsAPI, collections collectionsAPI, cfg config.QdrantConfig) *Store {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Store{
		points:      points,
		collections: collections,
		collection:  cfg.Collection,
		dimension:   cfg.Dimension,
		timeout:     timeout,
	}
}

func apiKeyInterceptor(apiKey string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", apiKey)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// Provision makes sure the collection and its repo_id index exist. Once it
// has succeeded it is never attempted again by this process. Losing a create
// race to another process counts as success.
func (s *Store) Provision(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.provisioned {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	logger := logutil.GetLogger(ctx).With(zap.String("collection", s.collection))

	_, err := s.collections.Get(ctx, &qdrant.GetCollectionInfoRequest{CollectionName: s.collection})
	switch {
	case err == nil:
	case status.Code(err) == codes.NotFound:
		logger.Info("collection missing, creating", zap.Uint64("dimension", s.dimension))
		_, err = s.collections.Create(ctx, &qdrant.CreateCollection{
			CollectionName: s.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     s.dimension,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil && !alreadyExists(err) {
			return fmt.Errorf("create collection: %w", err)
		}
	default:
		return fmt.Errorf("get collection: %w", err)
	}

	_, err = s.points.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.collection,
		Wait:           proto.Bool(true),
		FieldName:      fieldRepoID,
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil && !alreadyExists(err) {
		return fmt.Errorf("create repo_id index: %w", err)
	}
	s.provisioned = true
	logger.Info("collection provisioned")
	return nil
}

func alreadyExists(err error) bool {
	if status.Code(err) == codes.AlreadyExists {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}

// PointID is stable for a chunk location, so rewriting a chunk replaces the
// previous point instead of adding a duplicate.
func PointID(c model.Chunk) string {
	key := fmt.Sprintf("%s\x00%s\x00%s\x00%d\x00%d\x00%d", c.RepoID, c.FilePath, c.DeclarationName, c.StartLine, c.EndLine, c.Part)
	return uuid.NewSHA1(pointNamespace, []byte(key)).String()
}

func (s *Store) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.Provision(ctx); err != nil {
		return err
	}
	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, r := range records {
		if r.Chunk.RepoID == "" {
			return fmt.Errorf("%w: record without repo_id", appErr.ErrInvalid)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: PointID(r.Chunk)}},
			Vectors: &qdrant.Vectors{VectorsOptions: &qdrant.Vectors_Vector{Vector: &qdrant.Vector{Data: r.Vector}}},
			Payload: toPayload(r),
		})
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.points.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
		Wait:           proto.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("upsert points: %w", err)
	}
	return nil
}

// Search returns up to TopK chunks of one repository picked by maximal
// marginal relevance out of the FetchK nearest neighbours.
func (s *Store) Search(ctx context.Context, repoID string, vector []float32, opts SearchOptions) ([]model.ScoredChunk, error) {
	if repoID == "" {
		return nil, fmt.Errorf("%w: search without repo_id", appErr.ErrInvalid)
	}
	if opts.TopK <= 0 {
		return nil, nil
	}
	if opts.FetchK < opts.TopK {
		opts.FetchK = opts.TopK
	}
	if err := s.Provision(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	resp, err := s.points.Search(ctx, &qdrant.SearchPoints{
		CollectionName: s.collection,
		Vector:         vector,
		Filter:         repoFilter(repoID),
		Limit:          uint64(opts.FetchK),
		WithPayload:    &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true}},
		WithVectors:    &qdrant.WithVectorsSelector{SelectorOptions: &qdrant.WithVectorsSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("search points: %w", err)
	}
	hits := resp.GetResult()
	candidates := make([][]float32, len(hits))
	for i, hit := range hits {
		candidates[i] = hit.GetVectors().GetVector().GetData()
	}
	picked := MMR(vector, candidates, opts.TopK, opts.Lambda)
	out := make([]model.ScoredChunk, 0, len(picked))
	for _, idx := range picked {
		hit := hits[idx]
		chunk := fromPayload(hit.GetPayload())
		// the filter already guarantees this, a mismatch means a broken index
		if chunk.RepoID != repoID {
			continue
		}
		out = append(out, model.ScoredChunk{
			PointID: hit.GetId().GetUuid(),
			Score:   hit.GetScore(),
			Chunk:   chunk,
		})
	}
	return out, nil
}

// Prune deletes the points of a repository that were not written by keepJobID.
func (s *Store) Prune(ctx context.Context, repoID string, keepJobID string) error {
	if repoID == "" || keepJobID == "" {
		return fmt.Errorf("%w: prune needs repo_id and job_id", appErr.ErrInvalid)
	}
	if err := s.Provision(ctx); err != nil {
		return err
	}
	filter := repoFilter(repoID)
	filter.MustNot = []*qdrant.Condition{keywordCondition(fieldJobID, keepJobID)}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.points.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           proto.Bool(true),
		Points:         &qdrant.PointsSelector{PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: filter}},
	})
	if err != nil {
		return fmt.Errorf("delete superseded points: %w", err)
	}
	return nil
}

func repoFilter(repoID string) *qdrant.Filter {
	return &qdrant.Filter{Must: []*qdrant.Condition{keywordCondition(fieldRepoID, repoID)}}
}

func keywordCondition(key, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key:   key,
				Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func stringValue(v string) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: v}}
}

func intValue(v int) *qdrant.Value {
	return &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(v)}}
}

func toPayload(r Record) map[string]*qdrant.Value {
	return map[string]*qdrant.Value{
		fieldRepoID:      stringValue(r.Chunk.RepoID),
		fieldFilePath:    stringValue(r.Chunk.FilePath),
		fieldDeclaration: stringValue(r.Chunk.DeclarationName),
		fieldStartLine:   intValue(r.Chunk.StartLine),
		fieldEndLine:     intValue(r.Chunk.EndLine),
		fieldContent:     stringValue(r.Chunk.Content),
		fieldIsEmpty:     {Kind: &qdrant.Value_BoolValue{BoolValue: r.Chunk.IsEmpty}},
		fieldPart:        intValue(r.Chunk.Part),
		fieldJobID:       stringValue(r.JobID),
	}
}

func fromPayload(payload map[string]*qdrant.Value) model.Chunk {
	return model.Chunk{
		RepoID:          payload[fieldRepoID].GetStringValue(),
		FilePath:        payload[fieldFilePath].GetStringValue(),
		DeclarationName: payload[fieldDeclaration].GetStringValue(),
		StartLine:       int(payload[fieldStartLine].GetIntegerValue()),
		EndLine:         int(payload[fieldEndLine].GetIntegerValue()),
		Content:         payload[fieldContent].GetStringValue(),
		IsEmpty:         payload[fieldIsEmpty].GetBoolValue(),
		Part:            int(payload[fieldPart].GetIntegerValue()),
	}
}
