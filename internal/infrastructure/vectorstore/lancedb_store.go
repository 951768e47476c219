package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	arrowmem "github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/lancedb/lancedb-go/pkg/contracts"
	"github.com/lancedb/lancedb-go/pkg/lancedb"
	"go.uber.org/zap"

	"github.com/modelgate/modelgate/internal/domain/memory"
)

// Store persists memory entries in a LanceDB table. One Store owns one
// table; long-term memory and the semantic response cache each open
// their own so their vectors never mix.
type Store struct {
	conn      contracts.IConnection
	table     contracts.ITable
	schema    *arrow.Schema
	dimension int
	logger    *zap.Logger
}

var _ memory.VectorStore = (*Store)(nil)

// New opens (or creates) the named table under path. dimension must
// match the embedder that fills the entries.
func New(path, table string, dimension int, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("vectorstore")

	absPath, err := expandPath(path)
	if err != nil {
		return nil, fmt.Errorf("expand store path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	ctx := context.Background()
	conn, err := lancedb.Connect(ctx, absPath, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to lancedb at %s: %w", absPath, err)
	}

	arrowSchema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "content", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "vector", Type: arrow.FixedSizeListOf(int32(dimension), arrow.PrimitiveTypes.Float32), Nullable: false},
		{Name: "metadata", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "session_id", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "created_at", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
		{Name: "updated_at", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
	}, nil)

	tbl, err := openOrCreateTable(ctx, conn, table, arrowSchema, logger)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open table %s: %w", table, err)
	}

	logger.Info("lancedb table ready",
		zap.String("path", absPath),
		zap.String("table", table),
		zap.Int("dimension", dimension))

	return &Store{
		conn:      conn,
		table:     tbl,
		schema:    arrowSchema,
		dimension: dimension,
		logger:    logger,
	}, nil
}

func openOrCreateTable(ctx context.Context, conn contracts.IConnection, name string, arrowSchema *arrow.Schema, logger *zap.Logger) (contracts.ITable, error) {
	table, err := conn.OpenTable(ctx, name)
	if err == nil {
		return table, nil
	}
	logger.Info("creating lancedb table", zap.String("table", name))
	schema, err := lancedb.NewSchema(arrowSchema)
	if err != nil {
		return nil, fmt.Errorf("build lancedb schema: %w", err)
	}
	return conn.CreateTable(ctx, name, schema)
}

// Insert stores one entry. The vector is L2-normalised on the way in so
// distances translate to cosine similarity.
func (s *Store) Insert(ctx context.Context, entry *memory.Entry) error {
	record, err := s.entryToRecord(entry)
	if err != nil {
		return fmt.Errorf("build arrow record: %w", err)
	}
	defer record.Release()

	if err := s.table.Add(ctx, record, nil); err != nil {
		return fmt.Errorf("lancedb insert: %w", err)
	}
	s.logger.Debug("entry inserted", zap.String("id", entry.ID))
	return nil
}

// Search runs a vector similarity query. Session filtering pushes down
// into LanceDB; MinScore and Since are applied after scoring.
func (s *Store) Search(ctx context.Context, query []float32, topK int, filter *memory.SearchFilter) ([]*memory.Entry, error) {
	var (
		rows []map[string]interface{}
		err  error
	)
	if expr := sessionFilter(filter); expr != "" {
		rows, err = s.table.VectorSearchWithFilter(ctx, "vector", normalised(query), topK, expr)
	} else {
		rows, err = s.table.VectorSearch(ctx, "vector", normalised(query), topK)
	}
	if err != nil {
		return nil, fmt.Errorf("lancedb search: %w", err)
	}

	entries := make([]*memory.Entry, 0, len(rows))
	for _, row := range rows {
		entry := rowToEntry(row)
		if entry == nil {
			continue
		}
		if filter != nil {
			if filter.MinScore > 0 && entry.Score < filter.MinScore {
				continue
			}
			if !filter.Since.IsZero() && entry.CreatedAt.Before(filter.Since) {
				continue
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Delete removes one entry by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.table.Delete(ctx, "id = '"+escapeSQL(id)+"'"); err != nil {
		return fmt.Errorf("lancedb delete: %w", err)
	}
	return nil
}

// BySession returns every entry stored under sessionID.
func (s *Store) BySession(ctx context.Context, sessionID string) ([]*memory.Entry, error) {
	rows, err := s.table.SelectWithFilter(ctx, "session_id = '"+escapeSQL(sessionID)+"'")
	if err != nil {
		return nil, fmt.Errorf("lancedb session query: %w", err)
	}
	entries := make([]*memory.Entry, 0, len(rows))
	for _, row := range rows {
		if e := rowToEntry(row); e != nil {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// Close releases the table and connection.
func (s *Store) Close() error {
	if s.table != nil {
		s.table.Close()
	}
	if s.conn != nil {
		s.conn.Close()
	}
	return nil
}

func (s *Store) entryToRecord(entry *memory.Entry) (arrow.Record, error) {
	pool := arrowmem.NewGoAllocator()

	idB := array.NewStringBuilder(pool)
	idB.Append(entry.ID)
	idArr := idB.NewArray()
	defer idArr.Release()

	contentB := array.NewStringBuilder(pool)
	contentB.Append(entry.Content)
	contentArr := contentB.NewArray()
	defer contentArr.Release()

	vectorArr, err := buildVectorArray(pool, normalised(entry.Embedding), s.dimension)
	if err != nil {
		return nil, err
	}
	defer vectorArr.Release()

	metaJSON, _ := json.Marshal(entry.Metadata)
	metaB := array.NewStringBuilder(pool)
	metaB.Append(string(metaJSON))
	metaArr := metaB.NewArray()
	defer metaArr.Release()

	sessionB := array.NewStringBuilder(pool)
	sessionB.Append(entry.SessionID)
	sessionArr := sessionB.NewArray()
	defer sessionArr.Release()

	createdB := array.NewInt64Builder(pool)
	createdB.Append(entry.CreatedAt.Unix())
	createdArr := createdB.NewArray()
	defer createdArr.Release()

	updatedB := array.NewInt64Builder(pool)
	updatedB.Append(entry.UpdatedAt.Unix())
	updatedArr := updatedB.NewArray()
	defer updatedArr.Release()

	cols := []arrow.Array{idArr, contentArr, vectorArr, metaArr, sessionArr, createdArr, updatedArr}
	return array.NewRecord(s.schema, cols, 1), nil
}

func buildVectorArray(pool arrowmem.Allocator, vec []float32, dim int) (arrow.Array, error) {
	if len(vec) != dim {
		return nil, fmt.Errorf("vector dimension mismatch: expected %d, got %d", dim, len(vec))
	}

	floatB := array.NewFloat32Builder(pool)
	floatB.AppendValues(vec, nil)
	floatArr := floatB.NewArray()
	defer floatArr.Release()

	listType := arrow.FixedSizeListOf(int32(dim), arrow.PrimitiveTypes.Float32)
	listData := array.NewData(listType, 1, []*arrowmem.Buffer{nil},
		[]arrow.ArrayData{floatArr.Data()}, 0, 0)
	return array.NewFixedSizeListData(listData), nil
}

func sessionFilter(filter *memory.SearchFilter) string {
	if filter == nil || filter.SessionID == "" {
		return ""
	}
	return "session_id = '" + escapeSQL(filter.SessionID) + "'"
}

func rowToEntry(row map[string]interface{}) *memory.Entry {
	entry := &memory.Entry{}

	if v, ok := row["id"].(string); ok {
		entry.ID = v
	}
	if v, ok := row["content"].(string); ok {
		entry.Content = v
	}
	if v, ok := row["session_id"].(string); ok {
		entry.SessionID = v
	}
	if v, ok := row["metadata"].(string); ok && v != "" {
		var meta map[string]interface{}
		if err := json.Unmarshal([]byte(v), &meta); err == nil {
			entry.Metadata = meta
		}
	}
	if v, ok := toInt64(row["created_at"]); ok {
		entry.CreatedAt = time.Unix(v, 0)
	}
	if v, ok := toInt64(row["updated_at"]); ok {
		entry.UpdatedAt = time.Unix(v, 0)
	}
	if v, ok := toFloat32(row["_distance"]); ok {
		entry.Score = distanceToScore(v)
	}
	return entry
}

// distanceToScore maps LanceDB's squared-L2 _distance to cosine
// similarity. Vectors are unit length here, so cos = 1 - d/2.
func distanceToScore(distance float32) float32 {
	score := 1 - distance/2
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// normalised returns a unit-length copy of vec; zero vectors pass
// through unchanged.
func normalised(vec []float32) []float32 {
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = v * scale
	}
	return out
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	}
	return 0, false
}

func toFloat32(v interface{}) (float32, bool) {
	switch n := v.(type) {
	case float32:
		return n, true
	case float64:
		return float32(n), true
	}
	return 0, false
}

func escapeSQL(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func expandPath(path string) (string, error) {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}
