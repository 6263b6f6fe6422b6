package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vjranagit/framepivot/pkg/types"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	// DefaultTenant is used when a request carries no tenant.
	DefaultTenant = "default"

	blockDuration = time.Hour

	blockPrefix  = 'b'
	seriesPrefix = 's'
)

// Storage interface defines the contract for time-series storage
type Storage interface {
	// Write writes samples to storage
	Write(ctx context.Context, req *types.WriteRequest) error

	// Query returns the series matching the selector with their samples in
	// [StartTime, EndTime]. Series without samples in range are omitted.
	Query(ctx context.Context, req *types.QueryRequest) ([]types.Series, error)

	// LabelValues returns the sorted values of a label across the tenant's series
	LabelValues(ctx context.Context, tenantID, name string) ([]string, error)

	// Close closes the storage
	Close() error
}

// Config holds storage configuration
type Config struct {
	Path             string
	RetentionDays    int
	CompressionLevel int
	EnableWAL        bool
	// QueryConcurrency bounds parallel series reads per query
	QueryConcurrency int
}

// DefaultConfig returns default storage configuration
func DefaultConfig() *Config {
	return &Config{
		Path:             "./data",
		RetentionDays:    30,
		CompressionLevel: 3,
		EnableWAL:        true,
		QueryConcurrency: 8,
	}
}

// badgerStorage implements Storage using BadgerDB
type badgerStorage struct {
	cfg        *Config
	db         *badger.DB
	index      *Index
	compressor *Compressor
	wal        *WAL
	logger     *zap.Logger
	mu         sync.RWMutex
}

// NewStorage opens the storage at cfg.Path, rebuilds the index and replays
// any write-ahead log left by a previous run.
func NewStorage(cfg *Config, logger *zap.Logger) (Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := badger.DefaultOptions(filepath.Join(cfg.Path, "badger"))
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	compressor, err := NewCompressor(cfg.CompressionLevel)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}

	s := &badgerStorage{
		cfg:        cfg,
		db:         db,
		index:      NewIndex(),
		compressor: compressor,
		logger:     logger,
	}

	if err := s.loadIndex(); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to load index: %w", err)
	}

	if cfg.EnableWAL {
		replayed, skipped := 0, 0
		err := ReplayWAL(cfg.Path, func(req *types.WriteRequest) error {
			if err := s.apply(req); err != nil {
				skipped++
				logger.Warn("skipping write-ahead log entry",
					zap.String("tenant", tenantOf(req.TenantID)),
					zap.Int("series", len(req.Series)),
					zap.Error(err),
				)
				return nil
			}
			replayed++
			return nil
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to replay WAL: %w", err)
		}
		if replayed > 0 || skipped > 0 {
			logger.Info("replayed write-ahead log", zap.Int("requests", replayed), zap.Int("skipped", skipped))
		}

		s.wal, err = NewWAL(cfg.Path)
		if err != nil {
			s.Close()
			return nil, err
		}
	}

	logger.Info("storage opened",
		zap.String("path", cfg.Path),
		zap.Int("series", s.index.SeriesCount()),
		zap.Bool("wal", cfg.EnableWAL),
	)
	return s, nil
}

// Write implements Storage.Write
func (s *badgerStorage) Write(ctx context.Context, req *types.WriteRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.wal != nil {
		if err := s.wal.Append(req); err != nil {
			return err
		}
	}
	return s.apply(req)
}

// apply indexes the series and merges their samples into stored blocks.
// Callers hold the write lock, or own the storage exclusively.
func (s *badgerStorage) apply(req *types.WriteRequest) error {
	tenant := tenantOf(req.TenantID)

	for _, series := range req.Series {
		if len(series.Samples) == 0 {
			continue
		}

		seriesID, created := s.index.AddSeries(&series.Metric)
		s.index.AddTenant(seriesID, tenant)
		blocks := groupSamplesByBlock(series.Samples)

		blockTimes := make([]int64, 0, len(blocks))
		for blockTime := range blocks {
			blockTimes = append(blockTimes, blockTime)
		}
		sort.Slice(blockTimes, func(i, j int) bool { return blockTimes[i] < blockTimes[j] })

		for _, blockTime := range blockTimes {
			if err := s.mergeBlock(tenant, seriesID, blockTime, blocks[blockTime]); err != nil {
				return fmt.Errorf("failed to write block: %w", err)
			}
		}

		first, last := timeRange(series.Samples)
		if err := s.index.UpdateTimeRange(seriesID, first, last); err != nil {
			return err
		}
		if err := s.saveSeries(seriesID); err != nil {
			return fmt.Errorf("failed to persist series: %w", err)
		}
		if created {
			s.logger.Debug("new series", zap.Uint64("id", seriesID), zap.String("metric", series.Metric.Name))
		}
	}

	return nil
}

// groupSamplesByBlock groups samples into one-hour blocks keyed by block start in ms
func groupSamplesByBlock(samples []types.Sample) map[int64][]types.Sample {
	blocks := make(map[int64][]types.Sample)

	for _, sample := range samples {
		blockTime := blockStart(sample.Timestamp)
		blocks[blockTime] = append(blocks[blockTime], sample)
	}

	return blocks
}

func blockStart(t time.Time) int64 {
	return t.Truncate(blockDuration).UnixMilli()
}

// mergeBlock combines samples with the stored block. For equal timestamps
// the incoming sample wins.
func (s *badgerStorage) mergeBlock(tenant string, seriesID uint64, blockTime int64, samples []types.Sample) error {
	key := blockKey(tenant, seriesID, blockTime)

	return s.db.Update(func(txn *badger.Txn) error {
		merged := make(map[int64]float64, len(samples))

		item, err := txn.Get(key)
		switch {
		case err == nil:
			stored, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			existing, err := s.compressor.DecodeSamples(stored)
			if err != nil {
				return err
			}
			for _, sample := range existing {
				merged[sample.Timestamp.UnixMilli()] = sample.Value
			}
		case errors.Is(err, badger.ErrKeyNotFound):
		default:
			return err
		}

		for _, sample := range samples {
			merged[sample.Timestamp.UnixMilli()] = sample.Value
		}

		out := make([]types.Sample, 0, len(merged))
		for ts, v := range merged {
			out = append(out, types.Sample{Timestamp: time.UnixMilli(ts), Value: v})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })

		entry := badger.NewEntry(key, s.compressor.EncodeSamples(out))
		if s.cfg.RetentionDays > 0 {
			entry = entry.WithTTL(time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		}
		return txn.SetEntry(entry)
	})
}

// Query implements Storage.Query
func (s *badgerStorage) Query(ctx context.Context, req *types.QueryRequest) ([]types.Series, error) {
	matchers, err := ParseSelector(req.Query)
	if err != nil {
		return nil, err
	}

	tenant := tenantOf(req.TenantID)
	minTime, maxTime := req.StartTime.UnixMilli(), req.EndTime.UnixMilli()

	s.mu.RLock()
	var (
		ids     []uint64
		metrics []types.Metric
	)
	for _, id := range s.index.Select(matchers) {
		meta, _ := s.index.GetSeries(id)
		if !meta.hasTenant(tenant) || !meta.overlaps(minTime, maxTime) {
			continue
		}
		ids = append(ids, id)
		metrics = append(metrics, meta.Metric)
	}
	s.mu.RUnlock()

	results := make([]types.Series, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	if s.cfg.QueryConcurrency > 0 {
		g.SetLimit(s.cfg.QueryConcurrency)
	}
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			samples, err := s.readRange(gctx, tenant, id, req.StartTime, req.EndTime)
			if err != nil {
				return fmt.Errorf("series %d: %w", id, err)
			}
			results[i] = types.Series{Metric: metrics[i], Samples: samples}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := results[:0]
	for _, series := range results {
		if len(series.Samples) > 0 {
			out = append(out, series)
		}
	}
	return out, nil
}

// LabelValues implements Storage.LabelValues
func (s *badgerStorage) LabelValues(ctx context.Context, tenantID, name string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.LabelValues(tenantOf(tenantID), name), nil
}

// readRange reads the samples of one series in [start, end] in time order
func (s *badgerStorage) readRange(ctx context.Context, tenant string, seriesID uint64, start, end time.Time) ([]types.Sample, error) {
	prefix := seriesBlockPrefix(tenant, seriesID)
	endBlock := blockStart(end)

	var samples []types.Sample
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(blockKey(tenant, seriesID, blockStart(start))); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			item := it.Item()
			if decodeBlockTime(item.Key()) > endBlock {
				break
			}

			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			block, err := s.compressor.DecodeSamples(data)
			if err != nil {
				return err
			}
			for _, sample := range block {
				if !sample.Timestamp.Before(start) && !sample.Timestamp.After(end) {
					samples = append(samples, sample)
				}
			}
		}
		return nil
	})
	return samples, err
}

// loadIndex rebuilds the in-memory index from persisted series metadata
func (s *badgerStorage) loadIndex() error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{seriesPrefix, '/'}
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var meta seriesMetadata
				if err := json.Unmarshal(val, &meta); err != nil {
					return err
				}
				s.index.restore(&meta)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *badgerStorage) saveSeries(seriesID uint64) error {
	meta, ok := s.index.GetSeries(seriesID)
	if !ok {
		return fmt.Errorf("series %d not found", seriesID)
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(seriesKey(seriesID), data)
	})
}

// Close implements Storage.Close
func (s *badgerStorage) Close() error {
	var errs []error
	if s.wal != nil {
		errs = append(errs, s.wal.Close())
	}
	if s.compressor != nil {
		s.compressor.Close()
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}

func tenantOf(id string) string {
	if id == "" {
		return DefaultTenant
	}
	return id
}

func timeRange(samples []types.Sample) (int64, int64) {
	first, last := samples[0].Timestamp.UnixMilli(), samples[0].Timestamp.UnixMilli()
	for _, s := range samples[1:] {
		ts := s.Timestamp.UnixMilli()
		first = min(first, ts)
		last = max(last, ts)
	}
	return first, last
}

// seriesBlockPrefix is b/<tenant>/<series id>
func seriesBlockPrefix(tenant string, seriesID uint64) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(blockPrefix)
	buf.WriteByte('/')
	buf.WriteString(tenant)
	buf.WriteByte('/')
	binary.Write(buf, binary.BigEndian, seriesID)
	return buf.Bytes()
}

// blockKey appends the block start to the series prefix. The sign bit is
// flipped so keys sort in time order for negative times too.
func blockKey(tenant string, seriesID uint64, blockTime int64) []byte {
	return binary.BigEndian.AppendUint64(seriesBlockPrefix(tenant, seriesID), uint64(blockTime)^(1<<63))
}

func decodeBlockTime(key []byte) int64 {
	return int64(binary.BigEndian.Uint64(key[len(key)-8:]) ^ (1 << 63))
}

func seriesKey(seriesID uint64) []byte {
	return binary.BigEndian.AppendUint64([]byte{seriesPrefix, '/'}, seriesID)
}
