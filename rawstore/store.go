// Package rawstore owns the on-disk layout of the pipeline: one parquet
// file per (entity, endpoint) key under data-raw/, membership artifacts
// beside them, and consolidated datasets under final/. Every write is an
// atomic whole-file replace, which is what makes interrupted runs safe to
// resume.
package rawstore

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"quantflow/config"
	"quantflow/logger"
	"quantflow/models"
)

const (
	rawDirName       = "data-raw"
	finalDirName     = "final"
	constituentsFile = "constituents.parquet"
	tickersFile      = "tickers.parquet"
	factorsFile      = "factor_returns.parquet"
	parquetExt       = ".parquet"
)

// Record is one stored raw payload together with its storage metadata.
// ModTime orders competing writes of the same key during consolidation.
type Record struct {
	Entity   string
	Endpoint string
	Rows     []models.FieldRow
	Path     string
	ModTime  time.Time
}

// Store reads and writes the pipeline's parquet files under a single data
// root. Methods are safe for the single-threaded fetch loop and for
// concurrent readers of distinct datasets.
type Store struct {
	root        string
	compression string
	mirror      *Mirror
	log         *logger.Log
}

func NewStore(root string, cfg config.StorageConfig) *Store {
	return &Store{
		root:        root,
		compression: cfg.Compression,
		log:         logger.GetLogger(),
	}
}

// WithMirror attaches an object-store mirror that receives a copy of every
// file after it lands locally.
func (s *Store) WithMirror(m *Mirror) *Store {
	s.mirror = m
	return s
}

func (s *Store) Root() string     { return s.root }
func (s *Store) RawDir() string   { return filepath.Join(s.root, rawDirName) }
func (s *Store) FinalDir() string { return filepath.Join(s.root, finalDirName) }

// RecordPath returns the landing path for one (entity, endpoint) key.
func (s *Store) RecordPath(entity, endpoint string) string {
	return filepath.Join(s.RawDir(), endpoint, entity+parquetExt)
}

// FinalPath returns the consolidated output path for a dataset.
func (s *Store) FinalPath(dataset string) string {
	return filepath.Join(s.FinalDir(), dataset+parquetExt)
}

// Exists reports whether a key counts as already fetched: the file is
// present and holds at least one row. Sentinel rows count, so failed calls
// are not repeated on resume; a zero-row file does not count and the key
// is fetched again.
func (s *Store) Exists(entity, endpoint string) bool {
	count, err := RowCount(s.RecordPath(entity, endpoint))
	if err != nil {
		return false
	}
	return count > 0
}

// Write atomically replaces the stored payload for one key.
func (s *Store) Write(entity, endpoint string, rows []models.FieldRow) error {
	path := s.RecordPath(entity, endpoint)
	if err := WriteParquet(path, rows, s.compression); err != nil {
		return fmt.Errorf("failed to store %s/%s: %w", endpoint, entity, err)
	}

	dataset := endpoint
	if ds, ok := models.DatasetForEndpoint(endpoint); ok {
		dataset = ds.Name
	}
	logger.IncrementRawWrite(dataset, fileSize(path))
	s.log.WithComponent("rawstore").WithFields(logger.Fields{
		"operation": "write",
		"endpoint":  endpoint,
		"entity":    entity,
		"rows":      len(rows),
	}).Debug("Stored raw payload")

	s.mirrorFile(path)
	return nil
}

// Read loads the stored payload for one key.
func (s *Store) Read(entity, endpoint string) (Record, error) {
	path := s.RecordPath(entity, endpoint)
	return s.readRecord(entity, endpoint, path)
}

// ReadAll loads every stored payload for one endpoint, ordered by entity.
func (s *Store) ReadAll(endpoint string) ([]Record, error) {
	dir := filepath.Join(s.RawDir(), endpoint)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	var records []Record
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, parquetExt) {
			continue
		}
		entity := strings.TrimSuffix(name, parquetExt)
		rec, err := s.readRecord(entity, endpoint, filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Entity < records[j].Entity })
	return records, nil
}

// Scan walks every endpoint directory under the raw root and returns all
// stored payloads in deterministic endpoint-then-entity order. Membership
// artifacts at the raw root are not payloads and are skipped.
func (s *Store) Scan() ([]Record, error) {
	entries, err := os.ReadDir(s.RawDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", s.RawDir(), err)
	}

	var records []Record
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		recs, err := s.ReadAll(entry.Name())
		if err != nil {
			return nil, err
		}
		records = append(records, recs...)
	}
	return records, nil
}

func (s *Store) readRecord(entity, endpoint, path string) (Record, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Record{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	var rows []models.FieldRow
	if err := ReadParquet(path, &rows); err != nil {
		return Record{}, err
	}
	return Record{
		Entity:   entity,
		Endpoint: endpoint,
		Rows:     rows,
		Path:     path,
		ModTime:  info.ModTime(),
	}, nil
}

// WriteRoster stores the expanded daily membership roster.
func (s *Store) WriteRoster(rows []models.RosterRow) error {
	path := filepath.Join(s.RawDir(), constituentsFile)
	if err := WriteParquet(path, rows, s.compression); err != nil {
		return fmt.Errorf("failed to store roster: %w", err)
	}
	s.mirrorFile(path)
	return nil
}

// WriteTickers stores the deduplicated entity list driving ingestion.
func (s *Store) WriteTickers(symbols []string) error {
	rows := make([]models.TickerRow, len(symbols))
	for i, sym := range symbols {
		rows[i] = models.TickerRow{Ticker: sym}
	}
	path := filepath.Join(s.RawDir(), tickersFile)
	if err := WriteParquet(path, rows, s.compression); err != nil {
		return fmt.Errorf("failed to store tickers: %w", err)
	}
	s.mirrorFile(path)
	return nil
}

// ReadTickers loads the stored entity list.
func (s *Store) ReadTickers() ([]string, error) {
	var rows []models.TickerRow
	path := filepath.Join(s.RawDir(), tickersFile)
	if err := ReadParquet(path, &rows); err != nil {
		return nil, err
	}
	symbols := make([]string, len(rows))
	for i, row := range rows {
		symbols[i] = row.Ticker
	}
	return symbols, nil
}

// ReadRoster loads the stored daily membership roster.
func (s *Store) ReadRoster() ([]models.RosterRow, error) {
	var rows []models.RosterRow
	if err := ReadParquet(filepath.Join(s.RawDir(), constituentsFile), &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// WriteFactors stores factor returns straight into the final layer; they
// arrive consolidated from the warehouse and skip the raw stage.
func (s *Store) WriteFactors(rows []models.FactorRow) error {
	path := filepath.Join(s.FinalDir(), factorsFile)
	if err := WriteParquet(path, rows, s.compression); err != nil {
		return fmt.Errorf("failed to store factor returns: %w", err)
	}
	logger.AddFinalRows("factor_returns", len(rows), fileSize(path))
	s.mirrorFile(path)
	return nil
}

// WriteFinal atomically replaces one consolidated dataset.
func (s *Store) WriteFinal(dataset string, rows interface{}) error {
	path := s.FinalPath(dataset)
	if err := WriteParquet(path, rows, s.compression); err != nil {
		return fmt.Errorf("failed to store dataset %s: %w", dataset, err)
	}
	if v := reflect.ValueOf(rows); v.Kind() == reflect.Slice {
		logger.AddFinalRows(dataset, v.Len(), fileSize(path))
	}
	s.mirrorFile(path)
	return nil
}

// Compression exposes the configured codec name for writers layered on
// top of the store.
func (s *Store) Compression() string { return s.compression }

func (s *Store) mirrorFile(path string) {
	if s.mirror == nil {
		return
	}
	key, err := filepath.Rel(s.root, path)
	if err != nil {
		key = filepath.Base(path)
	}
	if err := s.mirror.Upload(filepath.ToSlash(key), path); err != nil {
		s.log.WithComponent("rawstore").WithFields(logger.Fields{
			"operation": "mirror",
			"path":      path,
		}).WithError(err).Warn("Mirror upload failed")
	}
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
