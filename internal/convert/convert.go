// Package convert applies the guessing cast to columns of Parquet and Arrow
// IPC files.
package convert

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/arrowtools/guesscast"
	"github.com/arrowtools/guesscast/internal/config"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// batchSize is the number of rows per record batch when reading Parquet.
// Smaller batches keep peak memory bounded on wide files.
const batchSize = 10000

// sharedAllocator is a package-level shared allocator for Arrow operations.
// memory.GoAllocator is documented as thread-safe for concurrent use.
var sharedAllocator = memory.NewGoAllocator()

// recordReader is the surface shared by pqarrow record readers and ipc
// stream readers.
type recordReader interface {
	Schema() *arrow.Schema
	Next() bool
	Record() arrow.Record
	Err() error
	Release()
}

// recordWriter is the surface shared by pqarrow file writers and ipc stream
// writers.
type recordWriter interface {
	Write(arrow.Record) error
	Close() error
}

// Converter rewrites the configured columns of a columnar file as timestamps,
// guessing the unit of integer inputs, and passes every other column through
// untouched.
type Converter struct {
	cfg     *config.Config
	target  *arrow.TimestampType
	opts    *guesscast.CastOptions
	columns map[string]struct{}
	logger  zerolog.Logger
}

// New builds a Converter from validated configuration.
func New(cfg *config.Config, logger zerolog.Logger) (*Converter, error) {
	target, err := cfg.Cast.TargetType()
	if err != nil {
		return nil, err
	}

	columns := make(map[string]struct{}, len(cfg.Convert.Columns))
	for _, name := range cfg.Convert.Columns {
		columns[name] = struct{}{}
	}

	opts := &guesscast.CastOptions{
		Safe: cfg.Cast.Safe,
		Timestamp: guesscast.TimestampOptions{
			GuessPrecision:  cfg.Cast.GuessPrecision,
			UseTimezoneAsIs: cfg.Cast.UseTimezoneAsIs,
			BoundYears:      cfg.Cast.BoundYears,
		},
	}

	return &Converter{
		cfg:     cfg,
		target:  target,
		opts:    opts,
		columns: columns,
		logger:  logger,
	}, nil
}

// Run converts the input file into the output file. Formats are chosen by
// file extension on each side independently, so it doubles as a
// Parquet-to-IPC converter and back.
func (c *Converter) Run(ctx context.Context) error {
	start := time.Now()

	reader, closeReader, err := c.openReader(ctx)
	if err != nil {
		return err
	}
	defer closeReader()

	schema := c.outputSchema(reader.Schema())

	writer, closeWriter, err := c.openWriter(schema)
	if err != nil {
		return err
	}
	defer closeWriter()

	var totalRows int64
	var batches int
	for reader.Next() {
		rec := reader.Record()
		out, err := c.castRecord(ctx, rec, schema)
		if err != nil {
			return err
		}
		if err := writer.Write(out); err != nil {
			out.Release()
			return fmt.Errorf("failed to write record batch: %w", err)
		}
		totalRows += out.NumRows()
		batches++
		out.Release()
	}
	if err := reader.Err(); err != nil {
		return fmt.Errorf("failed to read %s: %w", c.cfg.Convert.Input, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", c.cfg.Convert.Output, err)
	}

	c.logger.Info().
		Int64("rows", totalRows).
		Int("batches", batches).
		Str("output", c.cfg.Convert.Output).
		Float64("duration_ms", float64(time.Since(start).Milliseconds())).
		Msg("Conversion completed")
	return nil
}

// outputSchema replaces the configured columns' types with the target
// timestamp type and leaves the rest of the schema alone.
func (c *Converter) outputSchema(in *arrow.Schema) *arrow.Schema {
	fields := make([]arrow.Field, len(in.Fields()))
	seen := make(map[string]struct{}, len(c.columns))
	for i, f := range in.Fields() {
		if _, ok := c.columns[f.Name]; ok {
			f.Type = c.target
			seen[f.Name] = struct{}{}
		}
		fields[i] = f
	}
	for name := range c.columns {
		if _, ok := seen[name]; !ok {
			c.logger.Warn().Str("column", name).Msg("Configured column not present in input")
		}
	}
	return arrow.NewSchema(fields, nil)
}

// castRecord casts the configured columns of one batch concurrently and
// rebuilds the record against the output schema.
func (c *Converter) castRecord(ctx context.Context, rec arrow.Record, schema *arrow.Schema) (arrow.Record, error) {
	cols := make([]arrow.Array, rec.NumCols())

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Convert.Workers)
	for i := 0; i < int(rec.NumCols()); i++ {
		name := rec.ColumnName(i)
		col := rec.Column(i)
		if _, ok := c.columns[name]; !ok {
			cols[i] = array.MakeFromData(col.Data())
			continue
		}
		g.Go(func() error {
			out, err := guesscast.CastWithOptions(gctx, col, c.target, c.opts)
			if err != nil {
				return fmt.Errorf("column %s: %w", name, err)
			}
			cols[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, a := range cols {
			if a != nil {
				a.Release()
			}
		}
		return nil, err
	}

	out := array.NewRecord(schema, cols, rec.NumRows())
	for _, a := range cols {
		a.Release()
	}
	return out, nil
}

func (c *Converter) openReader(ctx context.Context) (recordReader, func(), error) {
	path := c.cfg.Convert.Input
	switch fileFormat(path) {
	case formatParquet:
		pf, err := file.OpenParquetFile(path, false)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: batchSize}, sharedAllocator)
		if err != nil {
			pf.Close()
			return nil, nil, fmt.Errorf("failed to create Parquet reader: %w", err)
		}
		rr, err := fr.GetRecordReader(ctx, nil, nil)
		if err != nil {
			pf.Close()
			return nil, nil, fmt.Errorf("failed to create record reader: %w", err)
		}
		return rr, func() { rr.Release(); pf.Close() }, nil

	case formatIPC:
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open %s: %w", path, err)
		}
		r, err := ipc.NewReader(f, ipc.WithAllocator(sharedAllocator))
		if err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("failed to create IPC reader: %w", err)
		}
		return r, func() { r.Release(); f.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unsupported input format: %s", path)
	}
}

func (c *Converter) openWriter(schema *arrow.Schema) (recordWriter, func(), error) {
	path := c.cfg.Convert.Output
	format := fileFormat(path)
	if format == formatUnknown {
		return nil, nil, fmt.Errorf("unsupported output format: %s", path)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s: %w", path, err)
	}

	switch format {
	case formatParquet:
		writerProps := parquet.NewWriterProperties(
			parquet.WithCompression(compressionCodec(c.cfg.Output.Compression)),
			parquet.WithDictionaryDefault(c.cfg.Output.UseDictionary),
			parquet.WithStats(c.cfg.Output.WriteStatistics),
		)
		arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())
		w, err := pqarrow.NewFileWriter(schema, f, writerProps, arrowProps)
		if err != nil {
			f.Close()
			return nil, nil, fmt.Errorf("failed to create Parquet writer: %w", err)
		}
		return w, func() { f.Close() }, nil

	default:
		w := ipc.NewWriter(f, ipc.WithSchema(schema), ipc.WithAllocator(sharedAllocator))
		return w, func() { f.Close() }, nil
	}
}

type format int

const (
	formatUnknown format = iota
	formatParquet
	formatIPC
)

func fileFormat(path string) format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet":
		return formatParquet
	case ".arrow", ".arrows", ".ipc":
		return formatIPC
	default:
		return formatUnknown
	}
}

// compressionCodec maps the configured compression name to a Parquet codec,
// defaulting to snappy.
func compressionCodec(name string) compress.Compression {
	switch strings.ToLower(name) {
	case "gzip":
		return compress.Codecs.Gzip
	case "zstd":
		return compress.Codecs.Zstd
	case "none", "uncompressed":
		return compress.Codecs.Uncompressed
	default:
		return compress.Codecs.Snappy
	}
}
