// Package export streams scanned keys into JSON, CSV or dump-archive
// files and restores them back. Writers go through a temporary path
// renamed into place on success, so a crash never leaves a truncated
// file that looks complete.
package export

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/errgroup"

	schema "gitlab.diskarte.net/engineering/redis-admin"
	"gitlab.diskarte.net/engineering/redis-admin/internal/codec"
	"gitlab.diskarte.net/engineering/redis-admin/internal/redis"
)

var json = sonic.ConfigStd

// Format extends the codec text formats with the binary dump archive.
type Format = codec.Format

const (
	FormatJSON        = codec.FormatJSON
	FormatCSV         = codec.FormatCSV
	FormatDump Format = "dump"
)

// DetectFormat guesses a format from the file extension, ignoring a
// trailing .gz.
func DetectFormat(path string) (Format, error) {
	p := strings.TrimSuffix(path, ".gz")
	switch {
	case strings.HasSuffix(p, ".json"):
		return FormatJSON, nil
	case strings.HasSuffix(p, ".csv"):
		return FormatCSV, nil
	case strings.HasSuffix(p, ".dump"):
		return FormatDump, nil
	default:
		return "", fmt.Errorf("cannot detect format from %q", path)
	}
}

// Options tune one export or import run.
type Options struct {
	Concurrency int
	DryRun      bool
	Pattern     string // import-side name filter, empty matches all
	Replace     bool   // restore over existing keys
	Progress    func(schema.Progress)
}

func (o Options) limit() int {
	if o.Concurrency <= 0 {
		return 10
	}
	return o.Concurrency
}

type Exporter struct {
	client *redis.Client
	codec  *codec.Codec
}

func New(client *redis.Client) *Exporter {
	return &Exporter{client: client, codec: codec.New(client)}
}

// entry is the external record shape: {name,type,ttl,value} with ttl
// in remaining milliseconds, null when the key has no expiry.
type entry struct {
	Name  string         `json:"name"`
	Type  schema.KeyType `json:"type"`
	TTL   *int64         `json:"ttl"`
	Value interface{}    `json:"value"`
}

// Export drives the scanner to exhaustion, streaming one entry per
// key. Value fetches run with bounded parallelism, file writes stay
// sequential and ordered within a batch. Cancellation removes the
// temporary file; a connection failure aborts and is surfaced as the
// report's fatal error.
func (e *Exporter) Export(ctx context.Context, scanner schema.Scanner, format Format, path string, opts Options) (*schema.Report, error) {
	if format == FormatDump {
		return e.dumpArchive(ctx, scanner, path, opts)
	}
	rb := schema.NewReportBuilder(opts.Progress)

	var (
		sink   entrySink
		commit func() error
		abort  func()
	)
	if opts.DryRun {
		sink, commit, abort = nullSink{}, func() error { return nil }, func() {}
	} else {
		w, c, a, err := openAtomic(path)
		if err != nil {
			return nil, err
		}
		commit, abort = c, a
		if format == FormatCSV {
			sink, err = newCSVSink(w)
		} else {
			sink = newJSONSink(w)
		}
		if err != nil {
			abort()
			return nil, err
		}
	}

	type fetched struct {
		name string
		ent  *entry
		err  error
	}
	for !scanner.Done() {
		batch, err := scanner.NextBatch(ctx)
		if err != nil {
			abort()
			return e.finishAborted(rb, err)
		}
		results := make([]fetched, len(batch))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.limit())
		for i, desc := range batch {
			i, desc := i, desc
			g.Go(func() error {
				rb.Scan()
				ent, err := e.fetchEntry(gctx, desc)
				if isFatal(err) {
					return err
				}
				results[i] = fetched{name: desc.Name, ent: ent, err: err}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			abort()
			return e.finishAborted(rb, err)
		}
		for _, r := range results {
			switch {
			case errors.Is(r.err, schema.ErrNotFound):
				rb.Skip()
			case r.err != nil:
				rb.Fail(r.name, r.err)
			default:
				if err := sink.write(r.ent); err != nil {
					abort()
					return e.finishAborted(rb, err)
				}
				rb.Succeed()
			}
		}
	}

	if err := sink.flush(); err != nil {
		abort()
		return e.finishAborted(rb, err)
	}
	if err := commit(); err != nil {
		return e.finishAborted(rb, err)
	}
	return rb.Finalize("", nil), nil
}

// finishAborted maps an abort cause onto the report: cancellation
// finalizes as Cancelled, anything else as a fatal failure.
func (e *Exporter) finishAborted(rb *schema.ReportBuilder, err error) (*schema.Report, error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return rb.Finalize(schema.StatusCancelled, nil), nil
	}
	return rb.Finalize(schema.StatusFailed, err), nil
}

func isFatal(err error) bool {
	if err == nil {
		return false
	}
	var ce *schema.ConnectionError
	return errors.As(err, &ce) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (e *Exporter) fetchEntry(ctx context.Context, desc schema.KeyDescriptor) (*entry, error) {
	v, err := e.codec.Fetch(ctx, desc)
	if err != nil {
		return nil, err
	}
	// TTL is re-read at export time, the descriptor's copy may be
	// stale by now.
	ttl, err := e.client.PTTL(ctx, desc.Name)
	if err != nil {
		return nil, err
	}
	ent := &entry{Name: desc.Name, Type: v.Type, Value: codec.JSONValue(v)}
	if ttl != schema.TTLNone {
		ms := ttl.Milliseconds()
		ent.TTL = &ms
	}
	return ent, nil
}

// Import parses an export file and stores every entry, preserving the
// recorded TTL reduced by the time elapsed since the export. Entries
// whose TTL fully elapsed are skipped and recorded as expired.
func (e *Exporter) Import(ctx context.Context, path string, format Format, opts Options) (*schema.Report, error) {
	if format == "" {
		var err error
		if format, err = DetectFormat(path); err != nil {
			return nil, err
		}
	}
	if opts.Pattern != "" {
		if err := schema.ValidatePattern(opts.Pattern); err != nil {
			return nil, err
		}
	}
	if format == FormatDump {
		return e.restoreArchive(ctx, path, opts)
	}

	f, exportedAt, r, err := openImport(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entries, err := readEntries(r, format)
	if err != nil {
		return nil, &schema.SerializationError{Err: err}
	}

	rb := schema.NewReportBuilder(opts.Progress)
	for _, ent := range entries {
		if err := ctx.Err(); err != nil {
			return e.finishAborted(rb, err)
		}
		rb.Scan()
		if opts.Pattern != "" && !schema.MatchPattern(opts.Pattern, ent.Name) {
			rb.Skip()
			continue
		}
		ttl, expired := remainingTTL(ent.TTL, exportedAt)
		if expired {
			rb.SkipRecorded(ent.Name, schema.KindExpired, "recorded ttl elapsed before import")
			continue
		}
		v, err := decodeEntryValue(ent)
		if err != nil {
			rb.Fail(ent.Name, err)
			continue
		}
		if opts.DryRun {
			rb.Succeed()
			continue
		}
		if err := e.codec.Store(ctx, ent.Name, v, ttl); err != nil {
			if isFatal(err) {
				return e.finishAborted(rb, err)
			}
			rb.Fail(ent.Name, err)
			continue
		}
		rb.Succeed()
	}
	return rb.Finalize("", nil), nil
}

// Preview counts the entries of an export file and how many of them
// already exist in the store, without mutating anything.
func (e *Exporter) Preview(ctx context.Context, path string, format Format) (total, existing int64, err error) {
	if format == "" {
		if format, err = DetectFormat(path); err != nil {
			return 0, 0, err
		}
	}
	names, err := e.entryNames(path, format)
	if err != nil {
		return 0, 0, err
	}
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}
		total++
		ok, err := e.client.Exists(ctx, name)
		if err != nil {
			return 0, 0, err
		}
		if ok {
			existing++
		}
	}
	return total, existing, nil
}

func (e *Exporter) entryNames(path string, format Format) ([]string, error) {
	if format == FormatDump {
		return archiveKeys(path)
	}
	f, _, r, err := openImport(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	entries, err := readEntries(r, format)
	if err != nil {
		return nil, &schema.SerializationError{Err: err}
	}
	names := make([]string, len(entries))
	for i, ent := range entries {
		names[i] = ent.Name
	}
	return names, nil
}

// remainingTTL reduces a recorded finite TTL by the wall-clock time
// elapsed since the export. Nil means no expiry.
func remainingTTL(recordedMillis *int64, exportedAt time.Time) (time.Duration, bool) {
	if recordedMillis == nil {
		return 0, false
	}
	remaining := time.Duration(*recordedMillis)*time.Millisecond - time.Since(exportedAt)
	if remaining <= 0 {
		return 0, true
	}
	return remaining, false
}

func decodeEntryValue(ent *entry) (schema.Value, error) {
	if ent.Type == schema.TypeString {
		s, ok := ent.Value.(string)
		if !ok {
			return schema.Value{}, &schema.SerializationError{Key: ent.Name, Err: errors.New("string entry with non-string value")}
		}
		return schema.Value{Type: schema.TypeString, Str: s}, nil
	}
	text, err := json.Marshal(ent.Value)
	if err != nil {
		return schema.Value{}, &schema.SerializationError{Key: ent.Name, Err: err}
	}
	return codec.FromText(ent.Type, string(text), codec.FormatJSON)
}

// openImport opens path, unwrapping gzip for .gz files, and returns
// the file's modification time as the export timestamp.
func openImport(path string) (*os.File, time.Time, io.Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, time.Time{}, nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, time.Time{}, nil, err
	}
	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, time.Time{}, nil, err
		}
		r = gz
	}
	return f, fi.ModTime(), r, nil
}

func readEntries(r io.Reader, format Format) ([]*entry, error) {
	switch format {
	case FormatJSON:
		var entries []*entry
		if err := json.NewDecoder(r).Decode(&entries); err != nil {
			return nil, err
		}
		return entries, nil
	case FormatCSV:
		return readCSVEntries(r)
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}
}

func readCSVEntries(r io.Reader) ([]*entry, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, err
	}
	if len(header) != 4 || header[0] != "name" {
		return nil, fmt.Errorf("unexpected csv header %v", header)
	}
	var entries []*entry
	for {
		row, err := cr.Read()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return nil, err
		}
		ent := &entry{Name: row[0], Type: schema.ParseKeyType(row[1])}
		if row[2] != "" {
			ms, err := strconv.ParseInt(row[2], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("row %q: bad ttl: %w", row[0], err)
			}
			ent.TTL = &ms
		}
		if ent.Type == schema.TypeString {
			ent.Value = row[3]
		} else {
			var v interface{}
			if err := json.Unmarshal([]byte(row[3]), &v); err != nil {
				return nil, fmt.Errorf("row %q: bad value: %w", row[0], err)
			}
			ent.Value = v
		}
		entries = append(entries, ent)
	}
}
