package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/golang/snappy"
	"github.com/vmihailenco/msgpack/v5"

	schema "gitlab.diskarte.net/engineering/redis-admin"
)

// Dump archives are a snappy-framed stream of msgpack records: one
// header, then one self-delimiting entry per key carrying the key
// name, the remaining TTL and the store's opaque DUMP payload.
const archiveVersion = 1

type archiveHeader struct {
	Version   int   `msgpack:"version"`
	CreatedAt int64 `msgpack:"created_at"` // unix milliseconds
}

type archiveEntry struct {
	Key       string `msgpack:"key"`
	TTLMillis int64  `msgpack:"ttl"` // -1 when the key has no expiry
	Payload   []byte `msgpack:"payload"`
}

// dumpArchive streams DUMP payloads for every scanned key. DUMP and
// cursor traffic stay sequential; the payloads are opaque and the
// archive order is the scan order.
func (e *Exporter) dumpArchive(ctx context.Context, scanner schema.Scanner, path string, opts Options) (*schema.Report, error) {
	rb := schema.NewReportBuilder(opts.Progress)

	var (
		enc    *msgpack.Encoder
		commit func() error
		abort  func()
	)
	if opts.DryRun {
		commit, abort = func() error { return nil }, func() {}
	} else {
		f, err := os.Create(path + ".tmp")
		if err != nil {
			return nil, err
		}
		sw := snappy.NewBufferedWriter(f)
		enc = msgpack.NewEncoder(sw)
		commit = func() error {
			if err := sw.Close(); err != nil {
				f.Close()
				os.Remove(path + ".tmp")
				return err
			}
			if err := f.Sync(); err != nil {
				f.Close()
				os.Remove(path + ".tmp")
				return err
			}
			if err := f.Close(); err != nil {
				os.Remove(path + ".tmp")
				return err
			}
			return os.Rename(path+".tmp", path)
		}
		abort = func() {
			f.Close()
			os.Remove(path + ".tmp")
		}
		header := archiveHeader{Version: archiveVersion, CreatedAt: time.Now().UnixMilli()}
		if err := enc.Encode(header); err != nil {
			abort()
			return nil, err
		}
	}

	for !scanner.Done() {
		batch, err := scanner.NextBatch(ctx)
		if err != nil {
			abort()
			return e.finishAborted(rb, err)
		}
		for _, desc := range batch {
			rb.Scan()
			payload, err := e.client.Dump(ctx, desc.Name)
			if errors.Is(err, schema.ErrNotFound) {
				rb.Skip()
				continue
			}
			if err != nil {
				if isFatal(err) {
					abort()
					return e.finishAborted(rb, err)
				}
				rb.Fail(desc.Name, err)
				continue
			}
			ttl, err := e.client.PTTL(ctx, desc.Name)
			if errors.Is(err, schema.ErrNotFound) {
				rb.Skip()
				continue
			}
			if err != nil {
				abort()
				return e.finishAborted(rb, err)
			}
			ttlMillis := int64(-1)
			if ttl != schema.TTLNone {
				ttlMillis = ttl.Milliseconds()
			}
			if enc != nil {
				ent := archiveEntry{Key: desc.Name, TTLMillis: ttlMillis, Payload: []byte(payload)}
				if err := enc.Encode(ent); err != nil {
					abort()
					return e.finishAborted(rb, err)
				}
			}
			rb.Succeed()
		}
	}

	if err := commit(); err != nil {
		return e.finishAborted(rb, err)
	}
	return rb.Finalize("", nil), nil
}

// restoreArchive replays an archive through RESTORE, clamping each
// finite TTL by the time elapsed since the archive was written.
func (e *Exporter) restoreArchive(ctx context.Context, path string, opts Options) (*schema.Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec := msgpack.NewDecoder(snappy.NewReader(f))

	var header archiveHeader
	if err := dec.Decode(&header); err != nil {
		return nil, &schema.SerializationError{Err: err}
	}
	if header.Version != archiveVersion {
		return nil, &schema.SerializationError{Err: fmt.Errorf("unsupported archive version %d", header.Version)}
	}
	createdAt := time.UnixMilli(header.CreatedAt)

	rb := schema.NewReportBuilder(opts.Progress)
	for {
		if err := ctx.Err(); err != nil {
			return e.finishAborted(rb, err)
		}
		var ent archiveEntry
		if err := dec.Decode(&ent); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// the stream is unrecoverable past a malformed entry
			return e.finishAborted(rb, &schema.SerializationError{Err: err})
		}
		rb.Scan()
		if opts.Pattern != "" && !schema.MatchPattern(opts.Pattern, ent.Key) {
			rb.Skip()
			continue
		}
		restoreMillis := int64(0) // RESTORE's "no expiry"
		if ent.TTLMillis >= 0 {
			var expired bool
			ms := ent.TTLMillis
			remaining, exp := remainingTTL(&ms, createdAt)
			expired = exp
			if expired {
				rb.SkipRecorded(ent.Key, schema.KindExpired, "recorded ttl elapsed before restore")
				continue
			}
			restoreMillis = remaining.Milliseconds()
			if restoreMillis == 0 {
				restoreMillis = 1
			}
		}
		if opts.DryRun {
			rb.Succeed()
			continue
		}
		if err := e.client.Restore(ctx, ent.Key, restoreMillis, string(ent.Payload), opts.Replace); err != nil {
			if isFatal(err) {
				return e.finishAborted(rb, err)
			}
			rb.Fail(ent.Key, err)
			continue
		}
		rb.Succeed()
	}
	return rb.Finalize("", nil), nil
}

// archiveKeys lists the key names of an archive without touching the
// store.
func archiveKeys(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec := msgpack.NewDecoder(snappy.NewReader(f))
	var header archiveHeader
	if err := dec.Decode(&header); err != nil {
		return nil, &schema.SerializationError{Err: err}
	}
	var keys []string
	for {
		var ent archiveEntry
		if err := dec.Decode(&ent); err != nil {
			if errors.Is(err, io.EOF) {
				return keys, nil
			}
			return nil, &schema.SerializationError{Err: err}
		}
		keys = append(keys, ent.Key)
	}
}
