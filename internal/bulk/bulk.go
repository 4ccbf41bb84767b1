// Package bulk drives a scan through a per-key action with
// confirmation gating, a bounded worker pool and partial-failure
// isolation. Cursor advancement stays strictly sequential; only the
// actions on already-fetched keys run in parallel.
package bulk

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	schema "gitlab.diskarte.net/engineering/redis-admin"
	"gitlab.diskarte.net/engineering/redis-admin/internal/codec"
	"gitlab.diskarte.net/engineering/redis-admin/internal/export"
	"gitlab.diskarte.net/engineering/redis-admin/internal/redis"
	"gitlab.diskarte.net/engineering/redis-admin/internal/scan"
)

// ActionKind selects the per-key operation of a bulk run.
type ActionKind string

const (
	ActionDelete  ActionKind = "delete"
	ActionCopy    ActionKind = "copy"
	ActionExport  ActionKind = "export"
	ActionDump    ActionKind = "dump"
	ActionRestore ActionKind = "restore"
)

// DefaultConcurrency caps in-flight per-key actions unless the
// request says otherwise.
const DefaultConcurrency = 10

// Request describes one bulk invocation. Immutable once submitted.
type Request struct {
	Pattern   string
	Filters   scan.Filters
	BatchSize int

	Action     ActionKind
	Dest       *redis.Client // copy destination, source client when nil
	DestPrefix string        // prepended to copied key names
	Format     export.Format // export/restore file format
	Path       string        // export/restore file path

	DryRun      bool
	Confirmed   bool
	Concurrency int

	Progress func(schema.Progress)
}

type Orchestrator struct {
	client   *redis.Client
	codec    *codec.Codec
	exporter *export.Exporter

	// observed by tests to assert the concurrency bound
	hook func(key string)
}

func New(client *redis.Client) *Orchestrator {
	return &Orchestrator{
		client:   client,
		codec:    codec.New(client),
		exporter: export.New(client),
	}
}

// Run executes the request. Destructive actions without confirmation
// only count what they would touch and return ConfirmationRequired.
// Per-key failures become report entries; connection failures abort
// the run and land on the report as its fatal error.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*schema.Report, error) {
	if req.Concurrency <= 0 {
		req.Concurrency = DefaultConcurrency
	}
	switch req.Action {
	case ActionExport, ActionDump:
		return o.runExport(ctx, req)
	case ActionRestore:
		return o.runRestore(ctx, req)
	case ActionDelete, ActionCopy:
	default:
		return nil, fmt.Errorf("unknown bulk action %q", req.Action)
	}

	if !req.Confirmed && !req.DryRun {
		preview, destructive, err := o.preview(ctx, req)
		if err != nil {
			return nil, err
		}
		if destructive {
			return nil, &schema.ConfirmationRequired{Preview: preview}
		}
	}
	return o.runScan(ctx, req)
}

func (o *Orchestrator) runExport(ctx context.Context, req Request) (*schema.Report, error) {
	sess, err := scan.Open(o.client, req.Pattern, req.BatchSize, req.Filters)
	if err != nil {
		return nil, err
	}
	format := req.Format
	if req.Action == ActionDump {
		format = export.FormatDump
	}
	return o.exporter.Export(ctx, sess, format, req.Path, export.Options{
		Concurrency: req.Concurrency,
		DryRun:      req.DryRun,
		Progress:    req.Progress,
	})
}

func (o *Orchestrator) runRestore(ctx context.Context, req Request) (*schema.Report, error) {
	if !req.Confirmed && !req.DryRun {
		_, existing, err := o.exporter.Preview(ctx, req.Path, req.Format)
		if err != nil {
			return nil, err
		}
		if existing > 0 {
			return nil, &schema.ConfirmationRequired{Preview: existing}
		}
	}
	return o.exporter.Import(ctx, req.Path, req.Format, export.Options{
		Concurrency: req.Concurrency,
		DryRun:      req.DryRun,
		Pattern:     req.Pattern,
		Replace:     true,
		Progress:    req.Progress,
	})
}

// preview runs the dry counting pass. Delete is always destructive;
// copy only when it would overwrite existing destination keys.
func (o *Orchestrator) preview(ctx context.Context, req Request) (int64, bool, error) {
	sess, err := scan.Open(o.client, req.Pattern, req.BatchSize, req.Filters)
	if err != nil {
		return 0, false, err
	}
	dest := req.Dest
	if dest == nil {
		dest = o.client
	}
	var count, existing int64
	for !sess.Done() {
		batch, err := sess.NextBatch(ctx)
		if err != nil {
			return 0, false, err
		}
		for _, desc := range batch {
			count++
			if req.Action == ActionCopy {
				ok, err := dest.Exists(ctx, req.DestPrefix+desc.Name)
				if err != nil {
					return 0, false, err
				}
				if ok {
					existing++
				}
			}
		}
	}
	if req.Action == ActionCopy {
		return existing, existing > 0, nil
	}
	return count, true, nil
}

func (o *Orchestrator) runScan(ctx context.Context, req Request) (*schema.Report, error) {
	sess, err := scan.Open(o.client, req.Pattern, req.BatchSize, req.Filters)
	if err != nil {
		return nil, err
	}
	destCodec := o.codec
	if req.Dest != nil {
		destCodec = codec.New(req.Dest)
	}

	rb := schema.NewReportBuilder(req.Progress)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(req.Concurrency)

	var scanErr error
	for !sess.Done() {
		if gctx.Err() != nil {
			break
		}
		batch, err := sess.NextBatch(gctx)
		if err != nil {
			scanErr = err
			break
		}
		for _, desc := range batch {
			desc := desc
			g.Go(func() error {
				if gctx.Err() != nil {
					return nil
				}
				rb.Scan()
				if o.hook != nil {
					o.hook(desc.Name)
				}
				err := o.applyKey(gctx, req, destCodec, desc)
				switch {
				case err == nil:
					rb.Succeed()
				case errors.Is(err, schema.ErrNotFound):
					rb.Skip()
				case isFatal(err):
					return err
				default:
					rb.Fail(desc.Name, err)
				}
				return nil
			})
		}
	}
	werr := g.Wait()
	if scanErr == nil {
		scanErr = werr
	}
	if scanErr == nil {
		scanErr = ctx.Err()
	}
	if scanErr != nil {
		if errors.Is(scanErr, context.Canceled) || errors.Is(scanErr, context.DeadlineExceeded) {
			return rb.Finalize(schema.StatusCancelled, nil), nil
		}
		return rb.Finalize(schema.StatusFailed, scanErr), nil
	}
	return rb.Finalize("", nil), nil
}

// applyKey performs one per-key action. Each key's action is atomic
// from the orchestrator's perspective; nothing interleaves a single
// key's fetch and store.
func (o *Orchestrator) applyKey(ctx context.Context, req Request, destCodec *codec.Codec, desc schema.KeyDescriptor) error {
	switch req.Action {
	case ActionDelete:
		if req.DryRun {
			return nil // would succeed
		}
		deleted, err := o.client.Del(ctx, desc.Name)
		if err != nil {
			return err
		}
		if !deleted {
			return schema.ErrNotFound
		}
		return nil
	case ActionCopy:
		value, err := o.codec.Fetch(ctx, desc)
		if err != nil {
			return err
		}
		ttl, err := o.client.PTTL(ctx, desc.Name)
		if err != nil {
			return err
		}
		if req.DryRun {
			return nil
		}
		return destCodec.Store(ctx, req.DestPrefix+desc.Name, value, ttl)
	default:
		return fmt.Errorf("unknown bulk action %q", req.Action)
	}
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
