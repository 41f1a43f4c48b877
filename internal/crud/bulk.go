package crud

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/pantryhq/pantry/internal/domain"
	"github.com/pantryhq/pantry/internal/tenancy"
)

const batchRejected = "batch rejected: invalid rows present"

// BulkCreate creates rows one at a time, in order, recording an outcome per
// row. Per-row failures never fail the call; only a malformed batch does.
//
// With SkipInvalidRows disabled every row is validated first and nothing is
// persisted if any row is invalid.
func (o *Operations) BulkCreate(ctx context.Context, tc domain.TenantContext, rows []domain.Record, opts domain.BulkOptions) (*domain.BulkResult, error) {
	ctx, span := o.startSpan(ctx, "bulk_create", tc)
	defer span.End()
	span.SetAttributes(attribute.Int("crud.batch_size", len(rows)))

	if err := checkBatch(len(rows)); err != nil {
		return nil, fail(span, err)
	}
	if err := o.checkBatchScope(tc); err != nil {
		return nil, fail(span, err)
	}

	result := &domain.BulkResult{Total: len(rows), Results: make([]domain.BulkItemResult, 0, len(rows))}

	if !opts.SkipInvalid() {
		if rejected := o.prevalidate(rows); rejected != nil {
			for _, item := range rejected {
				result.Record(item)
			}
			return result, nil
		}
	}

	for i, row := range rows {
		item := domain.BulkItemResult{Index: index(i)}

		rec, err := o.Create(ctx, tc, row)
		switch {
		case err == nil:
			item.Success = true
			item.ID = rec.String(o.entity.IdentityField)
		case domain.IsCommitted(err):
			item.Success = true
			item.ID = rec.String(o.entity.IdentityField)
			item.Error = err.Error()
		default:
			describe(&item, err)
		}
		result.Record(item)

		if !item.Success && opts.StopOnError {
			break
		}
	}

	o.logBatch("bulk create", tc, result)
	return result, nil
}

// BulkDelete deletes ids one at a time, in order, recording an outcome per
// id.
func (o *Operations) BulkDelete(ctx context.Context, tc domain.TenantContext, ids []string, opts domain.BulkOptions) (*domain.BulkResult, error) {
	ctx, span := o.startSpan(ctx, "bulk_delete", tc)
	defer span.End()
	span.SetAttributes(attribute.Int("crud.batch_size", len(ids)))

	if err := checkBatch(len(ids)); err != nil {
		return nil, fail(span, err)
	}
	if err := o.checkBatchScope(tc); err != nil {
		return nil, fail(span, err)
	}

	result := &domain.BulkResult{Total: len(ids), Results: make([]domain.BulkItemResult, 0, len(ids))}
	for _, id := range ids {
		item := domain.BulkItemResult{ID: id}

		_, err := o.Delete(ctx, tc, id)
		switch {
		case err == nil:
			item.Success = true
		case domain.IsCommitted(err):
			item.Success = true
			item.Error = err.Error()
		default:
			describe(&item, err)
		}
		result.Record(item)

		if !item.Success && opts.StopOnError {
			break
		}
	}

	o.logBatch("bulk delete", tc, result)
	return result, nil
}

// prevalidate checks every row against the create contract. It returns nil
// when all rows are valid, otherwise one rejected outcome per row.
func (o *Operations) prevalidate(rows []domain.Record) []domain.BulkItemResult {
	items := make([]domain.BulkItemResult, len(rows))
	invalid := false
	for i, row := range rows {
		items[i] = domain.BulkItemResult{Index: index(i), Error: batchRejected}
		if _, err := o.entity.Contracts.Create.Validate(row); err != nil {
			describe(&items[i], err)
			invalid = true
		}
	}
	if !invalid {
		return nil
	}
	return items
}

func (o *Operations) checkBatchScope(tc domain.TenantContext) error {
	if err := tenancy.Authorize(o.entity.Descriptor, tc); err != nil {
		return err
	}
	_, err := tenancy.WritePredicate(o.entity.Descriptor, tc)
	return err
}

func (o *Operations) logBatch(msg string, tc domain.TenantContext, result *domain.BulkResult) {
	slog.Info(msg,
		"entity", o.entity.Name,
		"tenant_id", tc.TenantID,
		"total", result.Total,
		"successful", result.Successful,
		"failed", result.Failed,
	)
}

func checkBatch(n int) error {
	if n == 0 {
		return fmt.Errorf("%w: batch is empty", domain.ErrBatchInput)
	}
	if n > domain.MaxBatchSize {
		return fmt.Errorf("%w: %d items exceeds the limit of %d", domain.ErrBatchInput, n, domain.MaxBatchSize)
	}
	return nil
}

func describe(item *domain.BulkItemResult, err error) {
	item.Success = false
	item.Error = err.Error()
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		item.Fields = verr.Fields
	}
}

func index(i int) *int {
	return &i
}
