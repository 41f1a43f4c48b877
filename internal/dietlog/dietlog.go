// Package dietlog keeps the append-only diet history of diners.
//
// Each diner has at most one open assignment (end_date NULL). Assigning a
// new diet closes the open assignment at the new effective date and opens
// another, in one storage transaction. Discharge closes whatever is open.
// Closed rows are never modified again.
package dietlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pantryhq/pantry/internal/domain"
	"github.com/pantryhq/pantry/internal/entity"
	"github.com/pantryhq/pantry/internal/idgen"
	"github.com/pantryhq/pantry/internal/schema"
	"github.com/pantryhq/pantry/internal/tenancy"
)

var tracer = otel.Tracer("pantry-dietlog")

// Diner status values.
const (
	StatusActive     = "active"
	StatusDischarged = "discharged"
)

// AssignmentPrefix is the id prefix of diet assignments.
const AssignmentPrefix = "DA"

// Assignments is the declared shape of the diet_assignments table.
var Assignments = schema.Table{
	Name: "diet_assignments",
	Columns: []schema.Column{
		schema.Text("assignment_id").Key(),
		schema.Text("tenant_id"),
		schema.Text("diner_id"),
		schema.Text("diet_id"),
		schema.Date("effective_date"),
		schema.Date("end_date").Null(),
		schema.Text("reason").Null(),
		schema.Text("created_by").Null(),
		schema.Timestamp("created_at"),
	},
}

var historyOrder = []domain.Order{
	{Column: "effective_date", Desc: true},
	{Column: "created_at", Desc: true},
}

// Notifier is told when a diner row was written outside the CRUD engine.
// *crud.Operations satisfies it.
type Notifier interface {
	Invalidate(ctx context.Context, tc domain.TenantContext, id string)
}

// Options configures a Service.
type Options struct {
	Now func() time.Time
	IDs *idgen.Generator
}

// Service maintains diet assignments for the diners entity.
type Service struct {
	store    domain.Store
	diners   entity.Descriptor
	diets    entity.Descriptor
	dinerTbl schema.Table
	now      func() time.Time
	ids      *idgen.Generator
	notifier Notifier
}

// New creates a Service. diners and diets describe the owner and value
// tables; their tenant modes decide which rows the caller may use.
func New(store domain.Store, diners, diets entity.Descriptor, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.IDs == nil {
		opts.IDs = idgen.Default()
	}
	return &Service{
		store:    store,
		diners:   diners,
		diets:    diets,
		dinerTbl: diners.SchemaTable(),
		now:      opts.Now,
		ids:      opts.IDs,
	}
}

// SetNotifier installs n. It must be called before the service is shared.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// AssignRequest describes a diet change.
type AssignRequest struct {
	DinerID string `json:"dinerId"`
	DietID  string `json:"dietId"`

	// EffectiveDate is YYYY-MM-DD. Empty means today.
	EffectiveDate string `json:"effectiveDate,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// Assign makes req.DietID the diner's current diet from req.EffectiveDate
// on and returns the open assignment. Assigning the diet that is already
// open returns the open assignment unchanged. A discharged diner is
// readmitted.
func (s *Service) Assign(ctx context.Context, tc domain.TenantContext, req AssignRequest) (domain.Record, error) {
	ctx, span := s.startSpan(ctx, "assign", tc, req.DinerID)
	defer span.End()
	span.SetAttributes(attribute.String("dietlog.diet_id", req.DietID))

	effective, err := s.date("effective_date", req.EffectiveDate)
	if err != nil {
		return nil, fail(span, err)
	}

	var result domain.Record
	changed := false
	err = s.store.WithTx(ctx, func(tx domain.Store) error {
		diner, err := s.ownedDiner(ctx, tx, tc, req.DinerID)
		if err != nil {
			return err
		}
		if err := s.checkDiet(ctx, tx, tc, req.DietID); err != nil {
			return err
		}

		latest, err := s.latest(ctx, tx, tc, req.DinerID)
		if err != nil {
			return err
		}
		if latest != nil {
			open := latest["end_date"] == nil
			if open && latest.String("diet_id") == req.DietID {
				result = latest
				return nil
			}
			// A change must leave the open row a non-empty interval; a new
			// row may start on the day the last one ended.
			if open && effective <= latest.String("effective_date") {
				return domain.NewValidationError(Assignments.Name, "effective_date",
					fmt.Sprintf("must be after %s", latest.String("effective_date")))
			}
			if !open && effective < latest.String("end_date") {
				return domain.NewValidationError(Assignments.Name, "effective_date",
					fmt.Sprintf("must not be before %s", latest.String("end_date")))
			}
			if open {
				if err := s.close(ctx, tx, tc, latest.String("assignment_id"), effective); err != nil {
					return err
				}
			}
		}

		rec, err := s.open(ctx, tx, tc, req, effective)
		if err != nil {
			return err
		}

		set := domain.Record{
			"current_diet_id": req.DietID,
			"updated_at":      s.now().UTC(),
		}
		if diner.String("status") == StatusDischarged {
			set["status"] = StatusActive
			set["discharged_on"] = nil
		}
		if err := s.updateDiner(ctx, tx, tc, req.DinerID, set); err != nil {
			return err
		}

		result = rec
		changed = true
		return nil
	})
	if err != nil {
		return nil, fail(span, err)
	}

	if changed {
		s.notify(ctx, tc, req.DinerID)
		slog.Info("diet assigned",
			"tenant_id", tc.TenantID,
			"diner_id", req.DinerID,
			"diet_id", req.DietID,
			"effective_date", effective,
		)
	}
	return result, nil
}

// CloseAll closes every open assignment of the diner at asOf (YYYY-MM-DD,
// empty means today) and marks the diner discharged. It returns the
// updated diner. An already discharged diner is returned unchanged, keeping
// its original discharge date.
func (s *Service) CloseAll(ctx context.Context, tc domain.TenantContext, dinerID, asOf string) (domain.Record, error) {
	ctx, span := s.startSpan(ctx, "close_all", tc, dinerID)
	defer span.End()

	endDate, err := s.date("end_date", asOf)
	if err != nil {
		return nil, fail(span, err)
	}

	var diner domain.Record
	var closed int
	unchanged := false
	err = s.store.WithTx(ctx, func(tx domain.Store) error {
		current, err := s.ownedDiner(ctx, tx, tc, dinerID)
		if err != nil {
			return err
		}

		latest, err := s.latest(ctx, tx, tc, dinerID)
		if err != nil {
			return err
		}
		if latest == nil || latest["end_date"] != nil {
			if current.String("status") == StatusDischarged {
				diner = current
				unchanged = true
				return nil
			}
			if latest != nil && endDate < latest.String("end_date") {
				return domain.NewValidationError(Assignments.Name, "end_date",
					fmt.Sprintf("must not be before %s", latest.String("end_date")))
			}
		}

		open, err := tx.Select(ctx, domain.Query{
			Table: Assignments.Name,
			Where: s.assignmentScope(tc, dinerID, domain.IsNull("end_date")),
		})
		if err != nil {
			return err
		}
		for _, rec := range open {
			Assignments.Normalize(rec)
			if endDate < rec.String("effective_date") {
				return domain.NewValidationError(Assignments.Name, "end_date",
					fmt.Sprintf("must not be before %s", rec.String("effective_date")))
			}
			if err := s.close(ctx, tx, tc, rec.String("assignment_id"), endDate); err != nil {
				return err
			}
			closed++
		}

		err = s.updateDiner(ctx, tx, tc, dinerID, domain.Record{
			"status":          StatusDischarged,
			"discharged_on":   endDate,
			"current_diet_id": nil,
			"updated_at":      s.now().UTC(),
		})
		if err != nil {
			return err
		}

		diner, err = s.ownedDiner(ctx, tx, tc, dinerID)
		return err
	})
	if err != nil {
		return nil, fail(span, err)
	}
	if unchanged {
		return diner, nil
	}

	s.notify(ctx, tc, dinerID)
	slog.Info("diet assignments closed",
		"tenant_id", tc.TenantID,
		"diner_id", dinerID,
		"closed", closed,
		"end_date", endDate,
	)
	return diner, nil
}

// History returns the diner's assignments, most recent first.
func (s *Service) History(ctx context.Context, tc domain.TenantContext, dinerID string) ([]domain.Record, error) {
	ctx, span := s.startSpan(ctx, "history", tc, dinerID)
	defer span.End()

	if _, err := s.visibleDiner(ctx, s.store, tc, dinerID); err != nil {
		return nil, fail(span, err)
	}
	rows, err := s.store.Select(ctx, domain.Query{
		Table:   Assignments.Name,
		Where:   s.assignmentScope(tc, dinerID),
		OrderBy: historyOrder,
	})
	if err != nil {
		return nil, fail(span, err)
	}
	for _, rec := range rows {
		Assignments.Normalize(rec)
	}
	if rows == nil {
		rows = []domain.Record{}
	}
	return rows, nil
}

// Current returns the diner's open assignment, or nil when there is none.
func (s *Service) Current(ctx context.Context, tc domain.TenantContext, dinerID string) (domain.Record, error) {
	ctx, span := s.startSpan(ctx, "current", tc, dinerID)
	defer span.End()

	if _, err := s.visibleDiner(ctx, s.store, tc, dinerID); err != nil {
		return nil, fail(span, err)
	}
	rows, err := s.store.Select(ctx, domain.Query{
		Table: Assignments.Name,
		Where: s.assignmentScope(tc, dinerID, domain.IsNull("end_date")),
		Limit: 1,
	})
	if err != nil {
		return nil, fail(span, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return Assignments.Normalize(rows[0]), nil
}

// HistoryCount returns how many assignments the diner has, open or closed.
func (s *Service) HistoryCount(ctx context.Context, tc domain.TenantContext, dinerID string) (int64, error) {
	if tc.TenantID == "" {
		return 0, domain.ErrTenantRequired
	}
	return s.store.Count(ctx, Assignments.Name, s.assignmentScope(tc, dinerID))
}

// CheckDiet reports a validation error on field when dietID is not a diet
// the caller can use.
func (s *Service) CheckDiet(ctx context.Context, tc domain.TenantContext, field, dietID string) error {
	err := s.checkDiet(ctx, s.store, tc, dietID)
	if domain.IsNotFound(err) {
		return domain.NewValidationError(s.diners.Name, field, "unknown diet")
	}
	return err
}

func (s *Service) checkDiet(ctx context.Context, store domain.Store, tc domain.TenantContext, dietID string) error {
	if dietID == "" {
		return domain.NewValidationError(Assignments.Name, "diet_id", "is required")
	}
	scope, err := tenancy.ReadPredicate(s.diets, tc)
	if err != nil {
		return err
	}
	rows, err := store.Select(ctx, domain.Query{
		Table: s.diets.Table,
		Where: tenancy.Identity(s.diets, dietID, scope),
		Limit: 1,
	})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return &domain.NotFoundError{Entity: s.diets.Name, ID: dietID}
	}
	if active, ok := schema.Normalize(schema.TypeBoolean, rows[0]["active"]).(bool); ok && !active {
		return domain.NewValidationError(Assignments.Name, "diet_id", "diet is not active")
	}
	return nil
}

// ownedDiner loads a diner the caller may modify.
func (s *Service) ownedDiner(ctx context.Context, store domain.Store, tc domain.TenantContext, dinerID string) (domain.Record, error) {
	if err := tenancy.Authorize(s.diners, tc); err != nil {
		return nil, err
	}
	scope, err := tenancy.WritePredicate(s.diners, tc)
	if err != nil {
		return nil, err
	}
	return s.findDiner(ctx, store, dinerID, scope)
}

func (s *Service) visibleDiner(ctx context.Context, store domain.Store, tc domain.TenantContext, dinerID string) (domain.Record, error) {
	if err := tenancy.Authorize(s.diners, tc); err != nil {
		return nil, err
	}
	scope, err := tenancy.ReadPredicate(s.diners, tc)
	if err != nil {
		return nil, err
	}
	return s.findDiner(ctx, store, dinerID, scope)
}

func (s *Service) findDiner(ctx context.Context, store domain.Store, dinerID string, scope []domain.Condition) (domain.Record, error) {
	rows, err := store.Select(ctx, domain.Query{
		Table: s.diners.Table,
		Where: tenancy.Identity(s.diners, dinerID, scope),
		Limit: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, &domain.NotFoundError{Entity: s.diners.Name, ID: dinerID}
	}
	return s.dinerTbl.Normalize(rows[0]), nil
}

// latest returns the open assignment, or failing that the one that closed
// last.
func (s *Service) latest(ctx context.Context, store domain.Store, tc domain.TenantContext, dinerID string) (domain.Record, error) {
	for _, q := range []domain.Query{
		{Where: s.assignmentScope(tc, dinerID, domain.IsNull("end_date"))},
		{Where: s.assignmentScope(tc, dinerID), OrderBy: []domain.Order{{Column: "end_date", Desc: true}}},
	} {
		q.Table = Assignments.Name
		q.Limit = 1
		rows, err := store.Select(ctx, q)
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			return Assignments.Normalize(rows[0]), nil
		}
	}
	return nil, nil
}

func (s *Service) close(ctx context.Context, store domain.Store, tc domain.TenantContext, assignmentID, endDate string) error {
	n, err := store.Update(ctx, Assignments.Name, domain.Record{"end_date": endDate},
		s.assignmentScope(tc, "", domain.Eq("assignment_id", assignmentID), domain.IsNull("end_date")))
	if err != nil {
		return err
	}
	if n != 1 {
		return &domain.ConflictError{Entity: Assignments.Name, Detail: "assignment " + assignmentID + " was closed concurrently"}
	}
	return nil
}

func (s *Service) open(ctx context.Context, store domain.Store, tc domain.TenantContext, req AssignRequest, effective string) (domain.Record, error) {
	id, err := s.ids.Generate(AssignmentPrefix)
	if err != nil {
		return nil, fmt.Errorf("generate id: %w", err)
	}
	rec := domain.Record{
		"assignment_id":  id,
		"tenant_id":      tc.TenantID,
		"diner_id":       req.DinerID,
		"diet_id":        req.DietID,
		"effective_date": effective,
		"end_date":       nil,
		"created_by":     tc.Actor(),
		"created_at":     s.now().UTC(),
	}
	if req.Reason != "" {
		rec["reason"] = req.Reason
	}

	stored, err := store.Insert(ctx, Assignments.Name, rec)
	if err != nil {
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) {
			return nil, &domain.ConflictError{Entity: Assignments.Name, Detail: "diner already has an open assignment", Err: err}
		}
		return nil, err
	}
	return Assignments.Normalize(stored), nil
}

func (s *Service) updateDiner(ctx context.Context, store domain.Store, tc domain.TenantContext, dinerID string, set domain.Record) error {
	scope, err := tenancy.WritePredicate(s.diners, tc)
	if err != nil {
		return err
	}
	n, err := store.Update(ctx, s.diners.Table, set, tenancy.Identity(s.diners, dinerID, scope))
	if err != nil {
		return err
	}
	if n == 0 {
		return &domain.NotFoundError{Entity: s.diners.Name, ID: dinerID}
	}
	return nil
}

// assignmentScope matches the tenant's assignments, of one diner when
// dinerID is set.
func (s *Service) assignmentScope(tc domain.TenantContext, dinerID string, extra ...domain.Condition) []domain.Condition {
	where := []domain.Condition{domain.Eq("tenant_id", tc.TenantID)}
	if dinerID != "" {
		where = append(where, domain.Eq("diner_id", dinerID))
	}
	return append(where, extra...)
}

func (s *Service) date(field, value string) (string, error) {
	if value == "" {
		return s.now().UTC().Format(time.DateOnly), nil
	}
	d, err := time.Parse(time.DateOnly, value)
	if err != nil {
		return "", domain.NewValidationError(Assignments.Name, field, "must be a date (YYYY-MM-DD)")
	}
	return d.Format(time.DateOnly), nil
}

func (s *Service) notify(ctx context.Context, tc domain.TenantContext, dinerID string) {
	if s.notifier != nil {
		s.notifier.Invalidate(ctx, tc, dinerID)
	}
}

func (s *Service) startSpan(ctx context.Context, op string, tc domain.TenantContext, dinerID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "dietlog."+op,
		trace.WithAttributes(
			attribute.String("tenant.id", tc.TenantID),
			attribute.String("dietlog.diner_id", dinerID),
		),
	)
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
