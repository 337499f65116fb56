package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"time"

	"github.com/go-chi/chi/v5"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/services"
	"fintrack/internal/validation"
)

type procedureKind string

const (
	kindQuery    procedureKind = "query"
	kindMutation procedureKind = "mutation"
)

// Envelope kinds produced by the transport itself rather than a finance
// operation.
const (
	kindMethodNotAllowed core.ErrorKind = "method_not_allowed"
	kindRateLimited      core.ErrorKind = "rate_limit_error"
)

// handlerFunc receives the raw JSON input (possibly empty) and returns the
// value placed under result.data.
type handlerFunc func(ctx context.Context, raw []byte) (any, error)

type procedure struct {
	kind   procedureKind
	handle handlerFunc
}

// procedures builds the name -> procedure table served by the router.
func procedures(svc *services.FinanceService) map[string]procedure {
	return map[string]procedure{
		"healthcheck": {kindQuery, func(ctx context.Context, _ []byte) (any, error) {
			return svc.Health(ctx), nil
		}},
		"createUser":       {kindMutation, withInput(svc.CreateUser)},
		"getUsers":         {kindQuery, noInput(svc.ListUsers)},
		"createExpense":    {kindMutation, withInput(svc.CreateExpense)},
		"getUserExpenses":  {kindQuery, withInput(svc.ListExpenses)},
		"createEarning":    {kindMutation, withInput(svc.CreateEarning)},
		"getUserEarnings":  {kindQuery, withInput(svc.ListEarnings)},
		"createBudget":     {kindMutation, withInput(svc.CreateBudget)},
		"updateBudget":     {kindMutation, withInput(svc.UpdateBudget)},
		"getUserBudgets":   {kindQuery, withInput(svc.ListBudgets)},
		"getDashboardData": {kindQuery, withInput(svc.Dashboard)},
	}
}

func withInput[In, Out any](fn func(context.Context, In) (Out, error)) handlerFunc {
	return func(ctx context.Context, raw []byte) (any, error) {
		var in In
		if err := validation.Decode(raw, &in); err != nil {
			return nil, err
		}
		return fn(ctx, in)
	}
}

func noInput[Out any](fn func(context.Context) (Out, error)) handlerFunc {
	return func(ctx context.Context, _ []byte) (any, error) {
		return fn(ctx)
	}
}

// handleProcedure serves both GET (queries) and POST (mutations).
func (s *Server) handleProcedure(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	name := chi.URLParam(r, "procedure")
	logger := log.FromContext(r.Context()).WithComponent(log.ComponentRPC).With(log.FieldProcedure, name)

	status, body := s.dispatch(w, r, name)

	level := log.LevelForStatus(status)
	fields := log.NewFields().WithHTTPResponse(status, time.Since(start).Milliseconds())
	if p, ok := s.procedures[name]; ok {
		fields = append(fields, log.FieldKind, string(p.kind))
	}
	if eb, ok := body.(errorEnvelope); ok {
		fields = append(fields, log.FieldErrorKind, eb.Error.Kind)
		if eb.Error.Kind == kindMethodNotAllowed {
			w.Header().Set("Allow", allowFor(s.procedures[name].kind))
		}
	}
	logger.Log(r.Context(), level, "Procedure completed", fields...)

	writeJSON(w, status, body)
}

// dispatch resolves, decodes and runs the named procedure and returns the
// status and envelope to write.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, name string) (int, any) {
	p, ok := s.procedures[name]
	if !ok {
		return http.StatusNotFound, errorEnvelope{Error: errorBody{
			Kind:    core.KindNotFound,
			Message: fmt.Sprintf("no procedure named %q", name),
		}}
	}
	if r.Method != allowFor(p.kind) {
		return http.StatusMethodNotAllowed, errorEnvelope{Error: errorBody{
			Kind:    kindMethodNotAllowed,
			Message: fmt.Sprintf("%s is a %s; use %s", name, p.kind, allowFor(p.kind)),
		}}
	}

	raw, err := s.readInput(w, r, p.kind)
	if err != nil {
		return statusFor(core.KindOf(err)), errorEnvelope{Error: errorBodyFor(err)}
	}

	ctx := r.Context()
	if s.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()
	}

	data, err := p.handle(ctx, raw)
	if err != nil {
		body := errorBodyFor(err)
		return statusFor(body.Kind), errorEnvelope{Error: body}
	}
	return http.StatusOK, resultEnvelope{Result: resultData{Data: nonNil(data)}}
}

// readInput returns the procedure input: the "input" query parameter for
// queries, the request body for mutations.
func (s *Server) readInput(w http.ResponseWriter, r *http.Request, kind procedureKind) ([]byte, error) {
	if kind == kindQuery {
		return []byte(r.URL.Query().Get("input")), nil
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, core.NewValidationError(core.Violation{
				Field:   "input",
				Message: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit),
			})
		}
		return nil, core.NewValidationError(core.Violation{Field: "input", Message: "could not read request body"})
	}
	return raw, nil
}

func allowFor(kind procedureKind) string {
	if kind == kindMutation {
		return http.MethodPost
	}
	return http.MethodGet
}

// nonNil turns nil slices into empty ones so lists always encode as [].
func nonNil(data any) any {
	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Slice && v.IsNil() {
		return reflect.MakeSlice(v.Type(), 0, 0).Interface()
	}
	return data
}
