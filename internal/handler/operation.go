package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sakif/sandbox-server/internal/apperror"
	"github.com/sakif/sandbox-server/internal/auth"
	"github.com/sakif/sandbox-server/internal/metrics"
	"github.com/sakif/sandbox-server/internal/middleware"
	"github.com/sakif/sandbox-server/internal/model"
)

// MaxRequestBytes bounds a request body. Project files can be up to 1 MiB.
const MaxRequestBytes = 2 << 20

// Call is what a resolver gets to work with.
type Call struct {
	Ctx context.Context
	W   http.ResponseWriter
	R   *http.Request
	// Member is the authenticated member. It is never nil for protected
	// operations; for public ones it is set when a valid cookie came along.
	Member *model.Member
}

// Operation is one entry of the registry.
type Operation struct {
	// Protected operations run only for an authenticated member.
	Protected bool
	// Throttled operations draw from the per-IP rate limiter.
	Throttled bool

	newArgs func() any
	resolve func(c *Call, args any) (any, error)
}

// NoArgs is the argument type of operations that take none.
type NoArgs struct{}

// op builds an Operation whose resolver receives a decoded *A.
func op[A any](protected bool, resolve func(c *Call, args *A) (any, error)) Operation {
	return Operation{
		Protected: protected,
		newArgs:   func() any { return new(A) },
		resolve: func(c *Call, args any) (any, error) {
			return resolve(c, args.(*A))
		},
	}
}

func (o Operation) throttled() Operation {
	o.Throttled = true
	return o
}

// Registry maps operation names to their definitions. It is filled once at
// startup and only read afterwards.
type Registry map[string]Operation

// Register adds ops, panicking on a duplicate name: that is a wiring bug.
func (r Registry) Register(ops map[string]Operation) {
	for name, o := range ops {
		if _, dup := r[name]; dup {
			panic(fmt.Sprintf("handler: operation %q registered twice", name))
		}
		r[name] = o
	}
}

// request is the body of POST /graphql.
type request struct {
	OperationName string          `json:"operationName"`
	Variables     json.RawMessage `json:"variables"`
}

// Dispatcher serves POST /graphql. It must sit behind auth.Gate.
type Dispatcher struct {
	ops     Registry
	limiter *middleware.RateLimiter
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewDispatcher(ops Registry, limiter *middleware.RateLimiter, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{ops: ops, limiter: limiter, metrics: m, logger: logger}
}

// ServeHTTP decodes the request, runs the gate and limiter checks the
// operation asks for, and writes the envelope.
//
// HTTP: POST /graphql
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBytes)

	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, d.logger, "", apperror.ValidationFailed("body", "request body must be a JSON object"))
		return
	}

	name := req.OperationName
	result, err := d.dispatch(w, r, name, req.Variables)

	label := name
	if _, known := d.ops[name]; !known {
		label = "unknown" // keeps client-chosen names out of metric labels
	}
	d.metrics.ObserveOperation(label, apperror.Code(err), time.Since(start))
	if err != nil {
		writeError(w, d.logger, name, err)
		return
	}
	writeJSON(w, http.StatusOK, Response{Data: map[string]any{name: result}})
}

func (d *Dispatcher) dispatch(w http.ResponseWriter, r *http.Request, name string, vars json.RawMessage) (any, error) {
	o, ok := d.ops[name]
	if !ok {
		return nil, apperror.ValidationFailed("operationName", fmt.Sprintf("unknown operation %q", name))
	}

	if o.Throttled && !d.limiter.Allow(middleware.ClientIP(r)) {
		d.metrics.RateLimited(name)
		w.Header().Set("Retry-After", d.limiter.RetryAfter())
		return nil, apperror.RateLimited()
	}

	// The gate check comes before argument decoding: an anonymous caller
	// learns nothing about a protected operation's arguments.
	c := &Call{Ctx: r.Context(), W: w, R: r}
	if o.Protected {
		member, err := auth.Require(r.Context())
		if err != nil {
			return nil, err
		}
		c.Member = member
	} else if member, ok := auth.MemberFromContext(r.Context()); ok {
		c.Member = member
	}

	args := o.newArgs()
	if err := decodeArgs(vars, args); err != nil {
		return nil, err
	}
	return o.resolve(c, args)
}

// decodeArgs fills args from the variables object and checks its validate
// tags. Unknown variables are rejected rather than ignored.
func decodeArgs(vars json.RawMessage, args any) error {
	vars = bytes.TrimSpace(vars)
	if len(vars) == 0 || bytes.Equal(vars, []byte("null")) {
		vars = []byte("{}")
	}

	dec := json.NewDecoder(bytes.NewReader(vars))
	dec.DisallowUnknownFields()
	if err := dec.Decode(args); err != nil {
		return argsDecodeError(err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return apperror.ValidationFailed("variables", "variables must be a single JSON object")
	}

	if err := validate.Struct(args); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return apperror.ValidationFailed(fe.Field(), validationMessage(fe))
		}
		return fmt.Errorf("validating arguments: %w", err)
	}
	return nil
}

func argsDecodeError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return apperror.ValidationFailed(typeErr.Field, fmt.Sprintf("%s must be a %s", typeErr.Field, typeErr.Type.Kind()))
	}
	if field, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
		field = strings.Trim(field, `"`)
		return apperror.ValidationFailed(field, fmt.Sprintf("unknown argument %q", field))
	}
	return apperror.ValidationFailed("variables", "variables must be a JSON object")
}

var validate = newValidator()

// newValidator reports fields by their JSON names, which is what clients
// send.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "email":
		return "invalid email format"
	}
	return fmt.Sprintf("%s is invalid", fe.Field())
}
