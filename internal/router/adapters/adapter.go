package adapters

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/af-corp/relay-gateway/internal/config"
	"github.com/af-corp/relay-gateway/internal/types"
)

// ErrNoVariants is returned by an adapter whose provider sequence entry lists no variants.
var ErrNoVariants = errors.New("no model variants configured")

// ErrNoUsableVariants is returned when every configured variant was skipped.
var ErrNoUsableVariants = errors.New("no usable variants")

// ProviderAdapter is what the orchestrator drives. A single Complete call runs
// the adapter's whole variant loop and returns either a response or an
// *UpstreamError carrying the classified outcome.
type ProviderAdapter interface {
	Name() string
	Complete(ctx context.Context, req *types.UnifiedRequest, observe Observer) (*types.UnifiedResponse, error)
}

// Observer is notified before each variant attempt. It must not block.
type Observer func(v config.Variant)

// Backend is implemented once per wire-protocol family.
type Backend interface {
	TranslateRequest(req *types.UnifiedRequest, v config.Variant) ([]byte, error)
	Execute(ctx context.Context, payload []byte, v config.Variant, stream bool) (*RawResult, error)
	// TranslateResponse never fails; undecodable payloads become a processing-error response.
	TranslateResponse(raw *RawResult, req *types.UnifiedRequest, v config.Variant) *types.UnifiedResponse
	Classify(err error) types.FailureClass
}

// variantChecker is implemented by backends that can reject a variant before
// any request is made, e.g. a bedrock variant with no model id.
type variantChecker interface {
	CheckVariant(v config.Variant) error
}

// RawResult is an unparsed backend reply: either a complete body or the
// ordered payloads of a streamed reply.
type RawResult struct {
	Body   []byte
	Events [][]byte
}

// Streamed reports whether the result came from a streaming call.
func (r *RawResult) Streamed() bool { return r.Events != nil }

// UpstreamError is the only error type adapters return to the orchestrator.
type UpstreamError struct {
	Provider string
	Variant  string
	Class    types.FailureClass
	Err      error
}

func (e *UpstreamError) Error() string {
	if e.Variant == "" {
		return fmt.Sprintf("%s (%s): %v", e.Provider, e.Class, e.Err)
	}
	return fmt.Sprintf("%s/%s (%s): %v", e.Provider, e.Variant, e.Class, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// ClassOf extracts the failure class from an adapter error. Errors that did
// not come from an adapter are Other.
func ClassOf(err error) types.FailureClass {
	var uerr *UpstreamError
	if errors.As(err, &uerr) {
		return uerr.Class
	}
	return types.FailureOther
}

// Options tune every adapter built by the registry.
type Options struct {
	// AttemptTimeout bounds a single variant attempt. Zero means no deadline.
	AttemptTimeout time.Duration
}

// VariantAdapter binds a Backend to the ordered variants of one
// provider:model routing entry.
type VariantAdapter struct {
	name     string
	backend  Backend
	variants []config.Variant
	opts     Options
}

func NewVariantAdapter(name string, backend Backend, variants []config.Variant, opts Options) *VariantAdapter {
	return &VariantAdapter{
		name:     name,
		backend:  backend,
		variants: append([]config.Variant(nil), variants...),
		opts:     opts,
	}
}

func (a *VariantAdapter) Name() string { return a.name }

// Variants returns a copy of the configured variant list.
func (a *VariantAdapter) Variants() []config.Variant {
	return append([]config.Variant(nil), a.variants...)
}

// Complete tries each variant in order. RateLimited, BadRequest and Other
// failures move on to the next variant; AuthFailed returns at once. When the
// list runs out the last failure is reported, with BadRequest widened to Other.
func (a *VariantAdapter) Complete(ctx context.Context, req *types.UnifiedRequest, observe Observer) (*types.UnifiedResponse, error) {
	if len(a.variants) == 0 {
		return nil, &UpstreamError{Provider: a.name, Class: types.FailureOther, Err: ErrNoVariants}
	}

	var last *UpstreamError
	attempted := false
	for _, v := range a.variants {
		if checker, ok := a.backend.(variantChecker); ok {
			if err := checker.CheckVariant(v); err != nil {
				slog.Warn("skipping unusable variant", "provider", a.name, "variant", v.Label(), "error", err)
				if !attempted {
					last = &UpstreamError{Provider: a.name, Variant: v.Label(), Class: types.FailureOther, Err: err}
				}
				continue
			}
		}

		if observe != nil {
			observe(v)
		}
		attempted = true

		resp, err := a.attempt(ctx, req, v)
		if err == nil {
			resp.ServedModel = v.Model
			resp.ServedRegion = v.Region
			return resp, nil
		}

		class := a.backend.Classify(err)
		if ctx.Err() != nil {
			class = types.FailureOther
		}
		last = &UpstreamError{Provider: a.name, Variant: v.Label(), Class: class, Err: err}
		slog.Warn("variant attempt failed",
			"provider", a.name,
			"variant", v.Label(),
			"class", string(class),
			"error", err,
		)

		if class.Aborts() || ctx.Err() != nil {
			return nil, last
		}
	}

	if !attempted {
		last.Err = fmt.Errorf("%w: %w", ErrNoUsableVariants, last.Err)
		last.Variant = ""
	}
	last.Class = last.Class.Exhausted()
	return nil, last
}

func (a *VariantAdapter) attempt(ctx context.Context, req *types.UnifiedRequest, v config.Variant) (*types.UnifiedResponse, error) {
	if a.opts.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.AttemptTimeout)
		defer cancel()
	}

	payload, err := a.backend.TranslateRequest(req, v)
	if err != nil {
		return nil, fmt.Errorf("translate request: %w", err)
	}
	raw, err := a.backend.Execute(ctx, payload, v, req.Stream)
	if err != nil {
		return nil, err
	}
	return a.backend.TranslateResponse(raw, req, v), nil
}
