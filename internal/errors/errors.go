// Package errors provides the structured error type shared across the
// indexing core: watcher, chunker, embedding pipeline, quantizers, and the
// persistent vector store all report failures as a *CoreError so callers
// can branch on Kind instead of parsing messages.
package errors

import "fmt"

// Kind classifies a CoreError into one of the core's recognized failure
// modes. Each kind carries its own retry/propagation policy, documented on
// the constants below.
type Kind string

const (
	// Configuration: a required setting is absent or invalid (missing API
	// key, mis-sized PQ parameters). Fatal at construction.
	Configuration Kind = "Configuration"
	// Parse: tokenizer/parser produced no usable output. Never fatal at the
	// file level — callers fall back to the regex tokenizer or line chunker.
	Parse Kind = "Parse"
	// ProviderTransport: network error or timeout talking to the embedding
	// provider. Retried with backoff, then bubbled up; still charged to the
	// rate limiter.
	ProviderTransport Kind = "Provider.Transport"
	// ProviderProtocol: non-2xx response or an unparseable body.
	ProviderProtocol Kind = "Provider.Protocol"
	// ProviderRateLimit: the provider itself rejected the call as rate
	// limited (HTTP 429 or equivalent). Backed off and retried, never
	// treated as ProviderProtocol.
	ProviderRateLimit Kind = "Provider.RateLimit"
	// StorageIntegrity: version mismatch or corrupt header on load. The load
	// fails outright; callers may fall back to initializing a fresh store.
	StorageIntegrity Kind = "Storage.Integrity"
	// StorageIO: a write or rename failed. The save is aborted; the
	// on-disk state is left exactly as it was.
	StorageIO Kind = "Storage.IO"
	// QuantizerState: encode or decode attempted before Train. A programmer
	// error, not a recoverable condition.
	QuantizerState Kind = "Quantizer.State"
	// WatcherDisconnect: the underlying filesystem event channel closed.
	// The watch loop exits cleanly.
	WatcherDisconnect Kind = "Watcher.Disconnect"
)

// retryable reports whether errors of this kind are, by policy, worth
// retrying at the call site that produced them.
func (k Kind) retryable() bool {
	switch k {
	case ProviderTransport, ProviderProtocol, ProviderRateLimit:
		return true
	default:
		return false
	}
}

// CoreError is the structured error type returned by every package in the
// core pipeline.
type CoreError struct {
	Kind      Kind
	Message   string
	Cause     error
	Retryable bool
	Details   map[string]any
}

// Error implements the error interface.
func (e *CoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/errors.As support.
func (e *CoreError) Unwrap() error {
	return e.Cause
}

// Is matches another CoreError by Kind so callers can write
// errors.Is(err, errors.New(errors.StorageIntegrity, "", nil)).
func (e *CoreError) Is(target error) bool {
	t, ok := target.(*CoreError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithDetail attaches a key-value detail and returns the error for chaining.
func (e *CoreError) WithDetail(key string, value any) *CoreError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New builds a CoreError of the given kind. Retryable is derived from Kind
// unless overridden with WithDetail-style chaining is not applicable here;
// use WithRetryable for the rare case a kind's default policy doesn't fit.
func New(kind Kind, message string, cause error) *CoreError {
	return &CoreError{
		Kind:      kind,
		Message:   message,
		Cause:     cause,
		Retryable: kind.retryable(),
	}
}

// WithRetryable overrides the kind's default retry policy.
func (e *CoreError) WithRetryable(retryable bool) *CoreError {
	e.Retryable = retryable
	return e
}

func Wrap(kind Kind, err error) *CoreError {
	if err == nil {
		return nil
	}
	return New(kind, err.Error(), err)
}

// Convenience constructors, one per kind, mirroring the policy table.

func NewConfiguration(message string, cause error) *CoreError {
	return New(Configuration, message, cause)
}

func NewParse(message string, cause error) *CoreError {
	return New(Parse, message, cause)
}

func NewProviderTransport(message string, cause error) *CoreError {
	return New(ProviderTransport, message, cause)
}

func NewProviderProtocol(message string, cause error) *CoreError {
	return New(ProviderProtocol, message, cause)
}

func NewProviderRateLimit(message string, cause error) *CoreError {
	return New(ProviderRateLimit, message, cause)
}

func NewStorageIntegrity(message string, cause error) *CoreError {
	return New(StorageIntegrity, message, cause)
}

func NewStorageIO(message string, cause error) *CoreError {
	return New(StorageIO, message, cause)
}

func NewQuantizerState(message string) *CoreError {
	return New(QuantizerState, message, nil)
}

func NewWatcherDisconnect(message string) *CoreError {
	return New(WatcherDisconnect, message, nil)
}

// IsRetryable reports whether err is a CoreError whose policy allows retry.
func IsRetryable(err error) bool {
	var ce *CoreError
	if as(err, &ce) {
		return ce.Retryable
	}
	return false
}

// KindOf extracts the Kind of err, or the empty Kind if err is not a
// CoreError.
func KindOf(err error) Kind {
	var ce *CoreError
	if as(err, &ce) {
		return ce.Kind
	}
	return ""
}

// as is a tiny indirection over errors.As so this file doesn't need to name
// the standard library package "errors" twice in the same scope as our own
// package name.
func as(err error, target **CoreError) bool {
	for err != nil {
		if ce, ok := err.(*CoreError); ok {
			*target = ce
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
