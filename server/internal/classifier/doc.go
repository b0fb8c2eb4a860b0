// Package classifier calls the external air-quality scoring function.
//
// Two backends implement Classifier: HTTP (POST to a JSON endpoint) and
// SageMaker (InvokeEndpoint on a hosted model). Both validate the five
// attributes first (ErrMissingAttributes) and report every call failure as
// ErrUnavailable. Quality labels are resolved through Labels into the closed
// Category set; an unknown label is a failure, never a default.
//
// NewBreaker wraps a Classifier with a consecutive-failure circuit breaker.
package classifier
