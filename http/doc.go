// Package http executes authenticated calls against the Mammoth REST API.
//
// Every call carries the X-API-KEY, X-API-SECRET and User-Agent headers set on
// the Builder, plus X-Request-ID and traceparent headers that stay the same
// across retries of one call.
//
// Retries
//   - Only transport failures are retried: timeouts, refused or reset
//     connections, other network errors and failures reading the body.
//   - A response that arrived is never retried, whatever its status.
//   - Controlled via Builder.WithRetries(maxRetries, retryDelay); a call makes
//     at most maxRetries+1 attempts.
//
// Backoff
//   - After failed attempt n (from 0) the client sleeps retryDelay * 2^n,
//     through the configured clock.Clock.
//
// Errors
//   - 401 is an apierr.KindAuth error.
//   - Any other non-2xx status, an unparseable 2xx body, and an exhausted
//     retry loop are apierr.KindAPI errors.
//   - 204 and empty 2xx bodies yield a Response with an empty Body.
//
// Multipart bodies are rebuilt from FilePart.Open on every attempt.
package http
