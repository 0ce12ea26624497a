// Package httpexec executes one rendered HTTP step and captures its
// request/response payloads, metrics, and context snapshot. HTTP error
// statuses are not failures here — only transport problems (timeouts,
// refused connections, DNS) are, and those return a *TransportError that
// keeps whatever partial data was captured. Payloads are redacted and
// size-capped before they leave this package.
package httpexec
