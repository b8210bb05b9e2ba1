// Package httputil holds the JSON response helpers shared by the API
// handlers. All error bodies use the ErrorResponse envelope.
package httputil
