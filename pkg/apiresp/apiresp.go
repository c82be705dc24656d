// Package apiresp defines the JSON envelope returned by the caller-facing
// endpoints. Machine-readable hints (needsConnection, needsReconnect) let the
// UI distinguish "never linked" from "linked but expired" without parsing
// error strings.
package apiresp

// Envelope is the uniform response body for the device-integration API.
type Envelope struct {
	Success           bool        `json:"success"`
	Data              interface{} `json:"data,omitempty"`
	AuthURL           string      `json:"authUrl,omitempty"`
	State             string      `json:"state,omitempty"`
	Error             string      `json:"error,omitempty"`
	Warning           string      `json:"warning,omitempty"`
	NeedsConnection   bool        `json:"needsConnection,omitempty"`
	NeedsReconnect    bool        `json:"needsReconnect,omitempty"`
	AlreadySubscribed bool        `json:"alreadySubscribed,omitempty"`
	VendorStatus      int         `json:"vendorStatus,omitempty"`
}

// OK wraps a payload in a successful envelope.
func OK(data interface{}) Envelope {
	return Envelope{Success: true, Data: data}
}

// Err wraps an error message in a failed envelope.
func Err(msg string) Envelope {
	return Envelope{Success: false, Error: msg}
}
