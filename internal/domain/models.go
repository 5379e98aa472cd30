package domain

import "encoding/json"

// NewAccountRequest carries the optional caller overrides for provisioning.
// A nil or empty field means "not supplied".
type NewAccountRequest struct {
	Local    *string `json:"local"`
	Password *string `json:"password"`
	Domain   *string `json:"domain"`
}

// TokenRequest is the body of POST /api/temp-mail/token.
type TokenRequest struct {
	Address  *string `json:"address" validate:"required"`
	Password *string `json:"password" validate:"required"`
}

// AccountBundle is returned after a successful provisioning flow.
type AccountBundle struct {
	Address  string          `json:"address"`
	Password string          `json:"password"`
	Token    string          `json:"token"`
	Account  json.RawMessage `json:"account"`
}

// Stats are the operational counters kept by the optional stats store.
type Stats struct {
	Provisioned      int64            `json:"provisioned"`
	Conflicts        int64            `json:"conflicts"`
	Failures         int64            `json:"failures"`
	Domains          map[string]int64 `json:"domains"`
	FailuresByStatus map[string]int64 `json:"failuresByStatus"`
}
