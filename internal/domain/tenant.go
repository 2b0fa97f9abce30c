package domain

import "time"

// Tenant is an isolated owner of staking accounts. Billing, authentication
// and credential encryption live outside the core; the tenant only carries an
// opaque handle to its exchange credentials and its mirror document.
type Tenant struct {
	ID            string
	Email         string
	Enabled       bool
	CredentialRef string // opaque handle resolved by the exchange gateway
	MirrorDocID   string // mirror spreadsheet/document identifier
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
