package domain

import "strings"

// AccountType classifies an account the way the banking API reports it.
type AccountType string

const (
	AccountTypeDepository AccountType = "depository"
	AccountTypeCredit     AccountType = "credit"
	AccountTypeLoan       AccountType = "loan"
	AccountTypeInvestment AccountType = "investment"
	AccountTypeOther      AccountType = "other"
)

// ParseAccountType normalizes a raw account type string. Unknown values
// map to AccountTypeOther rather than failing the record.
func ParseAccountType(s string) AccountType {
	switch AccountType(strings.ToLower(strings.TrimSpace(s))) {
	case AccountTypeDepository:
		return AccountTypeDepository
	case AccountTypeCredit:
		return AccountTypeCredit
	case AccountTypeLoan:
		return AccountTypeLoan
	case AccountTypeInvestment:
		return AccountTypeInvestment
	default:
		return AccountTypeOther
	}
}

// Account is a bank account node. Accounts are created and refreshed by
// ingestion upserts and never deleted outside an explicit admin wipe.
type Account struct {
	AccountID       string // unique key
	Name            string
	Type            AccountType
	Subtype         string
	InstitutionName string
	Mask            string // last 4 digits, optional
}

// Validate checks the invariants an account must satisfy before upsert.
func (a *Account) Validate() error {
	if a.AccountID == "" {
		return &MalformedRecordError{Field: "account_id", Reason: "must not be empty"}
	}
	return nil
}
