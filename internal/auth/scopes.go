package auth

// OAuth scopes understood by the compliance API.
const (
	ScopeComplianceWrite = "compliance:write"
	ScopeComplianceRead  = "compliance:read"
)
