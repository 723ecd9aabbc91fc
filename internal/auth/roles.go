package auth

// Officer role constants.
const (
	RoleClerk    = "clerk"
	RoleScrutiny = "scrutiny"
	RoleApprover = "approver"
	RoleAccounts = "accounts"
)

// AllOfficerRoles returns all valid officer roles.
func AllOfficerRoles() []string {
	return []string{RoleClerk, RoleScrutiny, RoleApprover, RoleAccounts}
}

// FeeRoles returns roles that can assess fees and raise demands.
func FeeRoles() []string {
	return []string{RoleScrutiny, RoleApprover, RoleAccounts}
}

// RefundRoles returns roles that can open and decide refunds.
func RefundRoles() []string {
	return []string{RoleApprover, RoleAccounts}
}
