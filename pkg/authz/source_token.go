package authz

// TokenPermissionSource reads permissions carried as claims on the assertion
type TokenPermissionSource struct{}

// Extract returns a copy of the claimed permissions. It never fails.
func (TokenPermissionSource) Extract(assertion *IdentityAssertion) PermissionSet {
	if assertion == nil {
		return PermissionSet{}
	}
	return assertion.ClaimedPermissions.Clone()
}
