package authz

// MergeEngine combines the source results into an AuthorizationContext
type MergeEngine struct {
	catalog *PermissionCatalog
}

// NewMergeEngine creates a merge engine. A nil catalog uses the embedded one.
func NewMergeEngine(catalog *PermissionCatalog) *MergeEngine {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &MergeEngine{catalog: catalog}
}

// Merge unions the database and token sets. Only when that union is empty, an account was
// resolved and its role is administrative does the catalog entry become the effective set.
func (m *MergeEngine) Merge(resolved ResolvedIdentity, db, token PermissionSet) *AuthorizationContext {
	effective := db.Union(token)
	provenance := Provenance{
		FromToken:    token.Len() > 0,
		FromDatabase: db.Len() > 0,
	}

	var accountID *int64
	var roleCode string
	if account := resolved.Account; account != nil {
		id := account.AccountID
		accountID = &id
		roleCode = account.RoleCode
	}

	if effective.Len() == 0 && accountID != nil {
		if fallback, ok := m.catalog.FallbackFor(roleCode); ok {
			effective = fallback
			provenance.FromFallback = true
		}
	}

	return NewAuthorizationContext(accountID, roleCode, effective, provenance)
}
