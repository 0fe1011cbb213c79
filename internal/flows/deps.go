package flows

// Deps groups flow dependency sets. The root engine builds these once and
// delegates request methods to the matching flow.
type Deps struct {
	Authenticate AuthenticateDeps
	Refresh      RefreshDeps
	Logout       LogoutDeps
}
