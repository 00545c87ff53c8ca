package conn

import "github.com/sqlstream/tds-go/pkg/tds"

// Authenticator populates the credential-bearing fields of a Login7
// request. The default path is plain SQL authentication; a pluggable
// Authenticator lets a caller supply Azure AD token-based auth or other
// federated schemes without this package knowing their wire details,
// via the Login7 feature-extension block.
type Authenticator interface {
	// Authenticate fills in UserName/Password and/or Extensions on req.
	Authenticate(req *tds.Login7Request) error
}

// SQLAuthenticator is the default Authenticator: plain username/password
// SQL login, no feature extensions.
type SQLAuthenticator struct {
	User     string
	Password string
}

func (a *SQLAuthenticator) Authenticate(req *tds.Login7Request) error {
	req.UserName = a.User
	req.Password = a.Password
	return nil
}
