package auth

import (
	"fmt"

	"github.com/nerrad567/gray-motion-core/internal/infrastructure/config"
)

// dummyHash is verified against when the username is unknown so that a
// failed login takes the same time either way.
const dummyHash = "$argon2id$v=19$m=65536,t=3,p=1$c29tZXNhbHRzb21lc2FsdA$2mH5yQ3n0yTtYt0E5dV4mD7Yb6bqT0R8hC4gqk0k3sE"

// Directory holds the operator accounts loaded from config.
//
// Thread Safety: read-only after construction.
type Directory struct {
	operators map[string]Operator
}

// NewDirectory builds a directory from config.
//
// Returns:
//   - *Directory: ready for Authenticate
//   - error: ErrInvalidOperator for a missing username, duplicate or unknown role
func NewDirectory(accounts []config.OperatorConfig) (*Directory, error) {
	d := &Directory{operators: make(map[string]Operator, len(accounts))}
	for _, a := range accounts {
		role := Role(a.Role)
		switch {
		case a.Username == "":
			return nil, fmt.Errorf("%w: username is required", ErrInvalidOperator)
		case !IsValidRole(role):
			return nil, fmt.Errorf("%w: %s has unknown role %q", ErrInvalidOperator, a.Username, a.Role)
		case d.operators[a.Username].Username != "":
			return nil, fmt.Errorf("%w: duplicate username %s", ErrInvalidOperator, a.Username)
		}
		d.operators[a.Username] = Operator{Username: a.Username, PasswordHash: a.PasswordHash, Role: role}
	}
	return d, nil
}

// Len returns the number of accounts.
func (d *Directory) Len() int {
	return len(d.operators)
}

// Authenticate checks a username and password.
func (d *Directory) Authenticate(username, password string) (Operator, error) {
	op, ok := d.operators[username]
	hash := op.PasswordHash
	if !ok {
		hash = dummyHash
	}

	match, err := VerifyPassword(password, hash)
	if err != nil || !ok || !match {
		return Operator{}, ErrInvalidCredentials
	}
	return op, nil
}
