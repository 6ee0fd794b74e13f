// Package auth provides operator authentication and authorisation for the
// motion core's command surface.
//
// It implements a 3-tier role model (viewer → operator → admin) with:
//   - Argon2id password hashing for operator accounts from config
//   - Short-lived HS256 JWT access tokens carrying the role
//   - Static role-permission mapping (compile-time, no database lookup)
//
// Releasing an emergency stop requires the safety:reset permission, held
// by operator and admin.
package auth
