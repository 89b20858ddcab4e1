package identity

import "context"

// Directory is the narrow contract this subsystem holds against the user
// store of record. The directory owns account lifecycle and the
// permissions-version counter; this service only reads.
type Directory interface {
	FindByID(ctx context.Context, id string) (*Identity, error)
	FindByEmail(ctx context.Context, email string) (*Identity, error)

	// PermissionsVersion returns the current counter for the subject. A
	// non-nil error means the caller must fail closed: token verification
	// cannot optimistically succeed when the directory is unreachable.
	PermissionsVersion(ctx context.Context, id string) (int64, error)

	// Credentials returns the identity together with its stored password
	// hash, used only by the login path.
	Credentials(ctx context.Context, email string) (*Identity, string, error)
}
