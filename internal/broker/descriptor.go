package broker

// AuthType mirrors the Connection Descriptor's authType enum (spec §3).
type AuthType string

const (
	AuthPassword AuthType = "password"
	AuthKey      AuthType = "key"
)

// Descriptor is the decrypted form of a Connection Descriptor, held by the
// broker only for as long as credential minimization allows (spec §4.5):
// from the moment it's dereferenced until SSH succeeds or fails, then only
// what's needed to support a reconnect, for no longer than the session's
// own lifetime.
type Descriptor struct {
	ConnectionID string
	Host         string
	Port         int
	Username     string
	AuthType     AuthType
	Password     string // present when AuthType == AuthPassword
	PrivateKey   string // PEM, present when AuthType == AuthKey
	Passphrase   string // optional, decrypts PrivateKey if it's encrypted
}

// Scrub zeroes the secret fields in place. Called when a session no longer
// needs to support reconnect (closed/errored) so decrypted credentials don't
// outlive the session.
func (d *Descriptor) Scrub() {
	d.Password = ""
	d.PrivateKey = ""
	d.Passphrase = ""
}
