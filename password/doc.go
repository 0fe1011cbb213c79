// Package password hashes and verifies passwords with Argon2id.
//
// Hashes are PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<key>
//
// Verification uses the parameters embedded in the hash. [Argon2.NeedsUpgrade]
// tells the caller when a stored hash is weaker than the current settings.
//
// The package never stores passwords and never logs them.
package password
