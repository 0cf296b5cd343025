// Package password hashes new passwords with argon2id and still verifies
// legacy bcrypt hashes imported from older portal databases.
//
// Hashes use the PHC string form:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Stored parameters below the package floor are rejected as malformed.
// [Hasher.NeedsRehash] flags bcrypt hashes and weaker argon2id hashes so the
// caller can re-hash after the next successful login. The package never
// stores or logs passwords.
package password
