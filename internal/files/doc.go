// Package files provides the on-disk primitives shared by the lockout,
// license and vault stores.
//
// Every write is atomic (temp file, fsync, rename) and private (0600).
// Transaction groups several replacements so a multi-file update such as a
// vault re-key either lands completely or leaves the previous files intact.
// Wipe zero-overwrites before unlinking.
//
// Example usage:
//
//	var tx files.Transaction
//	if err := tx.Stage(paths.VaultDataFile, data); err != nil {
//	    tx.Abort()
//	    return err
//	}
//	return tx.Commit()
package files
