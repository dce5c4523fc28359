// Package backup implements the portable encrypted backup format.
//
//	{"v":1,"kdf":{"alg":"argon2id","m":16384,"t":3,"p":1},
//	 "salt":"<hex>","iv":"<hex>","authTag":"<hex>","data":"<hex>"}
//
// The key is Argon2id over an export-time password and a fresh 32-byte
// salt; the payload is AES-256-GCM with a 12-byte IV and the fixed
// associated data "casevault-backup-v1". A missing kdf object means the
// version 1 defaults. Backups are independent of the vault key and of the
// license: the codec never reads or writes live state.
package backup
