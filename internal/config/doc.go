// Package config provides centralized configuration management for Casevault.
//
// # Configuration Sources
//
// Configuration is assembled in order of increasing precedence:
//
//	1. Default values (Default)
//	2. casevault.yaml (cwd, configs/, or the data root; CASEVAULT_CONFIG overrides the lookup)
//	3. Environment variables (CASEVAULT_*)
//
// # Environment Variables
//
// Nested sections map to underscore-separated names:
//
//	CASEVAULT_SERVER_PORT=7420
//	CASEVAULT_LOCKOUT_THRESHOLD=5
//	CASEVAULT_LOCKOUT_BASE_DELAY=5m
//	CASEVAULT_KDF_MEMORY_KIB=16384
//	CASEVAULT_BIOMETRIC_TIMEOUT=60s
//	CASEVAULT_PATHS_ROOT=/var/lib/casevault
//
// # Paths
//
// GetPaths is the single source of truth for on-disk locations. Everything
// lives under one root so the vault, the license state and the lockout state
// can be backed up or wiped together.
package config
