package filesync

import "errors"

var (
	// Transfer errors 🌐
	ErrDownload                   = errors.New("download failed")
	ErrUnsupportedManifestVersion = errors.New("unsupported remote manifest version")

	// Verification errors 🔒
	ErrIntegrity = errors.New("integrity check failed")

	// Local state errors 📒
	ErrManifestCorrupt = errors.New("local manifest unreadable")
)
