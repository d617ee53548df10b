// Copyright (c) 2026 Nlaak Studios (https://nlaak.com)
// Author: Andrew Donelson (https://www.linkedin.com/in/andrew-donelson/)
//
// version.go - build metadata stamped at link time, reported when a Store
// opens next to the struct-blob envelope version it writes.

package attrstore

import "github.com/AndrewDonelson/attrstore/internal/codec"

// Link-time metadata. Unstamped builds report the zero date and "dev".
//
//	go build -ldflags "-X 'github.com/AndrewDonelson/attrstore.BuildDate=2026.10.18-0930' \
//	                   -X 'github.com/AndrewDonelson/attrstore.BuildEnv=prod'"
var (
	BuildDate = "0000.00.00-0000" // YYYY.MM.DD-HHMM, 24-hour clock
	BuildEnv  = "dev"             // dev | qa | prod
)

// Version returns "YYYY.MM.DD-HHMM-env".
func Version() string {
	return BuildDate + "-" + BuildEnv
}

// versionFields are the key/value pairs logged when a Store opens.
func versionFields() []any {
	return []any{"version", Version(), "envelope", codec.EnvelopeV1}
}
