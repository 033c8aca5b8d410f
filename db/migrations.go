// Package db carries the SQL schema shipped with the service binary.
package db

import "embed"

// Migrations holds the ordered *.up.sql / *.down.sql files.
//
//go:embed migrations/*.sql
var Migrations embed.FS
