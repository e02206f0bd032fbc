// Package appfs embeds the static files shipped with the binaries.
package appfs

import "embed"

//go:embed assets migrations templates
var FS embed.FS

const (
	MigrationsDir       = "migrations"
	EmailTemplatesDir   = "templates/email"
	CommonPasswordsFile = "assets/common-passwords.txt.gz"
)
