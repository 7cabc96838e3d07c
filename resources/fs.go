package resources

import "embed"

//go:embed migrations captcha
var FS embed.FS
