// Package config loads the sl-pkg global configuration.
//
// # Grammar
//
// The configuration file is line oriented. Each line is a comment (#...),
// blank, or KEY=VALUE. Values may be quoted with matching single or double
// quotes, and KEY=(a b c) binds a list. A key written as env:KEY is bound and
// also exported to every hook environment.
//
// The interpreter never executes anything. Any value containing $(, a
// backtick, ;, & or | is rejected, and the first rejected line aborts the
// whole load: Parse returns no bindings at all in that case.
//
// # Settings
//
// LoadSettings resolves bindings into a Settings value. ${NAME} references
// are expanded from earlier bindings and then from the process environment.
// Settings are validated with struct tags (go-playground/validator) and with
// a CUE schema registered in SchemaRegistry.
//
//	path, err := config.Locate(config.SystemConfigPath, config.LocalConfigPath)
//	if err != nil {
//	    return err
//	}
//	settings, err := config.LoadSettings(path)
package config
