// Package policy evaluates Open Policy Agent (OPA) trust policies against
// evaluated package manifests before any of their hooks run.
//
// Every policy is a Rego module whose deny set yields violations. A
// violation is either a string or an object with message and severity
// fields; error and critical severities block the package, anything else is
// logged as a warning.
//
// Built-in policies restrict source and patch URL schemes, flag plain http
// downloads, check package and dependency names and warn about metapackages
// that define hooks which never run. Extra policies are loaded from
// POLICY_DIR:
//
//	# Only accept sources from our own mirror.
//	# severity: error
//	package site.mirror
//
//	import rego.v1
//
//	deny contains msg if {
//		not startswith(input.package.url, "https://src.example.org/")
//		msg := sprintf("%s is not mirrored", [input.package.url])
//	}
//
// The input document has two fields: package (name, version,
// absolute_version, url, patches, depends, metapackage, git, hooks) and
// context (operation, mirror, trust_all, dry_run).
package policy
