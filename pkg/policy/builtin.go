package policy

// BuiltinPolicies returns the policies every engine starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		sourceSchemePolicy(),
		plaintextTransportPolicy(),
		packageNamePolicy(),
		metapackageHooksPolicy(),
	}
}

// sourceSchemePolicy restricts where sources and patches may come from.
func sourceSchemePolicy() Policy {
	return Policy{
		Name:        "source-scheme",
		Description: "Sources and patches must use https, http, file or sftp (git packages may also use git or ssh)",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package slpkg.policies.source

import rego.v1

allowed := {"https", "http", "file", "sftp"}

git_allowed := allowed | {"git", "ssh"}

scheme(url) := lower(split(url, "://")[0]) if contains(url, "://")

scheme(url) := "" if not contains(url, "://")

deny contains violation if {
	url := input.package.url
	url != ""
	not input.package.git
	not allowed[scheme(url)]
	violation := {
		"message": sprintf("source URL %q uses a disallowed scheme", [url]),
		"severity": "error",
	}
}

deny contains violation if {
	url := input.package.url
	input.package.git
	not git_allowed[scheme(url)]
	violation := {
		"message": sprintf("repository URL %q uses a disallowed scheme", [url]),
		"severity": "error",
	}
}

deny contains violation if {
	some patch in input.package.patches
	not allowed[scheme(patch)]
	violation := {
		"message": sprintf("patch URL %q uses a disallowed scheme", [patch]),
		"severity": "error",
	}
}
`,
	}
}

// plaintextTransportPolicy flags unauthenticated downloads.
func plaintextTransportPolicy() Policy {
	return Policy{
		Name:        "plaintext-transport",
		Description: "Warns when a source or patch is fetched over plain http",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package slpkg.policies.transport

import rego.v1

deny contains violation if {
	some url in array.concat([input.package.url], input.package.patches)
	startswith(lower(url), "http://")
	violation := {
		"message": sprintf("%q is fetched without TLS", [url]),
		"severity": "warning",
	}
}
`,
	}
}

// packageNamePolicy enforces the package naming rule inside manifests.
func packageNamePolicy() Policy {
	return Policy{
		Name:        "package-name",
		Description: "Package and dependency names must be lowercase letters, digits, + and -",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package slpkg.policies.naming

import rego.v1

deny contains violation if {
	not regex.match("^[a-z0-9][a-z0-9+-]*$", input.package.name)
	violation := {
		"message": sprintf("package name %q is not valid", [input.package.name]),
		"severity": "error",
	}
}

deny contains violation if {
	some dep in input.package.depends
	not regex.match("^[a-z0-9][a-z0-9+-]*$", dep)
	violation := {
		"message": sprintf("dependency name %q is not valid", [dep]),
		"severity": "error",
	}
}
`,
	}
}

// metapackageHooksPolicy warns about hooks that will never run.
func metapackageHooksPolicy() Policy {
	return Policy{
		Name:        "metapackage-hooks",
		Description: "Warns when a metapackage defines build or install hooks that are never invoked",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package slpkg.policies.metapackage

import rego.v1

skipped := {"prepare", "build", "do_install", "postinst"}

deny contains violation if {
	input.package.metapackage
	some hook in input.package.hooks
	skipped[hook]
	violation := {
		"message": sprintf("metapackage defines %s, which is never run", [hook]),
		"severity": "warning",
	}
}
`,
	}
}
