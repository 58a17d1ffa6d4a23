package policy

// GetBuiltinPolicies returns the policies shipped with the engine.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		{
			Name:        "editable-scope",
			Description: "File mutations must stay inside the editable project scope",
			Severity:    SeverityError,
			Enabled:     true,
			Rego:        builtinScopePolicy,
		},
		{
			Name:        "package-allowlist",
			Description: "Dependency installs are limited to the approved package set",
			Severity:    SeverityError,
			Enabled:     true,
			Rego:        builtinPackagePolicy,
		},
	}
}

const builtinScopePolicy = `
package weld.scope

import rego.v1

editable_prefixes := ["app/", "components/", "lib/", "hooks/", "styles/", "public/"]

editable_files := {"package.json", "tailwind.config.ts", "next.config.ts", "tsconfig.json"}

path_allowed if {
	some prefix in editable_prefixes
	startswith(input.path, prefix)
}

path_allowed if {
	input.path in editable_files
}

deny contains violation if {
	input.operation != "install"
	not path_allowed
	violation := {
		"message": sprintf("path %q is outside the editable scope", [input.path]),
		"severity": "error",
	}
}

deny contains violation if {
	contains(input.path, "..")
	violation := {
		"message": sprintf("path %q attempts directory traversal", [input.path]),
		"severity": "critical",
	}
}

deny contains violation if {
	startswith(input.path, "node_modules/")
	violation := {
		"message": "mutations under node_modules are not permitted",
		"severity": "error",
	}
}
`

const builtinPackagePolicy = `
package weld.packages

import rego.v1

allowed_packages := {
	"react",
	"react-dom",
	"next",
	"tailwindcss",
	"clsx",
	"tailwind-merge",
	"class-variance-authority",
	"lucide-react",
	"framer-motion",
	"zod",
	"date-fns",
	"recharts",
	"sonner",
	"zustand",
	"@radix-ui/react-dialog",
	"@radix-ui/react-dropdown-menu",
	"@radix-ui/react-popover",
	"@radix-ui/react-select",
	"@radix-ui/react-slot",
	"@radix-ui/react-tabs",
	"@radix-ui/react-tooltip",
}

deny contains violation if {
	input.operation == "install"
	some pkg in input.packages
	not pkg in allowed_packages
	violation := {
		"message": sprintf("package %q is not on the allowlist", [pkg]),
		"severity": "error",
	}
}
`
