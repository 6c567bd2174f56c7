package website

import "strings"

// DetectProjectType classifies an uploaded file set when the ingestion
// service did not supply an explicit type. Classification looks at the
// manifests only, never at the orchestrator's own filesystem.
//
// Rules, most specific first:
//   - package.json with both a react dependency and a vite dependency
//     (or a vite config file) → react-vite
//   - package.json with a react dependency → react
//   - package.json with a vite dependency or a vite config file → vite
//   - anything else → static
func DetectProjectType(files []FileUpload) ProjectType {
	var pkgJSON string
	hasViteConfig := false

	for _, f := range files {
		switch baseName(f.Name) {
		case "package.json":
			pkgJSON = f.Content
		case "vite.config.js", "vite.config.ts", "vite.config.mjs":
			hasViteConfig = true
		}
	}

	if pkgJSON == "" {
		return TypeStatic
	}

	hasReact := strings.Contains(pkgJSON, `"react"`)
	hasVite := hasViteConfig || strings.Contains(pkgJSON, `"vite"`)

	switch {
	case hasReact && hasVite:
		return TypeReactVite
	case hasReact:
		return TypeReact
	case hasVite:
		return TypeVite
	default:
		return TypeStatic
	}
}

// IndexFile returns the name of the entry file served for static previews,
// preferring index.html at the project root.
func IndexFile(files []File) (string, bool) {
	for _, f := range files {
		if baseName(f.Name) == "index.html" {
			return f.Name, true
		}
	}
	for _, f := range files {
		if strings.HasSuffix(f.Name, ".html") {
			return f.Name, true
		}
	}
	return "", false
}

func baseName(name string) string {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return name
}
