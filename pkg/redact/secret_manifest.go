package redact

import (
	"bytes"
	"encoding/json"
	"io"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// MaskedSecretValue replaces data/stringData values of Kubernetes Secret
// manifests found in evidence text (operator logs frequently dump them).
const MaskedSecretValue = "[REDACTED_SECRET_DATA]"

var (
	yamlSecretRe = regexp.MustCompile(`(?m)^kind:\s*Secret\s*$`)
	jsonSecretRe = regexp.MustCompile(`"kind"\s*:\s*"Secret"`)
)

// maskSecretManifests rewrites Kubernetes Secret manifests embedded in s,
// YAML or JSON, replacing every data/stringData value. ConfigMaps and other
// kinds pass through untouched. On any parse failure the input is returned
// unchanged; the regex tier still runs afterwards.
func maskSecretManifests(s string) string {
	if !strings.Contains(s, "Secret") {
		return s
	}
	if !yamlSecretRe.MatchString(s) && !jsonSecretRe.MatchString(s) {
		return s
	}

	trimmed := strings.TrimSpace(s)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		if masked := maskJSONManifest(s); masked != s {
			return masked
		}
	}
	return maskYAMLManifest(s)
}

func maskYAMLManifest(s string) string {
	decoder := yaml.NewDecoder(strings.NewReader(s))
	var docs []map[string]any
	masked := false
	for {
		var doc map[string]any
		err := decoder.Decode(&doc)
		if err == io.EOF {
			break
		}
		if err != nil {
			return s
		}
		if doc == nil {
			continue
		}
		if maskResource(doc) {
			masked = true
		}
		docs = append(docs, doc)
	}
	if !masked || len(docs) == 0 {
		return s
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	for _, doc := range docs {
		if err := encoder.Encode(doc); err != nil {
			return s
		}
	}
	if err := encoder.Close(); err != nil {
		return s
	}
	out := strings.TrimRight(buf.String(), "\n")
	if strings.HasSuffix(s, "\n") {
		out += "\n"
	}
	return out
}

func maskJSONManifest(s string) string {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return s
	}
	if !maskResource(obj) {
		return s
	}
	out, err := json.MarshalIndent(obj, "", "  ")
	if err != nil {
		return s
	}
	result := string(out)
	if strings.HasSuffix(s, "\n") {
		result += "\n"
	}
	return result
}

// maskResource masks a Secret, or recurses into List items. Returns whether
// anything was masked.
func maskResource(resource map[string]any) bool {
	kind, _ := resource["kind"].(string)
	switch {
	case kind == "Secret":
		maskSecretData(resource)
		maskLastAppliedAnnotation(resource)
		return true
	case strings.HasSuffix(kind, "List"):
		items, _ := resource["items"].([]any)
		masked := false
		for _, item := range items {
			if m, ok := item.(map[string]any); ok && maskResource(m) {
				masked = true
			}
		}
		return masked
	}
	return false
}

func maskSecretData(resource map[string]any) {
	for _, field := range []string{"data", "stringData"} {
		if dataMap, ok := resource[field].(map[string]any); ok {
			for key := range dataMap {
				dataMap[key] = MaskedSecretValue
			}
		}
	}
}

// maskLastAppliedAnnotation handles Secret JSON embedded in annotations,
// typically kubectl.kubernetes.io/last-applied-configuration.
func maskLastAppliedAnnotation(resource map[string]any) {
	metadata, ok := resource["metadata"].(map[string]any)
	if !ok {
		return
	}
	annotations, ok := metadata["annotations"].(map[string]any)
	if !ok {
		return
	}
	for key, val := range annotations {
		strVal, ok := val.(string)
		if !ok || !strings.Contains(strVal, "Secret") {
			continue
		}
		var embedded map[string]any
		if err := json.Unmarshal([]byte(strVal), &embedded); err != nil {
			continue
		}
		if !maskResource(embedded) {
			continue
		}
		if remasked, err := json.Marshal(embedded); err == nil {
			annotations[key] = string(remasked)
		}
	}
}
