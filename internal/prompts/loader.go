// Package prompts holds the model prompt catalogue for drift analysis and briefings.
// Each embedded JSON file maps a key to a text/template using {{.Field}} placeholders.
package prompts

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"
	"text/template"
)

//go:embed *.json
var promptFiles embed.FS

// Name identifies one prompt in the catalogue.
type Name struct {
	File string
	Key  string
}

func (n Name) String() string {
	return n.File + "#" + n.Key
}

// Prompts used by the pipeline.
var (
	DriftAnalysis     = Name{File: "analysis.json", Key: "drift-analysis"}
	ExecutiveBriefing = Name{File: "briefing.json", Key: "executive-briefing"}
)

type entry struct {
	text string
	tmpl *template.Template
}

type catalogue map[Name]entry

var loadCatalogue = sync.OnceValues(func() (catalogue, error) {
	return parseCatalogue(promptFiles)
})

// parseCatalogue parses every *.json file in fsys. A template that references a
// field missing from the render data fails instead of printing "<no value>".
func parseCatalogue(fsys fs.FS) (catalogue, error) {
	files, err := fs.Glob(fsys, "*.json")
	if err != nil {
		return nil, err
	}

	cat := make(catalogue)
	for _, file := range files {
		data, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("failed to read prompt file %s: %w", file, err)
		}
		var raw map[string]string
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to parse prompt file %s: %w", file, err)
		}
		for key, text := range raw {
			name := Name{File: file, Key: key}
			tmpl, err := template.New(name.String()).Option("missingkey=error").Parse(text)
			if err != nil {
				return nil, fmt.Errorf("prompt %s: %w", name, err)
			}
			cat[name] = entry{text: text, tmpl: tmpl}
		}
	}
	return cat, nil
}

func lookup(name Name) (entry, error) {
	cat, err := loadCatalogue()
	if err != nil {
		return entry{}, err
	}
	e, ok := cat[name]
	if !ok {
		return entry{}, fmt.Errorf("prompt %s not found", name)
	}
	return e, nil
}

// Text returns the unrendered template for name.
func Text(name Name) (string, error) {
	e, err := lookup(name)
	if err != nil {
		return "", err
	}
	return e.text, nil
}

// Render fills the placeholders of name from data. Every placeholder must have a value.
func Render(name Name, data map[string]string) (string, error) {
	e, err := lookup(name)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if err := e.tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", name, err)
	}
	return sb.String(), nil
}

// Names lists the catalogue, sorted by file then key.
func Names() ([]Name, error) {
	cat, err := loadCatalogue()
	if err != nil {
		return nil, err
	}
	names := make([]Name, 0, len(cat))
	for name := range cat {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if names[i].File != names[j].File {
			return names[i].File < names[j].File
		}
		return names[i].Key < names[j].Key
	})
	return names, nil
}
