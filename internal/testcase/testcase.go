// Package testcase loads test case definitions (prompt plus assertion script
// identity) and the golden fixture markup used to validate that a test
// script's assertions behave as intended against known-good and known-bad
// documents.
package testcase

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/net/html"
)

// TestCase is one evaluation target. Immutable once loaded.
type TestCase struct {
	Name   string
	Prompt string
	Dir    string

	// ScriptName selects the registered assertion script; empty means the
	// script is registered under the case name.
	ScriptName string
}

const promptFile = "prompt.md"

// LoadDir reads every subdirectory of root containing a prompt file, sorted
// by name.
func LoadDir(root string) ([]TestCase, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read test case dir: %w", err)
	}

	var cases []TestCase
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		prompt, err := os.ReadFile(filepath.Join(dir, promptFile))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read prompt for %s: %w", e.Name(), err)
		}
		cases = append(cases, TestCase{
			Name:   e.Name(),
			Prompt: string(prompt),
			Dir:    dir,
		})
	}
	sort.Slice(cases, func(i, j int) bool { return cases[i].Name < cases[j].Name })
	return cases, nil
}

// Example is one fixture document with its expected per-assertion outcomes.
type Example struct {
	Path string
	HTML string

	// Expectations maps assertion name to the normalized expected outcome
	// ("pass" or "fail").
	Expectations map[string]string
}

// expectationsID is the id of the JSON block fixtures embed to declare their
// expected assertion outcomes.
const expectationsID = "a11y-assertions"

// LoadExamples returns the case's fixture documents that declare embedded
// expectations; fixtures without an expectation block are skipped.
func LoadExamples(caseDir string) ([]Example, error) {
	dir := filepath.Join(caseDir, "examples")
	paths, err := filepath.Glob(filepath.Join(dir, "*.html"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var examples []Example
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read example %s: %w", path, err)
		}
		expectations, ok := ParseExpectations(string(raw))
		if !ok {
			continue
		}
		examples = append(examples, Example{
			Path:         path,
			HTML:         string(raw),
			Expectations: expectations,
		})
	}
	return examples, nil
}

// ParseExpectations extracts the embedded expectation block from fixture
// markup: a <script id="a11y-assertions" type="application/json"> element
// whose body maps assertion names to expected outcomes. Boolean values
// normalize to pass/fail; strings are lower-cased.
func ParseExpectations(markup string) (map[string]string, bool) {
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, false
	}

	body := findExpectationScript(doc)
	if body == "" {
		return nil, false
	}

	var block struct {
		Assertions map[string]any `json:"assertions"`
	}
	if err := json.Unmarshal([]byte(body), &block); err != nil || block.Assertions == nil {
		return nil, false
	}

	out := make(map[string]string, len(block.Assertions))
	for name, v := range block.Assertions {
		switch val := v.(type) {
		case bool:
			if val {
				out[name] = "pass"
			} else {
				out[name] = "fail"
			}
		case string:
			out[name] = strings.ToLower(strings.TrimSpace(val))
		case nil:
			out[name] = "none"
		default:
			out[name] = strings.ToLower(strings.TrimSpace(fmt.Sprintf("%v", val)))
		}
	}
	return out, true
}

func findExpectationScript(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "script" {
		var id, typ string
		for _, attr := range n.Attr {
			switch attr.Key {
			case "id":
				id = attr.Val
			case "type":
				typ = attr.Val
			}
		}
		if id == expectationsID && typ == "application/json" && n.FirstChild != nil {
			return n.FirstChild.Data
		}
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		if found := findExpectationScript(child); found != "" {
			return found
		}
	}
	return ""
}
