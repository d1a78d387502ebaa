package dictionary

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"derived-dsl/internal/ast"
)

// A definition file holds attribute blocks:
//
//	attribute "risk_band" {
//	  type       = "STRING"
//	  source     = "derived"
//	  depends_on = ["risk_score"]
//
//	  rule {
//	    when = "risk_score > 70"
//	    then = "\"HIGH\""
//	  }
//	  rule {
//	    then = "\"LOW\""
//	  }
//	}
//
// A rule block gives either when/then/else expressions or a complete
// statement in dsl.

// hclDefinitionFile represents the top-level structure of a definition file for decoding.
type hclDefinitionFile struct {
	Attributes []*hclAttribute `hcl:"attribute,block"`
}

type hclAttribute struct {
	Name        string     `hcl:"name,label"`
	Type        string     `hcl:"type"`
	Source      string     `hcl:"source,optional"`
	Description string     `hcl:"description,optional"`
	DependsOn   []string   `hcl:"depends_on,optional"`
	Rules       []*hclRule `hcl:"rule,block"`
}

type hclRule struct {
	When string `hcl:"when,optional"`
	Then string `hcl:"then,optional"`
	Else string `hcl:"else,optional"`
	DSL  string `hcl:"dsl,optional"`
}

// source renders the block as stored DSL text
func (r *hclRule) source(attribute string) (string, error) {
	if r.DSL != "" {
		if r.When != "" || r.Then != "" || r.Else != "" {
			return "", fmt.Errorf("rule for %s sets dsl together with when/then/else", attribute)
		}
		return r.DSL, nil
	}
	if r.Then == "" {
		return "", fmt.Errorf("rule for %s has no then expression", attribute)
	}
	if r.When == "" {
		if r.Else != "" {
			return "", fmt.Errorf("rule for %s has else without when", attribute)
		}
		return r.Then, nil
	}
	src := fmt.Sprintf("RULE %s IF %s THEN %s = %s", attribute, r.When, attribute, r.Then)
	if r.Else != "" {
		src += fmt.Sprintf(" ELSE %s = %s", attribute, r.Else)
	}
	return src, nil
}

// ExpandPatterns resolves doublestar glob patterns to a sorted, de-duplicated
// file list. A pattern without glob characters must name an existing file.
func ExpandPatterns(patterns ...string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", pattern, err)
		}
		if len(matches) == 0 && !strings.ContainsAny(pattern, "*?[{") {
			return nil, fmt.Errorf("file not found: %s", pattern)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

// LoadDefinitions reads every attribute block from the files matched by
// patterns. Files ending in .json are read as HCL JSON syntax.
func LoadDefinitions(patterns ...string) ([]*AttributeDefinition, error) {
	files, err := ExpandPatterns(patterns...)
	if err != nil {
		return nil, err
	}

	parser := hclparse.NewParser()
	var defs []*AttributeDefinition
	origin := make(map[string]string)
	for _, file := range files {
		fileDefs, err := definitionsFromFile(parser, file)
		if err != nil {
			return nil, err
		}
		for _, def := range fileDefs {
			if prev, dup := origin[def.Name]; dup {
				return nil, fmt.Errorf("attribute %s defined in both %s and %s: %w", def.Name, prev, file, ErrDuplicateName)
			}
			origin[def.Name] = file
			defs = append(defs, def)
		}
	}
	return defs, nil
}

func definitionsFromFile(parser *hclparse.Parser, filePath string) ([]*AttributeDefinition, error) {
	var (
		file  *hcl.File
		diags hcl.Diagnostics
	)
	if filepath.Ext(filePath) == ".json" {
		file, diags = parser.ParseJSONFile(filePath)
	} else {
		file, diags = parser.ParseHCLFile(filePath)
	}
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse definition file %s: %w", filePath, diags)
	}

	var parsed hclDefinitionFile
	if diags := gohcl.DecodeBody(file.Body, nil, &parsed); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode definition file %s: %w", filePath, diags)
	}

	defs := make([]*AttributeDefinition, 0, len(parsed.Attributes))
	for _, a := range parsed.Attributes {
		source, err := ParseSourceKind(a.Source)
		if err != nil {
			return nil, fmt.Errorf("%s: attribute %s: %w", filePath, a.Name, err)
		}
		def := &AttributeDefinition{
			Name:         a.Name,
			Type:         strings.ToUpper(a.Type),
			Source:       source,
			Description:  a.Description,
			Dependencies: a.DependsOn,
			Version:      1,
		}
		for _, r := range a.Rules {
			src, err := r.source(a.Name)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", filePath, err)
			}
			def.Rules = append(def.Rules, src)
		}
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", filePath, err)
		}
		def.Stamp()
		defs = append(defs, def)
	}
	return defs, nil
}

// LoadFacts reads an initial fact environment. A .json file holds one
// object; any other file is HCL with one attribute per fact:
//
//	risk_score = 72
//	country    = "LU"
func LoadFacts(filePath string) (map[string]ast.Value, error) {
	if filepath.Ext(filePath) == ".json" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read facts file %s: %w", filePath, err)
		}
		return DecodeJSONFacts(data)
	}

	file, diags := hclparse.NewParser().ParseHCLFile(filePath)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse facts file %s: %w", filePath, diags)
	}
	attrs, diags := file.Body.JustAttributes()
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode facts file %s: %w", filePath, diags)
	}

	facts := make(map[string]ast.Value, len(attrs))
	for name, attr := range attrs {
		val, diags := attr.Expr.Value(nil)
		if diags.HasErrors() {
			return nil, fmt.Errorf("fact %s in %s: %w", name, filePath, diags)
		}
		v, err := FromCty(val)
		if err != nil {
			return nil, fmt.Errorf("fact %s in %s: %w", name, filePath, err)
		}
		facts[name] = v
	}
	return facts, nil
}

// DecodeJSONFacts decodes a JSON object of facts. Whole numbers become
// Integer values.
func DecodeJSONFacts(data []byte) (map[string]ast.Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("invalid facts JSON: %w", err)
	}
	facts := make(map[string]ast.Value, len(raw))
	for name, x := range raw {
		v, err := ast.FromInterface(x)
		if err != nil {
			return nil, fmt.Errorf("fact %s: %w", name, err)
		}
		facts[name] = v
	}
	return facts, nil
}

// FromCty converts a primitive cty value into a Value
func FromCty(val cty.Value) (ast.Value, error) {
	if val.IsNull() {
		return ast.Null, nil
	}
	if !val.IsKnown() {
		return ast.Null, fmt.Errorf("value is not known")
	}
	switch val.Type() {
	case cty.String:
		return ast.Str(val.AsString()), nil
	case cty.Bool:
		return ast.Bool(val.True()), nil
	case cty.Number:
		bf := val.AsBigFloat()
		if bf.IsInt() {
			if i, acc := bf.Int64(); acc == big.Exact {
				return ast.Int(i), nil
			}
		}
		f, _ := bf.Float64()
		return ast.Float(f), nil
	}
	return ast.Null, fmt.Errorf("unsupported value of type %s", val.Type().FriendlyName())
}
