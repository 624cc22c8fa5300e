package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/larder/pkg/larder/ingredient"
	"github.com/cognicore/larder/pkg/larder/internalerr"
)

// LexiconFile is the YAML layout of a unit lexicon.
//
// Expected format:
//
//	extend: true        # start from the built-in units
//	units:
//	  - canonical: cup
//	    variants: [cups, c]
//	  - canonical: fluid ounce
//	    variants: [fl oz, fluid ounces]
type LexiconFile struct {
	Extend bool `yaml:"extend"`
	Units  []struct {
		Canonical string   `yaml:"canonical"`
		Variants  []string `yaml:"variants"`
	} `yaml:"units"`
}

// LoadLexicon loads a unit lexicon from a YAML file.
func LoadLexicon(path string) (*ingredient.Lexicon, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var lf LexiconFile
	if err := yaml.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("parse lexicon %s: %w: %w", path, internalerr.ErrInvalidConfig, err)
	}

	lex := ingredient.NewLexicon()
	if lf.Extend {
		lex = ingredient.DefaultLexicon()
	}
	for _, u := range lf.Units {
		if u.Canonical == "" {
			return nil, fmt.Errorf("lexicon %s: unit without canonical name: %w", path, internalerr.ErrInvalidConfig)
		}
		lex.AddUnit(u.Canonical, u.Variants)
	}
	return lex, nil
}

// Lexicon returns the configured unit lexicon, or the built-in one when no
// file is set.
func (c *Config) Lexicon() (*ingredient.Lexicon, error) {
	if c.LexiconPath == "" {
		return ingredient.DefaultLexicon(), nil
	}
	lex, err := LoadLexicon(c.LexiconPath)
	if err != nil {
		return nil, fmt.Errorf("load lexicon: %w", err)
	}
	return lex, nil
}
