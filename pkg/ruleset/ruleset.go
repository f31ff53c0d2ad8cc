// Package ruleset loads per-domain YAML rules that tune how a site is fetched
// and rewritten.
package ruleset

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

type Regex struct {
	Match   string `yaml:"match"`
	Replace string `yaml:"replace"`
}

type KV struct {
	Key   string `yaml:"key"`
	Value string `yaml:"value"`
}

type Headers struct {
	UserAgent     string `yaml:"user-agent,omitempty"`
	XForwardedFor string `yaml:"x-forwarded-for,omitempty"`
	Referer       string `yaml:"referer,omitempty"`
	Cookie        string `yaml:"cookie,omitempty"`
}

type URLMods struct {
	Domain []Regex `yaml:"domain,omitempty"`
	Path   []Regex `yaml:"path,omitempty"`
	Query  []KV    `yaml:"query,omitempty"`
}

// Injection inserts HTML relative to every element matched by Position,
// a CSS selector.
type Injection struct {
	Position string `yaml:"position,omitempty"`
	Append   string `yaml:"append,omitempty"`
	Prepend  string `yaml:"prepend,omitempty"`
	Replace  string `yaml:"replace,omitempty"`
}

type Test struct {
	URL string `yaml:"url"`
}

type Rule struct {
	Domain     string      `yaml:"domain,omitempty"`
	Domains    []string    `yaml:"domains,omitempty"`
	Paths      []string    `yaml:"paths,omitempty"`
	Headers    Headers     `yaml:"headers,omitempty"`
	RegexRules []Regex     `yaml:"regexRules,omitempty"`
	URLMods    URLMods     `yaml:"urlMods,omitempty"`
	Injections []Injection `yaml:"injections,omitempty"`
	Tests      []Test      `yaml:"tests,omitempty"`
}

type RuleSet []Rule

// NewRuleset loads every .yml/.yaml file found under the ';'-separated list
// of files and directories in rulePaths. An empty rulePaths yields an empty
// RuleSet.
func NewRuleset(rulePaths string) (RuleSet, error) {
	var ruleSet RuleSet
	var errs []error

	for _, rulePath := range strings.Split(rulePaths, ";") {
		trimmedPath := strings.TrimSpace(rulePath)
		if trimmedPath == "" {
			continue
		}

		rules, err := loadPath(trimmedPath)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to load rules from '%s': %w", trimmedPath, err))
			continue
		}
		ruleSet = append(ruleSet, rules...)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := ruleSet.validate(); err != nil {
		return nil, err
	}
	return ruleSet, nil
}

func loadPath(root string) (RuleSet, error) {
	var rules RuleSet
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsRuleFile(path) {
			return nil
		}
		yamlFile, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read rules file '%s': %w", path, err)
		}
		r, err := Parse(yamlFile)
		if err != nil {
			return fmt.Errorf("syntax error in rules file '%s': %w", path, err)
		}
		rules = append(rules, r...)
		return nil
	})
	return rules, err
}

// Parse decodes a single YAML document holding a list of rules.
func Parse(data []byte) (RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, err
	}
	return rs, nil
}

// IsRuleFile reports whether path has a ruleset extension.
func IsRuleFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yml" || ext == ".yaml"
}

// validate compiles every regex up front so a bad pattern fails at load time
// rather than on the first matching request.
func (rs RuleSet) validate() error {
	for i, rule := range rs {
		all := append(append([]Regex{}, rule.RegexRules...), rule.URLMods.Domain...)
		all = append(all, rule.URLMods.Path...)
		for _, r := range all {
			if _, err := regexp.Compile(r.Match); err != nil {
				return fmt.Errorf("rule %d (%s): invalid regex %q: %w", i, rule.name(), r.Match, err)
			}
		}
	}
	return nil
}

func (r Rule) name() string {
	if r.Domain != "" {
		return r.Domain
	}
	return strings.Join(r.Domains, ",")
}

// Match returns the first rule whose domain equals host or is a parent domain
// of it, and whose paths (if any) prefix path.
func (rs RuleSet) Match(host, path string) (Rule, bool) {
	for _, rule := range rs {
		for _, ruleDomain := range rule.AllDomains() {
			if ruleDomain != host && !strings.HasSuffix(host, "."+ruleDomain) {
				continue
			}
			if len(rule.Paths) > 0 && !hasPrefixIn(path, rule.Paths) {
				continue
			}
			return rule, true
		}
	}
	return Rule{}, false
}

// AllDomains merges Domain and Domains.
func (r Rule) AllDomains() []string {
	domains := make([]string, 0, len(r.Domains)+1)
	if r.Domain != "" {
		domains = append(domains, r.Domain)
	}
	return append(domains, r.Domains...)
}

func (rs RuleSet) Domains() []string {
	var domains []string
	for _, rule := range rs {
		domains = append(domains, rule.AllDomains()...)
	}
	return domains
}

func (rs RuleSet) DomainCount() int {
	return len(rs.Domains())
}

func (rs RuleSet) Count() int {
	return len(rs)
}

// TestURLs lists every sample URL declared by the rules.
func (rs RuleSet) TestURLs() []string {
	var urls []string
	for _, rule := range rs {
		for _, t := range rule.Tests {
			if t.URL != "" {
				urls = append(urls, t.URL)
			}
		}
	}
	return urls
}

// ApplyRegexRules runs the rule's match/replace pairs over body in order.
func (r Rule) ApplyRegexRules(body string) string {
	for _, regexRule := range r.RegexRules {
		re, err := regexp.Compile(regexRule.Match)
		if err != nil {
			continue
		}
		body = re.ReplaceAllString(body, regexRule.Replace)
	}
	return body
}

func hasPrefixIn(s string, list []string) bool {
	for _, x := range list {
		if strings.HasPrefix(s, x) {
			return true
		}
	}
	return false
}
