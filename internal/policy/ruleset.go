package policy

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"time"

	"github.com/google/cel-go/cel"
	"gopkg.in/yaml.v3"
)

// Stage identifies which pipeline stage a content rule applies to.
type Stage string

const (
	StageRequest Stage = "request"
	StageInput   Stage = "input"
	StageOutput  Stage = "output"
)

// ruleFile is the on-disk YAML schema for a rule set.
type ruleFile struct {
	Version   string `yaml:"version"`
	Retrieval struct {
		TopKMin      int `yaml:"top_k_min"`
		TopKMax      int `yaml:"top_k_max"`
		MaxChunkSize int `yaml:"max_chunk_size"`
	} `yaml:"retrieval"`
	RateLimit struct {
		WindowSeconds   int `yaml:"window_seconds"`
		MaxRequests     int `yaml:"max_requests"`
		OversizePenalty int `yaml:"oversize_penalty"`
	} `yaml:"rate_limit"`
	Domains struct {
		Allow []string `yaml:"allow"`
		Deny  []string `yaml:"deny"`
	} `yaml:"domains"`
	InjectionSignatures []PatternRule `yaml:"injection_signatures"`
	SecretPatterns      []PatternRule `yaml:"secret_patterns"`
	PIIPatterns         []PatternRule `yaml:"pii_patterns"`
	ProtectedFragments  []string      `yaml:"protected_fragments"`
	ContentRules        []ContentRule `yaml:"content_rules"`
}

// PatternRule is a regex detector with a stable id for audit references.
type PatternRule struct {
	ID          string `yaml:"id"`
	Kind        string `yaml:"kind"`
	Description string `yaml:"description"`
	Regex       string `yaml:"regex"`
	Priority    int    `yaml:"priority"`

	compiled *regexp.Regexp
}

// Match returns the [start,end) index pairs of all matches in text.
func (p *PatternRule) Match(text string) [][]int {
	if p.compiled == nil {
		return nil
	}
	return p.compiled.FindAllStringIndex(text, -1)
}

// ContentRule is a CEL expression evaluated against request data. A rule
// that evaluates to true denies the request.
type ContentRule struct {
	ID         string `yaml:"id"`
	Stage      Stage  `yaml:"stage"`
	Expression string `yaml:"expression"`

	program cel.Program
}

// RetrievalBounds are the clamps applied to every retrieval query.
type RetrievalBounds struct {
	TopKMin      int
	TopKMax      int
	MaxChunkSize int
}

// RateLimitRule is the sliding-window rule keyed by tenant+user.
// OversizePenalty is the extra budget consumed by a request flagged as a
// volume signal; a negative value disables the penalty.
type RateLimitRule struct {
	Window          time.Duration
	MaxRequests     int
	OversizePenalty int
}

// RuleSet is one immutable, versioned snapshot of the policy rules. All
// fields are compiled at load time; a RuleSet is never mutated after
// NewRuleSet returns, so it is safe for concurrent readers.
type RuleSet struct {
	Version             string
	LoadedAt            time.Time
	Retrieval           RetrievalBounds
	RateLimit           RateLimitRule
	DomainAllow         []string
	DomainDeny          []string
	InjectionSignatures []PatternRule
	SecretPatterns      []PatternRule
	PIIPatterns         []PatternRule
	ProtectedFragments  []string
	contentRules        []ContentRule
}

const (
	defaultTopKMin         = 5
	defaultTopKMax         = 10
	defaultMaxChunkSize    = 2000
	defaultOversizePenalty = 5
	celCostLimit           = 1000000
)

// LoadRuleSet reads, parses and compiles a rule file. Any parse or compile
// failure returns an error and no partial rule set.
func LoadRuleSet(path string) (*RuleSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return ParseRuleSet(raw)
}

// ParseRuleSet builds an immutable RuleSet from YAML bytes.
func ParseRuleSet(raw []byte) (*RuleSet, error) {
	var rf ruleFile
	if err := yaml.Unmarshal(raw, &rf); err != nil {
		return nil, fmt.Errorf("unmarshal rules: %w", err)
	}
	if rf.Version == "" {
		return nil, fmt.Errorf("rules file missing version")
	}

	rs := &RuleSet{
		Version:  rf.Version,
		LoadedAt: time.Now().UTC(),
		Retrieval: RetrievalBounds{
			TopKMin:      rf.Retrieval.TopKMin,
			TopKMax:      rf.Retrieval.TopKMax,
			MaxChunkSize: rf.Retrieval.MaxChunkSize,
		},
		RateLimit: RateLimitRule{
			Window:          time.Duration(rf.RateLimit.WindowSeconds) * time.Second,
			MaxRequests:     rf.RateLimit.MaxRequests,
			OversizePenalty: rf.RateLimit.OversizePenalty,
		},
		DomainAllow:         rf.Domains.Allow,
		DomainDeny:          rf.Domains.Deny,
		InjectionSignatures: rf.InjectionSignatures,
		SecretPatterns:      rf.SecretPatterns,
		PIIPatterns:         rf.PIIPatterns,
		ProtectedFragments:  rf.ProtectedFragments,
		contentRules:        rf.ContentRules,
	}

	if rs.Retrieval.TopKMin <= 0 {
		rs.Retrieval.TopKMin = defaultTopKMin
	}
	if rs.Retrieval.TopKMax <= 0 {
		rs.Retrieval.TopKMax = defaultTopKMax
	}
	if rs.Retrieval.TopKMin > rs.Retrieval.TopKMax {
		return nil, fmt.Errorf("retrieval bounds inverted: min %d > max %d",
			rs.Retrieval.TopKMin, rs.Retrieval.TopKMax)
	}
	if rs.Retrieval.MaxChunkSize <= 0 {
		rs.Retrieval.MaxChunkSize = defaultMaxChunkSize
	}
	if rs.RateLimit.Window <= 0 {
		rs.RateLimit.Window = time.Minute
	}
	if rs.RateLimit.OversizePenalty == 0 {
		rs.RateLimit.OversizePenalty = defaultOversizePenalty
	}

	if err := compilePatterns(rs.InjectionSignatures); err != nil {
		return nil, err
	}
	if err := compilePatterns(rs.SecretPatterns); err != nil {
		return nil, err
	}
	if err := compilePatterns(rs.PIIPatterns); err != nil {
		return nil, err
	}
	sortByPriority(rs.InjectionSignatures)
	sortByPriority(rs.SecretPatterns)
	sortByPriority(rs.PIIPatterns)

	if err := compileContentRules(rs.contentRules); err != nil {
		return nil, err
	}

	return rs, nil
}

func compilePatterns(rules []PatternRule) error {
	for i := range rules {
		p := &rules[i]
		if p.ID == "" {
			return fmt.Errorf("pattern rule without id (regex %q)", p.Regex)
		}
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return fmt.Errorf("compile pattern %s: %w", p.ID, err)
		}
		p.compiled = re
	}
	return nil
}

func sortByPriority(rules []PatternRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority > rules[j].Priority
	})
}

func compileContentRules(rules []ContentRule) error {
	if len(rules) == 0 {
		return nil
	}
	env, err := cel.NewEnv(
		cel.Variable("query", cel.StringType),
		cel.Variable("chatbot_id", cel.StringType),
		cel.Variable("role", cel.StringType),
	)
	if err != nil {
		return fmt.Errorf("create CEL environment: %w", err)
	}
	for i := range rules {
		r := &rules[i]
		if r.ID == "" {
			return fmt.Errorf("content rule without id (expression %q)", r.Expression)
		}
		ast, issues := env.Compile(r.Expression)
		if issues != nil && issues.Err() != nil {
			return fmt.Errorf("compile content rule %s: %w", r.ID, issues.Err())
		}
		// Cost limit prevents runaway expressions from a bad rule push.
		prog, err := env.Program(ast, cel.CostLimit(celCostLimit))
		if err != nil {
			return fmt.Errorf("program for content rule %s: %w", r.ID, err)
		}
		r.program = prog
	}
	return nil
}

// EvalContentRules runs the compiled CEL rules for the given stage. It
// returns the ids of rules that matched (i.e. voted to deny).
func (rs *RuleSet) EvalContentRules(stage Stage, facts map[string]any) []string {
	var matched []string
	for i := range rs.contentRules {
		r := &rs.contentRules[i]
		if r.Stage != stage || r.program == nil {
			continue
		}
		out, _, err := r.program.Eval(facts)
		if err != nil {
			// An erroring rule cannot be trusted to pass: treat as a match.
			matched = append(matched, r.ID)
			continue
		}
		if b, ok := out.Value().(bool); ok && b {
			matched = append(matched, r.ID)
		}
	}
	return matched
}
