package workflow

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yourorg/lotflow/internal/lot"
)

// Policy is the per-deployment issuance policy, read from YAML:
//
//	additionalIssuerRoles: [depot-staff]
//	tokenValidity: 12h
type Policy struct {
	AdditionalIssuerRoles []lot.Role `yaml:"additionalIssuerRoles"`
	TokenValidity         string     `yaml:"tokenValidity,omitempty"`
}

// ParsePolicy decodes and validates a YAML issuer policy.
func ParsePolicy(input []byte) (Policy, error) {
	var p Policy
	if err := yaml.Unmarshal(input, &p); err != nil {
		return Policy{}, fmt.Errorf("decode policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// LoadPolicy reads the policy at path. An empty path or a missing file yields
// the zero policy: owner-only issuance with the configured validity.
func LoadPolicy(path string) (Policy, error) {
	if path == "" {
		return Policy{}, nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Policy{}, nil
	}
	if err != nil {
		return Policy{}, fmt.Errorf("read policy %s: %w", path, err)
	}
	return ParsePolicy(raw)
}

// Validate rejects unknown roles and a non-positive or malformed validity.
func (p Policy) Validate() error {
	for _, r := range p.AdditionalIssuerRoles {
		if !r.Valid() {
			return fmt.Errorf("policy.additionalIssuerRoles: unknown role %q", r)
		}
	}
	if p.TokenValidity != "" {
		d, err := time.ParseDuration(p.TokenValidity)
		if err != nil {
			return fmt.Errorf("policy.tokenValidity: %w", err)
		}
		if d <= 0 {
			return errors.New("policy.tokenValidity must be positive")
		}
	}
	return nil
}

// issuePolicy merges the file policy over the configured defaults.
func (p Policy) issuePolicy(defaultValidity time.Duration) lot.IssuePolicy {
	out := lot.IssuePolicy{
		Validity:              defaultValidity,
		AdditionalIssuerRoles: append([]lot.Role(nil), p.AdditionalIssuerRoles...),
	}
	if d, err := time.ParseDuration(p.TokenValidity); err == nil && d > 0 {
		out.Validity = d
	}
	return out
}
