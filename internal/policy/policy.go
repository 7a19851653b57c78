// Package policy provides durable per-agent governance configuration (spec
// §3's AgentPolicy, §4.3): daily spend caps, per-transaction caps,
// human-approval thresholds, and allowed/blocked vendor-domain sets.
package policy

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

var (
	ErrPolicyNotFound = errors.New("policy: not found")
	ErrInvalidPolicy  = errors.New("policy: invalid")
)

// AgentPolicy is per-agent governance configuration (spec §3).
type AgentPolicy struct {
	AgentID            string    `json:"agentId"`
	DailyCap           int64     `json:"dailyCap"`
	PerTxnCap          int64     `json:"perTxnCap,omitempty"`          // 0 = unset
	ApprovalThreshold  int64     `json:"approvalThreshold,omitempty"`  // 0 = unset
	AllowedDomains     []string  `json:"allowedDomains,omitempty"`
	BlockedDomains     []string  `json:"blockedDomains,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// Validate enforces the invariants from spec §3: caps are non-negative,
// per_txn_cap <= daily_cap when both are set, and allowed/blocked domain
// sets are disjoint.
func (p *AgentPolicy) Validate() error {
	if p.AgentID == "" {
		return fmt.Errorf("%w: agentId is required", ErrInvalidPolicy)
	}
	if p.DailyCap < 0 {
		return fmt.Errorf("%w: dailyCap must be non-negative", ErrInvalidPolicy)
	}
	if p.PerTxnCap < 0 {
		return fmt.Errorf("%w: perTxnCap must be non-negative", ErrInvalidPolicy)
	}
	if p.ApprovalThreshold < 0 {
		return fmt.Errorf("%w: approvalThreshold must be non-negative", ErrInvalidPolicy)
	}
	if p.PerTxnCap > 0 && p.DailyCap > 0 && p.PerTxnCap > p.DailyCap {
		return fmt.Errorf("%w: perTxnCap (%d) must be <= dailyCap (%d)", ErrInvalidPolicy, p.PerTxnCap, p.DailyCap)
	}

	allowed := normalizeDomainSet(p.AllowedDomains)
	blocked := normalizeDomainSet(p.BlockedDomains)
	for d := range allowed {
		if blocked[d] {
			return fmt.Errorf("%w: domain %q appears in both allowed and blocked sets", ErrInvalidPolicy, d)
		}
	}
	return nil
}

func normalizeDomainSet(domains []string) map[string]bool {
	set := make(map[string]bool, len(domains))
	for _, d := range domains {
		set[strings.ToLower(strings.TrimSpace(d))] = true
	}
	return set
}

// DomainDecision is the outcome of checking a vendor URL against a policy's
// domain sets.
type DomainDecision int

const (
	DomainNeutral DomainDecision = iota
	DomainAllowed
	DomainBlocked
)

// CheckDomain extracts the registered domain from vendorURL and compares it
// case-insensitively by suffix against the policy's allowed and blocked
// sets, per spec §4.3. An empty vendorURL or an unparseable URL is treated
// as neutral (neither allowed nor blocked). The governance engine rejects a
// neutral result when the policy has a non-empty AllowedDomains list, and
// otherwise goes on to its other checks.
func (p *AgentPolicy) CheckDomain(vendorURL string) DomainDecision {
	host := extractHost(vendorURL)
	if host == "" {
		return DomainNeutral
	}

	for _, d := range p.BlockedDomains {
		if domainMatches(host, d) {
			return DomainBlocked
		}
	}
	for _, d := range p.AllowedDomains {
		if domainMatches(host, d) {
			return DomainAllowed
		}
	}
	return DomainNeutral
}

func extractHost(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// domainMatches reports whether host equals suffix, or is a subdomain of
// it (e.g. "pay.vendor.com" matches suffix "vendor.com"). This is a
// deliberate stdlib suffix-match rather than a public-suffix-list lookup:
// no ecosystem PSL library appears anywhere in the retrieved reference
// corpus, so pulling one in here would be an ungrounded addition.
func domainMatches(host, suffix string) bool {
	suffix = strings.ToLower(strings.TrimSpace(suffix))
	if suffix == "" {
		return false
	}
	if host == suffix {
		return true
	}
	return strings.HasSuffix(host, "."+suffix)
}
