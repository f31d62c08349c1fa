// Package classification assigns a document type to freight messages.
package classification

import (
	"strings"

	"freight_server/core/domain"
)

// =============================================================================
// Sender Categorizer
// =============================================================================

// SenderCategorizer maps sender domains to a category and a carrier identity.
type SenderCategorizer struct {
	internal map[string]struct{}
	customer map[string]struct{}
	carriers map[string]string
}

// NewSenderCategorizer builds lookup tables from the rule book.
func NewSenderCategorizer(rules *domain.RuleBook) *SenderCategorizer {
	c := &SenderCategorizer{
		internal: make(map[string]struct{}),
		customer: make(map[string]struct{}),
		carriers: make(map[string]string),
	}
	for _, d := range rules.Senders.InternalDomains {
		c.internal[normalizeDomain(d)] = struct{}{}
	}
	for _, d := range rules.Senders.CustomerDomains {
		c.customer[normalizeDomain(d)] = struct{}{}
	}
	for _, carrier := range rules.Carriers {
		for _, d := range carrier.Domains {
			c.carriers[normalizeDomain(d)] = carrier.Name
		}
	}
	return c
}

// Categorize returns the sender category, the carrier name (if any) and the direction.
// Mail sent from an internal domain is outbound.
func (c *SenderCategorizer) Categorize(sender string) (domain.SenderCategory, string, domain.Direction) {
	d := senderDomain(sender)
	if d == "" {
		return domain.SenderUnknown, "", domain.DirectionInbound
	}
	if matchDomain(d, inSet(c.internal)) != "" {
		return domain.SenderInternal, "", domain.DirectionOutbound
	}
	if key := matchDomain(d, func(k string) bool { _, ok := c.carriers[k]; return ok }); key != "" {
		return domain.SenderCarrier, c.carriers[key], domain.DirectionInbound
	}
	if matchDomain(d, inSet(c.customer)) != "" {
		return domain.SenderCustomer, "", domain.DirectionInbound
	}
	return domain.SenderUnknown, "", domain.DirectionInbound
}

// matchDomain returns the configured domain equal to d or a parent of it.
func matchDomain(d string, has func(string) bool) string {
	for {
		if has(d) {
			return d
		}
		i := strings.IndexByte(d, '.')
		if i < 0 {
			return ""
		}
		d = d[i+1:]
	}
}

func inSet(set map[string]struct{}) func(string) bool {
	return func(k string) bool {
		_, ok := set[k]
		return ok
	}
}

// senderDomain extracts the lower-cased domain from "Name <user@host>" or "user@host".
func senderDomain(sender string) string {
	s := strings.TrimSpace(sender)
	if i := strings.LastIndexByte(s, '<'); i >= 0 {
		s = strings.TrimSuffix(s[i+1:], ">")
	}
	at := strings.LastIndexByte(s, '@')
	if at < 0 {
		return ""
	}
	return normalizeDomain(s[at+1:])
}

func normalizeDomain(d string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), "@")
}
