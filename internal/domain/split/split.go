// Package split assigns participants to dataset partitions from an ordered
// quota list such as "2:train,1:valid,1:test".
package split

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/okian/gazeset/internal/domain/model"
)

// Quota is one (count, tag) entry of the quota list.
type Quota struct {
	Count int         `koanf:"count" json:"count"`
	Tag   model.Split `koanf:"tag" json:"tag"`
}

// Parse reads a comma separated list of count:tag pairs.
func Parse(s string) ([]Quota, error) {
	var out []Quota
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		countStr, tag, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("quota %q: want count:tag: %w", part, ErrInvalidQuota)
		}
		n, err := strconv.Atoi(strings.TrimSpace(countStr))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("quota %q: bad count: %w", part, ErrInvalidQuota)
		}
		q := Quota{Count: n, Tag: model.Split(strings.TrimSpace(tag))}
		if !q.Tag.Valid() {
			return nil, fmt.Errorf("quota %q: unknown split %q: %w", part, q.Tag, ErrInvalidQuota)
		}
		out = append(out, q)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("empty quota list: %w", ErrInvalidQuota)
	}
	return out, nil
}

// Format renders quotas in the form accepted by Parse.
func Format(qs []Quota) string {
	parts := make([]string, len(qs))
	for i, q := range qs {
		parts[i] = fmt.Sprintf("%d:%s", q.Count, q.Tag)
	}
	return strings.Join(parts, ",")
}

// Total returns the number of participants the quotas can absorb.
func Total(qs []Quota) int {
	n := 0
	for _, q := range qs {
		n += q.Count
	}
	return n
}

// Assigner hands out split tags in participant order. It owns its own copy
// of the quota list; it is not safe for concurrent use.
type Assigner struct {
	quotas []Quota
	pos    int
}

// NewAssigner creates an assigner over a copy of qs.
func NewAssigner(qs []Quota) *Assigner {
	return &Assigner{quotas: append([]Quota(nil), qs...)}
}

// Next returns the tag for the next participant. Once every count has been
// consumed it returns ErrQuotaExhausted; the last tag is never reused.
func (a *Assigner) Next() (model.Split, error) {
	for a.pos < len(a.quotas) && a.quotas[a.pos].Count == 0 {
		a.pos++
	}
	if a.pos >= len(a.quotas) {
		return "", ErrQuotaExhausted
	}
	q := &a.quotas[a.pos]
	q.Count--
	return q.Tag, nil
}

// Remaining returns how many more participants can be assigned.
func (a *Assigner) Remaining() int {
	return Total(a.quotas[min(a.pos, len(a.quotas)):])
}
