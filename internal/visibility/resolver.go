// Package visibility decides who may observe a user's presence or check-ins.
//
// Presence records and check-ins used to carry two vocabularies for the same
// three-tier policy (everyone/friends/none and public/friends/private). Both
// map onto Tier here and go through the same CanView.
package visibility

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Tier is the privacy level attached to a presence record or check-in.
type Tier string

const (
	Everyone Tier = "everyone"
	Friends  Tier = "friends"
	Nobody   Tier = "none"
)

// ParseTier accepts both the presence and the check-in spellings.
func ParseTier(s string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "everyone", "public":
		return Everyone, nil
	case "friends":
		return Friends, nil
	case "none", "private":
		return Nobody, nil
	}
	return "", fmt.Errorf("unknown visibility %q", s)
}

// Valid reports whether t is one of the three tiers.
func (t Tier) Valid() bool {
	return t == Everyone || t == Friends || t == Nobody
}

// PrivacyLabel renders t in the check-in vocabulary.
func (t Tier) PrivacyLabel() string {
	switch t {
	case Everyone:
		return "public"
	case Nobody:
		return "private"
	default:
		return string(t)
	}
}

func (t Tier) rank() int {
	switch t {
	case Everyone:
		return 0
	case Friends:
		return 1
	default:
		return 2
	}
}

// Strictest returns the more restrictive of a and b.
func Strictest(a, b Tier) Tier {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// Relationship is the friend-graph state between two users.
type Relationship int

const (
	Strangers Relationship = iota
	Pending
	Accepted
	Blocked
)

func (r Relationship) String() string {
	switch r {
	case Pending:
		return "pending"
	case Accepted:
		return "accepted"
	case Blocked:
		return "blocked"
	default:
		return "none"
	}
}

// CanView reports whether viewerID may see a record owned by subjectID.
// Evaluation order: everyone, then none, then friends. A blocked relationship
// never satisfies the friends tier.
func CanView(viewerID, subjectID string, tier Tier, rel Relationship) bool {
	switch tier {
	case Everyone:
		return true
	case Nobody:
		return viewerID == subjectID
	case Friends:
		if viewerID == subjectID {
			return true
		}
		return rel == Accepted
	}
	return viewerID == subjectID
}

// Privacy is Tier serialised in the check-in vocabulary.
type Privacy Tier

func (p Privacy) MarshalJSON() ([]byte, error) {
	return json.Marshal(Tier(p).PrivacyLabel())
}

func (p *Privacy) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	t, err := ParseTier(s)
	if err != nil {
		return err
	}
	*p = Privacy(t)
	return nil
}
