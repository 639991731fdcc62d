// Package pattern infers the dominant naming scheme of a segment set.
package pattern

// Scheme is a lexical pattern of segment file names.
type Scheme int

// Schemes in tie-break priority order.
const (
	Sequential Scheme = iota
	HashNamed
	Timestamped
	Mixed
)

// sequentialMaxDigits separates short counters from timestamps.
const sequentialMaxDigits = 6

func (s Scheme) String() string {
	switch s {
	case Sequential:
		return "sequential"
	case HashNamed:
		return "hash"
	case Timestamped:
		return "timestamp"
	case Mixed:
		return "mixed"
	default:
		return "unknown"
	}
}

// MarshalText renders the scheme name in reports.
func (s Scheme) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Tally counts votes per scheme.
type Tally struct {
	Sequential  int `json:"sequential"`
	HashNamed   int `json:"hash"`
	Timestamped int `json:"timestamp"`
	Mixed       int `json:"mixed"`
}

// Count returns the votes for s.
func (t Tally) Count(s Scheme) int {
	switch s {
	case Sequential:
		return t.Sequential
	case HashNamed:
		return t.HashNamed
	case Timestamped:
		return t.Timestamped
	default:
		return t.Mixed
	}
}

func (t *Tally) add(s Scheme) {
	switch s {
	case Sequential:
		t.Sequential++
	case HashNamed:
		t.HashNamed++
	case Timestamped:
		t.Timestamped++
	default:
		t.Mixed++
	}
}

// Dominant returns the scheme with the most votes. Ties go to the scheme
// that comes first in Sequential, HashNamed, Timestamped, Mixed.
func (t Tally) Dominant() Scheme {
	best := Sequential
	for _, s := range []Scheme{HashNamed, Timestamped, Mixed} {
		if t.Count(s) > t.Count(best) {
			best = s
		}
	}
	return best
}

// Of classifies a single stem (a file name without path, query or extension).
func Of(stem string) Scheme {
	if isDigits(stem) {
		if len(stem) <= sequentialMaxDigits {
			return Sequential
		}
		return Timestamped
	}
	if len(stem) == 32 && isHex(stem) {
		return HashNamed
	}
	return Mixed
}

// Classify votes over all stems and returns the dominant scheme with the tally.
func Classify(stems []string) (Scheme, Tally) {
	var t Tally
	for _, stem := range stems {
		t.add(Of(stem))
	}
	return t.Dominant(), t
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
