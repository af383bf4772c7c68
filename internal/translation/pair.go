package translation

import (
	"sort"
	"strings"

	"golang.org/x/text/language"

	apperrors "github.com/GriffinCanCode/live-translator/backend/platform/internal/errors"
)

// Pair is a source and target language, as canonical BCP 47 base codes.
type Pair struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// String returns "source->target".
func (p Pair) String() string { return p.Source + "->" + p.Target }

// DefaultPairs are the directions the bundled translation models cover.
var DefaultPairs = []Pair{
	{"en", "es"}, {"es", "en"},
	{"en", "fr"}, {"fr", "en"},
	{"en", "de"}, {"de", "en"},
	{"en", "zh"}, {"zh", "en"},
	{"en", "ja"}, {"ja", "en"},
}

// Supported is a set of allowed translation directions.
type Supported struct {
	pairs map[Pair]struct{}
}

// NewSupported builds a set from pairs. Codes are canonicalized; invalid codes are an error.
func NewSupported(pairs []Pair) (*Supported, error) {
	s := &Supported{pairs: make(map[Pair]struct{}, len(pairs))}
	for _, p := range pairs {
		src, err := canonical(p.Source)
		if err != nil {
			return nil, err
		}
		tgt, err := canonical(p.Target)
		if err != nil {
			return nil, err
		}
		s.pairs[Pair{src, tgt}] = struct{}{}
	}
	return s, nil
}

// DefaultSupported returns the set built from DefaultPairs.
func DefaultSupported() *Supported {
	s, _ := NewSupported(DefaultPairs)
	return s
}

// ParseSupported reads a comma separated list like "en:es,es:en".
func ParseSupported(list string) (*Supported, error) {
	var pairs []Pair
	for _, item := range strings.Split(list, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		src, tgt, ok := strings.Cut(item, ":")
		if !ok {
			return nil, apperrors.Newf(apperrors.InvalidConfiguration, "language pair %q must be source:target", item)
		}
		pairs = append(pairs, Pair{strings.TrimSpace(src), strings.TrimSpace(tgt)})
	}
	if len(pairs) == 0 {
		return nil, apperrors.New(apperrors.InvalidConfiguration, "no language pairs configured")
	}
	return NewSupported(pairs)
}

// Pairs returns the set in a stable order.
func (s *Supported) Pairs() []Pair {
	out := make([]Pair, 0, len(s.pairs))
	for p := range s.pairs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Target < out[j].Target
	})
	return out
}

// Parse canonicalizes src and tgt and checks that the direction is supported.
func (s *Supported) Parse(src, tgt string) (Pair, error) {
	cs, err := canonical(src)
	if err != nil {
		return Pair{}, unsupported(src, tgt, err)
	}
	ct, err := canonical(tgt)
	if err != nil {
		return Pair{}, unsupported(src, tgt, err)
	}
	p := Pair{cs, ct}
	if _, ok := s.pairs[p]; !ok {
		return Pair{}, unsupported(src, tgt, nil)
	}
	return p, nil
}

// ParsePair validates against DefaultPairs.
func ParsePair(src, tgt string) (Pair, error) {
	return DefaultSupported().Parse(src, tgt)
}

func canonical(code string) (string, error) {
	tag, err := language.Parse(strings.TrimSpace(code))
	if err != nil {
		return "", apperrors.Wrapf(err, apperrors.InvalidConfiguration, "invalid language code %q", code)
	}
	base, _ := tag.Base()
	return base.String(), nil
}

func unsupported(src, tgt string, cause error) *apperrors.AppError {
	msg := "unsupported language pair " + src + "->" + tgt
	var e *apperrors.AppError
	if cause != nil {
		e = apperrors.Wrap(cause, apperrors.UnsupportedLanguagePair, msg)
	} else {
		e = apperrors.New(apperrors.UnsupportedLanguagePair, msg)
	}
	return e.WithMetadata("source", src).WithMetadata("target", tgt)
}
