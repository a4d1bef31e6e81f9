package interaction

import (
	"strings"
	"time"
	"unicode"

	"github.com/JakeFAU/humancrawl/internal/behavior"
)

// Backspace is the key name emitted for a typo correction.
const Backspace = "[BACKSPACE]"

// Keystroke is one key press in a typing sequence.
type Keystroke struct {
	Char         string        `json:"char"`
	Delay        time.Duration `json:"delay_ns"`
	IsTypo       bool          `json:"is_typo,omitempty"`
	IsCorrection bool          `json:"is_correction,omitempty"`
}

type typingTier struct {
	name      string
	weight    float64
	wpmLo     float64
	wpmHi     float64
	errorRate float64
}

var typingTiers = []typingTier{
	{name: "hunt_and_peck", weight: 0.15, wpmLo: 15, wpmHi: 30, errorRate: 0.08},
	{name: "average", weight: 0.45, wpmLo: 35, wpmHi: 55, errorRate: 0.04},
	{name: "proficient", weight: 0.30, wpmLo: 55, wpmHi: 80, errorRate: 0.02},
	{name: "expert", weight: 0.10, wpmLo: 80, wpmHi: 120, errorRate: 0.01},
}

var typingWeights = tierWeights(len(typingTiers), func(i int) float64 { return typingTiers[i].weight })

// QWERTY neighbours for lowercase keys.
var keyboardNeighbors = map[rune]string{
	'1': "2q", '2': "13wq", '3': "24we", '4': "35er", '5': "46rt",
	'6': "57ty", '7': "68yu", '8': "79ui", '9': "80io", '0': "9op",
	'q': "wa12", 'w': "qeas23", 'e': "wrsd34", 'r': "etdf45", 't': "ryfg56",
	'y': "tugh67", 'u': "yihj78", 'i': "uojk89", 'o': "ipkl90", 'p': "ol0",
	'a': "qwsz", 's': "adwexz", 'd': "sferxc", 'f': "dgrtcv", 'g': "fhtyvb",
	'h': "gjyubn", 'j': "hkuinm", 'k': "jliom", 'l': "kop",
	'z': "asx", 'x': "zcsd", 'c': "xvdf", 'v': "cbfg", 'b': "vngh",
	'n': "bmhj", 'm': "njk",
}

const (
	charsPerWord  = 5.0
	minTypingWPM  = 5.0
	spaceMult     = 0.8
	upperMult     = 1.5
	punctMult     = 1.4
	digitMult     = 1.3
	noticeTypoMin = 1.5
	noticeTypoMax = 2.5
)

// TypingTier returns the name of the skill tier drawn for the session.
func (s *Simulator) TypingTier() string {
	tier, _ := s.typingSkill()
	return tier.name
}

// TypingPattern produces the keystrokes for text, including typos and their
// corrections.
func (s *Simulator) TypingPattern(text string) []Keystroke {
	if text == "" {
		return nil
	}
	tier, wpm := s.typingSkill()
	snap := s.session.Snapshot()
	wpm *= 1 - 0.2*snap.Fatigue
	wpm /= behavior.CircadianMultiplier(s.clock.Now().Hour())
	wpm *= snap.Profile.Speed()
	if wpm < minTypingWPM {
		wpm = minTypingWPM
	}
	perChar := 60 / (wpm * charsPerWord)

	out := make([]Keystroke, 0, len(text))
	for _, r := range text {
		delay := perChar * charMultiplier(r) * s.sampler.Uniform(0.7, 1.3)
		if s.sampler.Chance(tier.errorRate) {
			if wrong, ok := s.nearbyKey(r); ok {
				out = append(out,
					Keystroke{Char: string(wrong), Delay: seconds(delay), IsTypo: true},
					Keystroke{Char: Backspace, Delay: seconds(perChar * s.sampler.Uniform(noticeTypoMin, noticeTypoMax)), IsCorrection: true},
				)
				delay = perChar * s.sampler.Uniform(0.8, 1.2)
			}
		}
		out = append(out, Keystroke{Char: string(r), Delay: seconds(delay)})
	}
	return out
}

// typingSkill draws the tier and base WPM once per session.
func (s *Simulator) typingSkill() (typingTier, float64) {
	id := s.session.Snapshot().ID
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tierSession != id {
		s.tier = typingTiers[s.sampler.Weighted(typingWeights)]
		s.sessionWPM = s.sampler.Uniform(s.tier.wpmLo, s.tier.wpmHi)
		s.tierSession = id
	}
	return s.tier, s.sessionWPM
}

func (s *Simulator) nearbyKey(r rune) (rune, bool) {
	lower := unicode.ToLower(r)
	neighbors := []rune(keyboardNeighbors[lower])
	if len(neighbors) == 0 {
		return 0, false
	}
	wrong := neighbors[s.sampler.Intn(len(neighbors))]
	if unicode.IsUpper(r) {
		wrong = unicode.ToUpper(wrong)
	}
	return wrong, true
}

func charMultiplier(r rune) float64 {
	switch {
	case r == ' ':
		return spaceMult
	case unicode.IsUpper(r):
		return upperMult
	case unicode.IsDigit(r):
		return digitMult
	case unicode.IsPunct(r) || strings.ContainsRune("+=<>$^`|~", r):
		return punctMult
	default:
		return 1
	}
}
