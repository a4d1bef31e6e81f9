// Package behavior models the simulated visitor: its persona, the session it
// is browsing in, and the hour-of-day energy curve that scales its pace.
package behavior

import "github.com/JakeFAU/humancrawl/internal/stats"

// ProfileName identifies one of the fixed personas.
type ProfileName string

// Known personas.
const (
	QuickScanner       ProfileName = "quick_scanner"
	ThoroughResearcher ProfileName = "thorough_researcher"
	CasualBrowser      ProfileName = "casual_browser"
	MobileUser         ProfileName = "mobile_user"
	PriceHunter        ProfileName = "price_hunter"
)

// Profile is an immutable persona. Multipliers above one mean faster reading
// or scrolling and longer attention.
type Profile struct {
	Name              ProfileName
	ReadingSpeedMult  float64
	ScrollSpeedMult   float64
	AttentionSpanMult float64
	BounceRate        float64
	PagesPerSession   [2]int
	Personality       string
	Mobile            bool
}

// Speed is the overall pace multiplier used for delays and pointer motion.
func (p Profile) Speed() float64 {
	return (p.ReadingSpeedMult + p.ScrollSpeedMult) / 2
}

type weightedProfile struct {
	profile Profile
	weight  float64
}

var profiles = []weightedProfile{
	{Profile{
		Name: CasualBrowser, ReadingSpeedMult: 1.0, ScrollSpeedMult: 1.0, AttentionSpanMult: 1.0,
		BounceRate: 0.35, PagesPerSession: [2]int{2, 8}, Personality: "relaxed",
	}, 0.35},
	{Profile{
		Name: QuickScanner, ReadingSpeedMult: 1.8, ScrollSpeedMult: 1.5, AttentionSpanMult: 0.6,
		BounceRate: 0.55, PagesPerSession: [2]int{1, 4}, Personality: "impatient",
	}, 0.25},
	{Profile{
		Name: MobileUser, ReadingSpeedMult: 1.1, ScrollSpeedMult: 1.3, AttentionSpanMult: 0.8,
		BounceRate: 0.45, PagesPerSession: [2]int{1, 6}, Personality: "distracted", Mobile: true,
	}, 0.20},
	{Profile{
		Name: PriceHunter, ReadingSpeedMult: 1.4, ScrollSpeedMult: 1.2, AttentionSpanMult: 0.9,
		BounceRate: 0.25, PagesPerSession: [2]int{3, 12}, Personality: "focused",
	}, 0.15},
	{Profile{
		Name: ThoroughResearcher, ReadingSpeedMult: 0.7, ScrollSpeedMult: 0.7, AttentionSpanMult: 1.8,
		BounceRate: 0.10, PagesPerSession: [2]int{5, 15}, Personality: "methodical",
	}, 0.05},
}

// Profiles returns every persona in selection order.
func Profiles() []Profile {
	out := make([]Profile, len(profiles))
	for i, wp := range profiles {
		out[i] = wp.profile
	}
	return out
}

// Weight returns the prior selection weight of the named persona.
func Weight(name ProfileName) float64 {
	for _, wp := range profiles {
		if wp.profile.Name == name {
			return wp.weight
		}
	}
	return 0
}

// Lookup returns the persona with the given name.
func Lookup(name ProfileName) (Profile, bool) {
	for _, wp := range profiles {
		if wp.profile.Name == name {
			return wp.profile, true
		}
	}
	return Profile{}, false
}

// SelectProfile draws a persona using the fixed prior weights.
func SelectProfile(s *stats.Sampler) Profile {
	weights := make([]float64, len(profiles))
	for i, wp := range profiles {
		weights[i] = wp.weight
	}
	return profiles[s.Weighted(weights)].profile
}
