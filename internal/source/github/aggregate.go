package github

import (
	"sort"

	gh "github.com/google/go-github/v53/github"
)

// RepoAggregate summarizes a user's repositories.
type RepoAggregate struct {
	Stars     int
	Forks     int
	Languages []string // most used first, at most five
	Topics    []string // unique, first-seen order, at most ten
}

// Aggregate sums stars and forks, ranks primary languages by repository
// count (ties broken by name) and collects unique topics.
func Aggregate(repos []*gh.Repository) RepoAggregate {
	var agg RepoAggregate
	langCount := make(map[string]int)
	seenTopic := make(map[string]struct{})

	for _, r := range repos {
		if r == nil {
			continue
		}
		agg.Stars += r.GetStargazersCount()
		agg.Forks += r.GetForksCount()
		if lang := r.GetLanguage(); lang != "" {
			langCount[lang]++
		}
		for _, t := range r.Topics {
			if t == "" {
				continue
			}
			if _, ok := seenTopic[t]; ok || len(agg.Topics) >= maxTopics {
				continue
			}
			seenTopic[t] = struct{}{}
			agg.Topics = append(agg.Topics, t)
		}
	}

	langs := make([]string, 0, len(langCount))
	for l := range langCount {
		langs = append(langs, l)
	}
	sort.Slice(langs, func(i, j int) bool {
		if langCount[langs[i]] != langCount[langs[j]] {
			return langCount[langs[i]] > langCount[langs[j]]
		}
		return langs[i] < langs[j]
	})
	if len(langs) > topLanguages {
		langs = langs[:topLanguages]
	}
	agg.Languages = langs
	return agg
}
