package model

// GitHubColumns is the output schema for the source-hosting source.
var GitHubColumns = []string{
	"username",
	"name",
	"email",
	"location",
	"public_repos",
	"followers",
	"following",
	"total_stars",
	"total_forks",
	"top_languages",
	"common_topics",
}

// GitHubProfile is an accepted GitHub user with repository aggregates.
type GitHubProfile struct {
	Username     string   `json:"username"`
	Name         *string  `json:"name,omitempty"`
	Email        *string  `json:"email,omitempty"`
	Location     *string  `json:"location,omitempty"`
	PublicRepos  int      `json:"public_repos"`
	Followers    int      `json:"followers"`
	Following    int      `json:"following"`
	TotalStars   int      `json:"total_stars"`
	TotalForks   int      `json:"total_forks"`
	TopLanguages []string `json:"top_languages"`
	CommonTopics []string `json:"common_topics"`
}

func (p GitHubProfile) Key() string { return p.Username }

func (p GitHubProfile) Columns() []string { return GitHubColumns }

func (p GitHubProfile) Row() []string {
	return []string{
		p.Username,
		optString(p.Name),
		optString(p.Email),
		optString(p.Location),
		itoa(p.PublicRepos),
		itoa(p.Followers),
		itoa(p.Following),
		itoa(p.TotalStars),
		itoa(p.TotalForks),
		joinList(p.TopLanguages),
		joinList(p.CommonTopics),
	}
}
