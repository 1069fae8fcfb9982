package model

// LeetCodeColumns is the output schema for the coding-judge source.
var LeetCodeColumns = []string{
	"Username",
	"Ranking",
	"Reputation",
	"All_Solved",
	"Easy_Solved",
	"Medium_Solved",
	"Hard_Solved",
}

// LeetCodeProfile is an accepted LeetCode user.
type LeetCodeProfile struct {
	Username     string `json:"username"`
	Ranking      int    `json:"ranking"`
	Reputation   *int   `json:"reputation,omitempty"`
	AllSolved    int    `json:"all_solved"`
	EasySolved   int    `json:"easy_solved"`
	MediumSolved int    `json:"medium_solved"`
	HardSolved   int    `json:"hard_solved"`
}

func (p LeetCodeProfile) Key() string { return p.Username }

func (p LeetCodeProfile) Columns() []string { return LeetCodeColumns }

func (p LeetCodeProfile) Row() []string {
	return []string{
		p.Username,
		itoa(p.Ranking),
		optInt(p.Reputation),
		itoa(p.AllSolved),
		itoa(p.EasySolved),
		itoa(p.MediumSolved),
		itoa(p.HardSolved),
	}
}
