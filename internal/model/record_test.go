package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecords_RowMatchesColumns(t *testing.T) {
	records := []Record{
		LeetCodeProfile{Username: "alice"},
		GitHubProfile{Username: "octocat"},
		StackOverflowProfile{UserID: 22656},
	}
	for _, r := range records {
		assert.Len(t, r.Row(), len(r.Columns()), "%T", r)
	}
}

func TestLeetCodeProfile_Row(t *testing.T) {
	p := LeetCodeProfile{
		Username:     "alice",
		Ranking:      12,
		AllSolved:    900,
		EasySolved:   300,
		MediumSolved: 450,
		HardSolved:   150,
	}
	assert.Equal(t, []string{"alice", "12", "", "900", "300", "450", "150"}, p.Row())

	p.Reputation = Ptr(7)
	assert.Equal(t, "7", p.Row()[2])
}

func TestGitHubProfile_Row(t *testing.T) {
	p := GitHubProfile{
		Username:     "octocat",
		Name:         Ptr("The Octocat"),
		PublicRepos:  8,
		Followers:    100,
		Following:    9,
		TotalStars:   42,
		TotalForks:   7,
		TopLanguages: []string{"Go", "Ruby"},
		CommonTopics: []string{"cli", "api"},
	}
	row := p.Row()
	assert.Equal(t, "octocat", row[0])
	assert.Equal(t, "The Octocat", row[1])
	assert.Equal(t, "", row[2], "absent email renders empty")
	assert.Equal(t, "Go; Ruby", row[9])
	assert.Equal(t, "cli; api", row[10])
	assert.Equal(t, "octocat", p.Key())
}

func TestStackOverflowProfile_Row(t *testing.T) {
	p := StackOverflowProfile{
		UserID:             22656,
		DisplayName:        "Jon Skeet",
		AccountID:          Ptr(int64(11683)),
		Reputation:         1_400_000,
		Link:               Ptr("https://stackoverflow.com/users/22656/jon-skeet"),
		QuestionsCount:     5,
		AnswersCount:       5,
		TotalQuestionViews: 1234,
	}
	row := p.Row()
	assert.Equal(t, "22656", row[0])
	assert.Equal(t, "11683", row[2])
	assert.Equal(t, "", row[7])
	assert.Equal(t, "1234", row[12])
	assert.Equal(t, "22656", p.Key())
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "Jörg W Mittag", CleanText("J&#246;rg W Mittag "))
	assert.Equal(t, "Tom & Jerry", CleanText("Tom &amp; Jerry"))
	// Decomposed o + combining diaeresis normalizes to the composed form.
	assert.Equal(t, "J\u00f6rg", CleanText("Jo\u0308rg"))

	assert.Nil(t, CleanOptional(nil))
	assert.Nil(t, CleanOptional(Ptr("   ")))
	assert.Equal(t, "Berlin", *CleanOptional(Ptr(" Berlin")))
}

func TestRunState_Ordinal(t *testing.T) {
	assert.Equal(t, 0, RunStateIdle.Ordinal())
	assert.Equal(t, 4, RunStateDone.Ordinal())
	assert.Less(t, RunStateListing.Ordinal(), RunStateDetailFetch.Ordinal())
	assert.Equal(t, -1, RunState("bogus").Ordinal())
}

func TestColumnsFor(t *testing.T) {
	for _, s := range Sources {
		assert.NotEmpty(t, ColumnsFor(s), s)
	}
	assert.Equal(t, GitHubColumns, ColumnsFor(SourceGitHub))
	assert.Nil(t, ColumnsFor("myspace"))
}
