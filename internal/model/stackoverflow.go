package model

import "strconv"

// StackOverflowColumns is the output schema for the Q&A source.
var StackOverflowColumns = []string{
	"User_ID",
	"Display_Name",
	"Account_Id",
	"Reputation",
	"Gold_Badges",
	"Silver_Badges",
	"Bronze_Badges",
	"Location",
	"Website_URL",
	"Link",
	"Questions_Count",
	"Answers_Count",
	"Total_Question_Views",
}

// StackOverflowProfile is an accepted Stack Overflow user with recent
// question/answer activity.
type StackOverflowProfile struct {
	UserID             int64   `json:"user_id"`
	DisplayName        string  `json:"display_name"`
	AccountID          *int64  `json:"account_id,omitempty"`
	Reputation         int     `json:"reputation"`
	GoldBadges         int     `json:"gold_badges"`
	SilverBadges       int     `json:"silver_badges"`
	BronzeBadges       int     `json:"bronze_badges"`
	Location           *string `json:"location,omitempty"`
	WebsiteURL         *string `json:"website_url,omitempty"`
	Link               *string `json:"link,omitempty"`
	QuestionsCount     int     `json:"questions_count"`
	AnswersCount       int     `json:"answers_count"`
	TotalQuestionViews int     `json:"total_question_views"`
}

func (p StackOverflowProfile) Key() string { return strconv.FormatInt(p.UserID, 10) }

func (p StackOverflowProfile) Columns() []string { return StackOverflowColumns }

func (p StackOverflowProfile) Row() []string {
	return []string{
		strconv.FormatInt(p.UserID, 10),
		p.DisplayName,
		optInt64(p.AccountID),
		itoa(p.Reputation),
		itoa(p.GoldBadges),
		itoa(p.SilverBadges),
		itoa(p.BronzeBadges),
		optString(p.Location),
		optString(p.WebsiteURL),
		optString(p.Link),
		itoa(p.QuestionsCount),
		itoa(p.AnswersCount),
		itoa(p.TotalQuestionViews),
	}
}
