package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/halvdan/waxwing/util"
)

const (
	PollModeOneOf = "oneOf"
	PollModeAnyOf = "anyOf"
)

// QuestionOption is a single poll choice and its current tally.
type QuestionOption struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Votes int    `json:"votes"`
}

// QuestionData is the structured payload of a poll playlist. Values are
// built through NormalizeQuestionData and treated as immutable afterwards;
// tallies change only through recounts or the remote vote bump.
type QuestionData struct {
	Type       string           `json:"type"`
	Mode       string           `json:"mode"`
	Options    []QuestionOption `json:"options"`
	VoterCount int              `json:"voter_count"`
	EndTime    *time.Time       `json:"end_time,omitempty"`
}

// Expired reports whether the poll has passed its end time.
func (q *QuestionData) Expired(now time.Time) bool {
	return q.EndTime != nil && !now.Before(*q.EndTime)
}

// NormalizeQuestionData builds a QuestionData from a raw activity payload,
// resolving the anyOf/oneOf option lists, the votersCount aliases and the
// replies.totalItems fallback for option tallies.
func NormalizeQuestionData(raw map[string]interface{}) (*QuestionData, error) {
	typeTag, _ := raw["type"].(string)
	if typeTag != "Question" {
		return nil, fmt.Errorf("not a Question payload: %q", typeTag)
	}

	q := &QuestionData{Type: "Question"}

	// Mode is implied by which option list is present when not explicit
	if mode, ok := raw["mode"].(string); ok && (mode == PollModeOneOf || mode == PollModeAnyOf) {
		q.Mode = mode
	} else if _, ok := raw["anyOf"]; ok {
		q.Mode = PollModeAnyOf
	} else {
		q.Mode = PollModeOneOf
	}

	rawOptions, ok := raw["options"].([]interface{})
	if !ok {
		if rawOptions, ok = raw["anyOf"].([]interface{}); !ok {
			rawOptions, _ = raw["oneOf"].([]interface{})
		}
	}
	for _, rawOption := range rawOptions {
		option, ok := rawOption.(map[string]interface{})
		if !ok {
			continue
		}
		name, _ := option["name"].(string)
		votes := intValue(option["votes"])
		if _, present := option["votes"]; !present {
			if replies, ok := option["replies"].(map[string]interface{}); ok {
				votes = intValue(replies["totalItems"])
			}
		}
		q.Options = append(q.Options, QuestionOption{Name: name, Type: "Note", Votes: votes})
	}

	q.VoterCount = intValue(raw["voter_count"])
	if q.VoterCount == 0 {
		for _, alias := range []string{"votersCount", "toot:votersCount", "http://joinmastodon.org/ns#votersCount"} {
			if v, ok := raw[alias]; ok {
				q.VoterCount = intValue(v)
				break
			}
		}
	}

	if endTime, ok := raw["endTime"].(string); ok {
		parsed, err := util.ParseLDDate(endTime)
		if err != nil {
			return nil, fmt.Errorf("question endTime: %w", err)
		}
		q.EndTime = parsed
	}

	return q, nil
}

func intValue(v interface{}) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	}
	return 0
}

// QuestionDataFromJSON decodes the stored type_data column.
func QuestionDataFromJSON(data string) (*QuestionData, error) {
	if data == "" {
		return nil, nil
	}
	var q QuestionData
	if err := json.Unmarshal([]byte(data), &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// ToJSON renders the payload for the type_data column.
func (q *QuestionData) ToJSON() (string, error) {
	buf, err := json.Marshal(q)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

// PollSummaryOption is one option row of the consumer-facing summary.
type PollSummaryOption struct {
	Title      string `json:"title"`
	VotesCount int    `json:"votes_count"`
}

// PollSummary is the consumer-facing poll JSON.
type PollSummary struct {
	Id          string              `json:"id"`
	ExpiresAt   *string             `json:"expires_at"`
	Expired     bool                `json:"expired"`
	Multiple    bool                `json:"multiple"`
	VotesCount  int                 `json:"votes_count"`
	VotersCount int                 `json:"voters_count"`
	Voted       bool                `json:"voted"`
	OwnVotes    []int               `json:"own_votes"`
	Options     []PollSummaryOption `json:"options"`
}

// Summary builds the consumer-facing poll JSON. ownValues are the option
// names the viewing identity voted for; voted additionally covers the poll
// author, who never votes but counts as having participated.
func (q *QuestionData) Summary(playlistId string, now time.Time, voted bool, ownValues []string) *PollSummary {
	summary := &PollSummary{
		Id:          playlistId,
		Multiple:    q.Mode == PollModeAnyOf,
		VotersCount: q.VoterCount,
		Voted:       voted,
		OwnVotes:    []int{},
		Options:     []PollSummaryOption{},
	}

	if q.EndTime != nil {
		expiresAt := util.FormatLDDate(*q.EndTime)
		summary.ExpiresAt = &expiresAt
		summary.Expired = q.Expired(now)
	}

	optionIndex := make(map[string]int, len(q.Options))
	for index, option := range q.Options {
		summary.Options = append(summary.Options, PollSummaryOption{
			Title:      option.Name,
			VotesCount: option.Votes,
		})
		summary.VotesCount += option.Votes
		optionIndex[option.Name] = index
	}

	for _, value := range ownValues {
		if index, ok := optionIndex[value]; ok {
			summary.OwnVotes = append(summary.OwnVotes, index)
			summary.Voted = true
		}
	}

	return summary
}
